// Package commands defines all Cobra CLI commands for the instqa binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/instqa-go/internal/audit"
	"github.com/54b3r/instqa-go/internal/config"
	"github.com/54b3r/instqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfig is the parsed YAML file (empty when none was found). It is
// kept for settings with no env var equivalent, such as the override table.
var loadedConfig = &config.Config{}

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "instqa",
		Short: "instqa answers questions about one institution from its own documents",
		Long: `instqa is a retrieval-augmented question answering service for a single
institution.

It ingests the institution's scraped pages into a vector index, retrieves the
passages relevant to each question, and asks an answer service to reply from
those passages only. Chats and messages are stored per user in SQLite.

Settings are read from environment variables, a .env file, or a YAML config
file (~/.instqa/config.yaml or ./instqa.yaml). Env vars always win.
See 'instqa --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}

			cfg, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}
			loadedConfig = cfg

			// Rebuild the logger: the YAML file may have set LOG_LEVEL/LOG_FORMAT.
			audit.LogCommandStart(logging.New(), cmd.Name(), cfg.Path, len(cfg.Retrieval.Overrides))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.instqa/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; a missing file is ignored")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewUserCmd(),
		NewVersionCmd(),
	)

	return root
}
