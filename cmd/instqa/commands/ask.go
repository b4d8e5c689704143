package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/instqa-go/internal/embedder"
	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/rag"
	"github.com/54b3r/instqa-go/internal/retrieval"
)

// NewAskCmd constructs the `instqa ask` command, which retrieves context for
// a single question and prints the answer to stdout. Nothing is persisted.
func NewAskCmd() *cobra.Command {
	var topK int
	var contextOnly bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question from the indexed documents",
		Long: `Answer one question from the indexed documents and print the reply.

The question goes through the same path as a chat message: the override
table first, then semantic search over the index, then the answer service.
No chat or message is stored. Use --context-only to print the retrieved
context without calling the answer service.

Examples:
  instqa ask "what are the opening hours?"
  instqa ask --context-only --top-k 5 "how do I apply?"
  instqa ask "نبذة عن المؤسسة"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			out := cmd.OutOrStdout()

			s, err := resolveSettings()
			if err != nil {
				return err
			}
			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise embedder: %w", err)
			}

			index, err := openIndexBackend(s, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer index.Close()

			identity, err := rag.ResolveIdentity(ctx, emb)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			searcher, err := index.load(ctx, identity)
			switch {
			case errors.Is(err, rag.ErrIndexNotFound):
				log.Warn("no index found, only overrides can answer; run `instqa ingest`", slog.String("reason", err.Error()))
			case err != nil:
				return fmt.Errorf("ask: %w", err)
			}

			engine, err := buildEngine(s, emb, searcher, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			question := strings.Join(args, " ")
			res := engine.Retrieve(ctx, question, topK)
			if contextOnly || res.Status != retrieval.StatusOK {
				fmt.Fprintln(out, res.Text())
				if res.Status == retrieval.StatusError {
					return errors.New("ask: retrieval failed")
				}
				return nil
			}

			ans, _, flush, err := buildAnswerer(ctx, s, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer flush()

			reply, err := ans.Answer(ctx, question, res.Context)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out, reply)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: RETRIEVAL_TOP_K)")
	cmd.Flags().BoolVar(&contextOnly, "context-only", false, "Print the retrieved context instead of an answer")

	return cmd
}
