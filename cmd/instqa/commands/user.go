package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/instqa-go/internal/auth"
	"github.com/54b3r/instqa-go/internal/logging"
	"github.com/54b3r/instqa-go/internal/store"
)

// NewUserCmd constructs the `instqa user` command group for account
// administration. Admin accounts can only be created here.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCmd(), newUserDeleteCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var name, email, password string
	var admin bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Long: `Create a user account directly in the session store.

This is the only way to create an admin: signup over the API always creates
regular users. Admins can read and delete every chat.

The password may be passed with --password or through INSTQA_USER_PASSWORD
to keep it out of shell history.

Examples:
  instqa user create --name "Ops" --email ops@example.org --admin
  INSTQA_USER_PASSWORD=... instqa user create --email agent@example.org`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if password == "" {
				password = os.Getenv("INSTQA_USER_PASSWORD")
			}
			if name == "" {
				name = email
			}

			st, err := openStore(os.Getenv("INSTQA_DB_PATH"), log)
			if err != nil {
				return fmt.Errorf("user create: %w", err)
			}
			defer func() { _ = st.Close() }()

			// No issuer: the CLI never hands out tokens.
			u, err := auth.NewService(st, nil).CreateUser(ctx, name, email, password, admin)
			if errors.Is(err, store.ErrEmailTaken) {
				return fmt.Errorf("user create: %s is already registered", email)
			}
			if err != nil {
				return fmt.Errorf("user create: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s) admin=%t\n", u.ID, u.Email, u.IsAdmin)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (default: the email)")
	cmd.Flags().StringVar(&email, "email", "", "Login email address")
	cmd.Flags().StringVar(&password, "password", "", "Password (default: $INSTQA_USER_PASSWORD)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant access to every chat")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newUserDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [email]",
		Short: "Delete a user account and all of its chats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			st, err := openStore(os.Getenv("INSTQA_DB_PATH"), log)
			if err != nil {
				return fmt.Errorf("user delete: %w", err)
			}
			defer func() { _ = st.Close() }()

			u, err := st.GetUserByEmail(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("user delete: no user with email %s", args[0])
			}
			if err != nil {
				return fmt.Errorf("user delete: %w", err)
			}
			if err := st.DeleteUser(ctx, u.ID); err != nil {
				return fmt.Errorf("user delete: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted user %d (%s)\n", u.ID, u.Email)
			return nil
		},
	}
}
