package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/userfile"
	"cryptoSignalBot/internal/storage"
)

func newUsersCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage subscribed accounts",
	}
	cmd.AddCommand(newUsersImportCmd(env), newUsersListCmd(env))
	return cmd
}

func newUsersImportCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "import <users.yaml>",
		Short: "Upsert every account in a YAML users file into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := userfile.Load(args[0])
			if err != nil {
				return err
			}
			return env.withBackend(func(cfg *config.Config, b *storage.Backend) error {
				for _, acct := range accounts {
					if err := b.Users.UpsertAccount(cmd.Context(), acct); err != nil {
						return fmt.Errorf("import user %d: %w", acct.UserID, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d users into %s storage\n", len(accounts), cfg.DBDriver)
				return nil
			})
		},
	}
}

func newUsersListCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts that would receive the next signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withBackend(func(cfg *config.Config, b *storage.Backend) error {
				users, err := b.Directory.ListEligibleUsers(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USER\tEXCHANGE\tSUBSCRIPTION\tEXPIRES")
				for _, u := range users {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.UserID, u.Exchange, u.SubscriptionType, u.SubscriptionEnd.UTC().Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}
