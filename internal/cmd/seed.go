package cmd

import (
	"github.com/goliatone/go-portal/identity"
	"github.com/spf13/cobra"
)

var seedPassword string

// demo accounts defined in data/fixtures/demo.yml
var seedAccounts = []string{"demo@example.com", "admin@example.com"}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the demo accounts and sample dashboard data",
	Long: `Load the demo fixtures: a customer account with a subscription,
services, invoices and support tickets, plus an administrator account.
Every table named in the fixtures is truncated first, so never run it
against a database holding real accounts.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rt, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.migrate(ctx); err != nil {
			return err
		}

		if err := rt.persistence.Seed(ctx); err != nil {
			return err
		}

		hash, err := identity.HashPassword(seedPassword, rt.cfg.Auth.BcryptCost)
		if err != nil {
			return err
		}

		users := identity.NewUsersRepository(rt.db)
		lgr := rt.logger.GetLogger("seed")
		for _, email := range seedAccounts {
			user, err := users.GetByEmail(ctx, email)
			if err != nil {
				return err
			}
			if err := users.ResetPassword(ctx, user.ID, hash); err != nil {
				return err
			}
			lgr.Info("demo account ready", "email", email)
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPassword, "password", "demo-password", "password set on the demo accounts")
	rootCmd.AddCommand(seedCmd)
}
