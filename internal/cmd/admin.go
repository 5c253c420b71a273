package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage administrator privileges",
}

var adminGrantCmd = &cobra.Command{
	Use:   "grant <email>",
	Short: "Grant the administrator flag to an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAdmin(cmd, args[0], true)
	},
}

var adminRevokeCmd = &cobra.Command{
	Use:   "revoke <email>",
	Short: "Revoke the administrator flag from an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAdmin(cmd, args[0], false)
	},
}

func setAdmin(cmd *cobra.Command, email string, admin bool) error {
	ctx := cmd.Context()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := rt.newIdentity(ctx, nil)
	if err != nil {
		return err
	}

	if err := svc.SetAdmin(ctx, email, admin); err != nil {
		return err
	}

	verb := "granted to"
	if !admin {
		verb = "revoked from"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "administrator flag %s %s\n", verb, email)
	return nil
}

func init() {
	adminCmd.AddCommand(adminGrantCmd)
	adminCmd.AddCommand(adminRevokeCmd)
	rootCmd.AddCommand(adminCmd)
}
