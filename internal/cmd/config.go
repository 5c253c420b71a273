package cmd

import (
	"fmt"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		redacted := *cfg
		redacted.Auth.SigningKey = "********"

		fmt.Fprintln(cmd.OutOrStdout(), print.MaybeHighlightJSON(redacted))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
