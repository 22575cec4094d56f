package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the backend tables, indexes and change-feed triggers",
	Long: `Applies the schema for the configured backend. Every statement is
idempotent, so running it against an existing database is safe.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema ready for backend %q\n", application.Config.Backend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
