package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "0.1.0" // Set at build time with -ldflags "-X .../cmd.version=..."

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version number of roomsync",
	Annotations: map[string]string{"skipApp": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "roomsync v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
