package cmd

import (
	"github.com/spf13/cobra"
)

var typingCmd = &cobra.Command{
	Use:   "typing",
	Short: "Signal that the current user is typing in a room",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openRoom(cmd.Context())
		if err != nil {
			return err
		}
		return c.MarkTyping(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(typingCmd)
}
