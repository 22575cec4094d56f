package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join the current user to a room",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRoom(); err != nil {
			return err
		}
		c, err := application.Coordinator()
		if err != nil {
			return err
		}
		if err := c.JoinRoom(cmd.Context(), roomFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Joined %s\n", roomFlag)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
