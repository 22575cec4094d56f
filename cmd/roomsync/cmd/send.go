package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <text>...",
	Short: "Send a message to a room",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openRoom(cmd.Context())
		if err != nil {
			return err
		}
		if err := c.SendMessage(cmd.Context(), strings.Join(args, " "), nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Message sent")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
