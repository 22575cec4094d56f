package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	reactAdd    bool
	reactRemove bool
)

var reactCmd = &cobra.Command{
	Use:   "react <message-id> <emoji>",
	Short: "Toggle, add or remove the current user's reaction on a message",
	Long: `Toggles the reaction by default: it is removed when the current snapshot
shows the current user already reacted with that emoji, and added otherwise.

Examples:
  roomsync react --room general 0192f3c1-... 👍
  roomsync react --room general --remove 0192f3c1-... 👍`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if reactAdd && reactRemove {
			return fmt.Errorf("--add and --remove are mutually exclusive")
		}
		c, err := openRoom(cmd.Context())
		if err != nil {
			return err
		}
		messageID, emoji := args[0], args[1]
		switch {
		case reactAdd:
			err = c.AddReaction(cmd.Context(), messageID, emoji)
		case reactRemove:
			err = c.RemoveReaction(cmd.Context(), messageID, emoji)
		default:
			action, terr := c.ToggleReaction(cmd.Context(), messageID, emoji)
			if terr != nil {
				return terr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reaction %s\n", action)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Reaction updated")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reactCmd)
	reactCmd.Flags().BoolVar(&reactAdd, "add", false, "Add the reaction, ignoring a duplicate")
	reactCmd.Flags().BoolVar(&reactRemove, "remove", false, "Remove the reaction")
}
