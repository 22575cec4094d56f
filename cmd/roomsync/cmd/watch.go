package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/careerct/room-whisper-sync/internal/domain"
)

var watchFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open a room and print every snapshot until interrupted",
	Long: `Opens the room and prints each published snapshot. Background fetch
failures are reported on stderr; the last good snapshot stays current.

Output formats:
  text - Human-readable summary (default)
  json - One snapshot per line`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchFormat != "text" && watchFormat != "json" {
			return fmt.Errorf("unsupported output format %q, use 'text' or 'json'", watchFormat)
		}
		ctx := cmd.Context()
		c, err := openRoom(ctx)
		if err != nil {
			return err
		}

		snaps := c.Watch(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-c.Errors():
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
			case snap, ok := <-snaps:
				if !ok {
					return nil
				}
				if err := printSnapshot(cmd.OutOrStdout(), snap, watchFormat); err != nil {
					return err
				}
			}
		}
	},
}

func printSnapshot(w io.Writer, snap domain.RoomSnapshot, format string) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(snap)
	}

	fmt.Fprintf(w, "== %s (generation %d) ==\n", snap.RoomID, snap.Generation)
	for _, m := range snap.Messages {
		author := m.AuthorName
		if author == "" {
			author = m.AuthorID
		}
		fmt.Fprintf(w, "[%s] %s: %s", m.CreatedAt.Format("15:04:05"), author, m.Content)
		if m.Attachment != nil {
			fmt.Fprintf(w, " <%s>", m.Attachment.URL)
		}
		for _, rc := range m.ReactionCounts {
			mark := ""
			if rc.ReactedByCurrentUser {
				mark = "*"
			}
			fmt.Fprintf(w, " %s%d%s", rc.Emoji, rc.Count, mark)
		}
		fmt.Fprintf(w, "  (%s)\n", m.ID)
	}

	names := make([]string, 0, len(snap.Members))
	for _, m := range snap.Members {
		names = append(names, fmt.Sprintf("%s (%s)", m.Username, m.PresenceStatus))
	}
	fmt.Fprintf(w, "Members: %s\n", strings.Join(names, ", "))
	if len(snap.TypingUsers) > 0 {
		fmt.Fprintf(w, "Typing: %s\n", strings.Join(snap.TypingUsers, ", "))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "text", "Output format (text, json)")
}
