package cmd

import (
	"github.com/spf13/cobra"
)

var serveSchema bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync engine over HTTP and a snapshot websocket",
	Long: `Starts the HTTP API on HTTP_ADDR together with the typing janitor.
With --room the room is joined and opened before the server starts;
otherwise clients open one with POST /rooms/:room/open.

Examples:
  roomsync serve --room general
  roomsync serve --backend postgres --schema`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveSchema {
			if err := application.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
		}
		return application.Serve(cmd.Context(), roomFlag)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveSchema, "schema", false, "Apply the backend schema before serving")
}
