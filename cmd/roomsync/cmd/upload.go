package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadContent string

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file and send it as a message attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		c, err := openRoom(cmd.Context())
		if err != nil {
			return err
		}
		if err := c.SendFile(cmd.Context(), uploadContent, data, filepath.Base(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%d bytes)\n", filepath.Base(args[0]), len(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVarP(&uploadContent, "message", "m", "", "Text sent alongside the attachment")
}
