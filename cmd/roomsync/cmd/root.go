package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/careerct/room-whisper-sync/internal/app"
	"github.com/careerct/room-whisper-sync/internal/config"
	"github.com/careerct/room-whisper-sync/internal/logging"
)

var (
	roomFlag    string
	userFlag    string
	backendFlag string

	application *app.App
)

var rootCmd = &cobra.Command{
	Use:   "roomsync",
	Short: "Keep a local view of a chat room in sync with its backend",
	Long: `roomsync opens one chat room against a shared backend and keeps a local,
read-only snapshot of its messages, reactions, members and typing users.

Configuration comes from the environment (and an optional .env file).
ROOMSYNC_BACKEND selects memory, surreal or postgres.

Use "roomsync [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["skipApp"] == "true" {
			return nil
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if userFlag != "" {
			cfg.UserID = userFlag
		}
		if backendFlag != "" {
			cfg.Backend = backendFlag
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		logger := logging.New(cfg.LogFormat, cfg.LogLevel)
		application = app.New(cmd.Context(), cfg, logger)
		return nil
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if application != nil {
		if cerr := application.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", cerr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&roomFlag, "room", "r", "", "Room to operate on")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Current user id (overrides ROOMSYNC_USER_ID)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Backend to use: memory, surreal or postgres (overrides ROOMSYNC_BACKEND)")
}

// requireRoom fails when --room was not given.
func requireRoom() error {
	if roomFlag == "" {
		return fmt.Errorf("--room is required")
	}
	return nil
}
