package cmd

import (
	"context"

	"github.com/careerct/room-whisper-sync/internal/roomsync"
)

// openRoom opens --room so that mutations have a session to run against.
func openRoom(ctx context.Context) (*roomsync.Coordinator, error) {
	if err := requireRoom(); err != nil {
		return nil, err
	}
	c, err := application.Coordinator()
	if err != nil {
		return nil, err
	}
	if err := c.OpenRoom(ctx, roomFlag); err != nil {
		return nil, err
	}
	return c, nil
}
