package app

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Serve runs the HTTP server and the typing janitor until ctx is done. When
// room is set it is joined and opened before the server starts.
func (a *App) Serve(ctx context.Context, room string) error {
	srv, err := a.Server()
	if err != nil {
		return err
	}
	j, err := a.Janitor()
	if err != nil {
		return err
	}

	if room != "" {
		c, err := a.Coordinator()
		if err != nil {
			return err
		}
		if err := c.JoinRoom(ctx, room); err != nil {
			return err
		}
		if err := c.OpenRoom(ctx, room); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		j.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Start(gctx, a.Config.HTTPAddr)
	})
	return g.Wait()
}
