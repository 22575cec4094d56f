package httpapi

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
)

const writeWait = 10 * time.Second

// watch streams every published snapshot as a JSON text frame until the
// client goes away. Client frames are ignored.
func (s *Server) watch(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Served to a presentation layer on the same host.
		InsecureSkipVerify: true,
	})
	if err != nil {
		FromContext(c.Request().Context()).Warn("Failed to upgrade connection to WebSocket", "error", err)
		return nil
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request().Context())
	logger := FromContext(ctx)
	logger.Debug("Snapshot stream opened")

	for snap := range s.engine.Watch(ctx) {
		wctx, cancel := context.WithTimeout(ctx, writeWait)
		err := wsjson.Write(wctx, conn, snap)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Warn("WebSocket write error", "error", err)
			}
			return nil
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return nil
}
