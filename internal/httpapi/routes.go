package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	s.E.POST("/rooms/:room/open", s.openRoom)
	s.E.POST("/rooms/close", s.closeRoom)
	s.E.POST("/rooms/:room/join", s.joinRoom)

	s.E.POST("/messages", s.sendMessage)
	s.E.POST("/uploads", s.upload)

	s.E.POST("/reactions/toggle", s.toggleReaction)
	s.E.POST("/reactions", s.addReaction)
	s.E.DELETE("/reactions", s.removeReaction)

	s.E.POST("/typing", s.markTyping)

	s.E.GET("/snapshot", s.snapshot)
	s.E.GET("/ws", s.watch)
	s.E.GET("/metrics", s.metricsHandler())
	s.E.GET("/files/*", s.file)

	s.E.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
}
