package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
)

func (s *Server) openRoom(c echo.Context) error {
	room := c.Param("room")
	if err := s.engine.OpenRoom(c.Request().Context(), room); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RoomResponse{RoomID: room, State: string(s.engine.State())})
}

func (s *Server) closeRoom(c echo.Context) error {
	s.engine.CloseRoom()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) joinRoom(c echo.Context) error {
	if err := s.engine.JoinRoom(c.Request().Context(), c.Param("room")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) sendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := s.engine.SendMessage(c.Request().Context(), req.Content, req.Attachment); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) upload(c echo.Context) error {
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, s.maxBytes+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > s.maxBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	if err := s.engine.SendFile(c.Request().Context(), c.FormValue("content"), data, fh.Filename); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) bindReaction(c echo.Context) (ReactionRequest, error) {
	var req ReactionRequest
	if err := c.Bind(&req); err != nil {
		return req, err
	}
	return req, c.Validate(&req)
}

func (s *Server) toggleReaction(c echo.Context) error {
	req, err := s.bindReaction(c)
	if err != nil {
		return err
	}
	action, err := s.engine.ToggleReaction(c.Request().Context(), req.MessageID, req.Emoji)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ToggleResponse{Action: string(action)})
}

func (s *Server) addReaction(c echo.Context) error {
	req, err := s.bindReaction(c)
	if err != nil {
		return err
	}
	if err := s.engine.AddReaction(c.Request().Context(), req.MessageID, req.Emoji); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) removeReaction(c echo.Context) error {
	req, err := s.bindReaction(c)
	if err != nil {
		return err
	}
	if err := s.engine.RemoveReaction(c.Request().Context(), req.MessageID, req.Emoji); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// markTyping forwards at most one signal per limiter token. Extra calls are
// absorbed here, so callers may invoke it on every keystroke.
func (s *Server) markTyping(c echo.Context) error {
	if !s.typing.Allow() {
		return c.JSON(http.StatusAccepted, TypingResponse{Debounced: true})
	}
	if err := s.engine.MarkTyping(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, TypingResponse{})
}

func (s *Server) snapshot(c echo.Context) error {
	snap, ok := s.engine.Snapshot()
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "no room is open")
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) file(c echo.Context) error {
	if s.files == nil {
		return echo.NewHTTPError(http.StatusNotFound, "file storage disabled")
	}
	p := strings.TrimPrefix(c.Param("*"), "/")
	rc, err := s.files.Open(c.Request().Context(), p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return err
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(p))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Stream(http.StatusOK, contentType, rc)
}
