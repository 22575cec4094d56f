package httpapi

import (
	"errors"
	"net/http"

	"github.com/careerct/room-whisper-sync/internal/blob"
	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/roomsync"
	"github.com/labstack/echo/v4"
)

// statusFor maps engine errors onto HTTP status codes and stable error codes.
func statusFor(err error) (int, string) {
	var (
		httpErr  *echo.HTTPError
		fetchErr *domain.FetchError
		sendErr  *domain.SendError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code, http.StatusText(httpErr.Code)
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, blob.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, roomsync.ErrNoUploader):
		return http.StatusNotImplemented, "uploads_disabled"
	case errors.Is(err, domain.ErrNotOpen):
		return http.StatusConflict, "not_open"
	case errors.Is(err, domain.ErrSessionClosed):
		return http.StatusConflict, "session_closed"
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway, "fetch_failed"
	case errors.As(err, &sendErr):
		return http.StatusBadGateway, "send_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, code := statusFor(err)
	msg := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		}
	}
	if status >= http.StatusInternalServerError {
		FromContext(c.Request().Context()).Error("Request failed", "error", err, "status", status)
	}
	if err := c.JSON(status, ErrorResponse{Code: code, Message: msg}); err != nil {
		s.logger.Warn("Failed to write error response", "error", err)
	}
}
