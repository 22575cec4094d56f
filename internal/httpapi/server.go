// Package httpapi exposes a coordinator to a local presentation layer over
// HTTP, with a websocket that streams snapshots.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/reactions"
	"github.com/careerct/room-whisper-sync/internal/roomsync"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Engine is the coordinator surface the handlers drive.
type Engine interface {
	OpenRoom(ctx context.Context, roomID string) error
	CloseRoom()
	JoinRoom(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, content string, attachment *domain.Attachment) error
	SendFile(ctx context.Context, content string, data []byte, name string) error
	ToggleReaction(ctx context.Context, messageID, emoji string) (reactions.Action, error)
	AddReaction(ctx context.Context, messageID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, emoji string) error
	MarkTyping(ctx context.Context) error
	Snapshot() (domain.RoomSnapshot, bool)
	Watch(ctx context.Context) <-chan domain.RoomSnapshot
	State() roomsync.State
	RoomID() string
}

// FileOpener serves stored attachments.
type FileOpener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E *echo.Echo

	engine   Engine
	files    FileOpener
	registry *prometheus.Registry
	typing   *rate.Limiter
	maxBytes int64
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithFiles serves attachments under /files/.
func WithFiles(f FileOpener) Option {
	return func(s *Server) {
		s.files = f
	}
}

// WithRegistry records request metrics in reg and exposes it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithTypingRate limits MarkTyping calls to perSecond, with a burst of one.
func WithTypingRate(perSecond float64) Option {
	return func(s *Server) {
		s.typing = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithMaxUploadBytes caps multipart upload bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		s.maxBytes = n
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return &domain.ValidationError{Err: err}
	}
	return nil
}

// New creates a Server and registers its routes.
func New(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		typing:   rate.NewLimiter(rate.Limit(1), 1),
		maxBytes: 10 << 20,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "httpapi")
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &CustomValidator{validator: validator.New()}
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.RequestID())
	e.Use(RequestLogger(s.logger))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "roomsync",
		Subsystem:  "http",
		Registerer: s.registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/ws"
		},
	}))
	s.E = e

	s.RegisterRoutes()
	return s
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.E.Shutdown(shutdownCtx)
}

func (s *Server) metricsHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}
