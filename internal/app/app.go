// Package app wires configuration, the selected backend and the sync engine
// together. Services are built lazily by a samber/do injector, so commands
// that only need the backend never start an HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/careerct/room-whisper-sync/internal/config"
	"github.com/careerct/room-whisper-sync/internal/httpapi"
	"github.com/careerct/room-whisper-sync/internal/janitor"
	"github.com/careerct/room-whisper-sync/internal/metrics"
	"github.com/careerct/room-whisper-sync/internal/roomsync"
	"github.com/careerct/room-whisper-sync/internal/store"
)

// App owns the injector and every resource it has built.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	injector *do.RootScope

	mu      sync.Mutex
	closers []func() error
}

// New registers every service provider. Nothing is connected until a
// service is first requested.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		injector: do.New(),
	}

	do.ProvideValue(a.injector, cfg)
	do.ProvideValue(a.injector, logger)
	do.Provide(a.injector, func(do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		return reg, nil
	})
	do.Provide(a.injector, func(i do.Injector) (*metrics.Metrics, error) {
		return metrics.New(do.MustInvoke[*prometheus.Registry](i)), nil
	})
	do.Provide(a.injector, func(do.Injector) (trace.Tracer, error) {
		return a.newTracer(ctx)
	})
	do.Provide(a.injector, func(i do.Injector) (store.Backend, error) {
		return a.newBackend(ctx, i)
	})
	do.Provide(a.injector, a.newBlobStore)
	do.Provide(a.injector, a.newCoordinator)
	do.Provide(a.injector, a.newServer)
	do.Provide(a.injector, a.newJanitor)
	return a
}

// onClose registers fn to run, in reverse order, on Close.
func (a *App) onClose(fn func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// Backend returns the configured store and change feed.
func (a *App) Backend() (store.Backend, error) {
	return do.Invoke[store.Backend](a.injector)
}

// Coordinator returns the sync engine.
func (a *App) Coordinator() (*roomsync.Coordinator, error) {
	return do.Invoke[*roomsync.Coordinator](a.injector)
}

// Server returns the HTTP surface over the coordinator.
func (a *App) Server() (*httpapi.Server, error) {
	return do.Invoke[*httpapi.Server](a.injector)
}

// Janitor returns the typing-row pruner.
func (a *App) Janitor() (*janitor.Janitor, error) {
	return do.Invoke[*janitor.Janitor](a.injector)
}

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// EnsureSchema creates the backend's tables and feed plumbing. The in-memory
// backend has nothing to create.
func (a *App) EnsureSchema(ctx context.Context) error {
	backend, err := a.Backend()
	if err != nil {
		return err
	}
	s, ok := backend.(schemaEnsurer)
	if !ok {
		a.Logger.InfoContext(ctx, "Backend has no schema to apply", "backend", a.Config.Backend)
		return nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("apply %s schema: %w", a.Config.Backend, err)
	}
	a.Logger.InfoContext(ctx, "Schema applied", "backend", a.Config.Backend)
	return nil
}

// Close closes the room and releases every resource built so far.
func (a *App) Close() error {
	a.mu.Lock()
	closers := slices.Clone(a.closers)
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for _, fn := range slices.Backward(closers) {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.injector.Shutdown()
	return errors.Join(errs...)
}
