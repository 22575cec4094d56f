package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/careerct/room-whisper-sync/internal/blob"
	"github.com/careerct/room-whisper-sync/internal/config"
	"github.com/careerct/room-whisper-sync/internal/database"
	"github.com/careerct/room-whisper-sync/internal/httpapi"
	"github.com/careerct/room-whisper-sync/internal/janitor"
	"github.com/careerct/room-whisper-sync/internal/memstore"
	"github.com/careerct/room-whisper-sync/internal/metrics"
	"github.com/careerct/room-whisper-sync/internal/pgstore"
	"github.com/careerct/room-whisper-sync/internal/pubsub"
	"github.com/careerct/room-whisper-sync/internal/roomsync"
	"github.com/careerct/room-whisper-sync/internal/store"
)

func (a *App) newTracer(ctx context.Context) (trace.Tracer, error) {
	tracer, cleanup, err := pubsub.SetupTracing(ctx, pubsub.TracingConfig{
		Enabled:     a.Config.TracingEnabled,
		ServiceName: a.Config.TracingServiceName,
		ZipkinURL:   a.Config.TracingZipkinURL,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	a.onClose(func() error {
		cleanup()
		return nil
	})
	return tracer, nil
}

// newBackend connects the backend named by ROOMSYNC_BACKEND.
func (a *App) newBackend(ctx context.Context, i do.Injector) (store.Backend, error) {
	logger := do.MustInvoke[*slog.Logger](i)

	var (
		backend store.Backend
		err     error
	)
	switch a.Config.Backend {
	case config.BackendMemory:
		tracer, terr := do.Invoke[trace.Tracer](i)
		if terr != nil {
			return nil, terr
		}
		bridge := pubsub.NewWatermillBridge(pubsub.WithTracer(tracer), pubsub.WithLogger(logger))
		backend = memstore.New(bridge, memstore.WithLogger(logger))
	case config.BackendSurreal:
		conn := database.NewConnection(a.Config)
		if err = conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		conn.StartMonitoring()
		backend = database.NewSurrealStore(conn, logger)
	case config.BackendPostgres:
		backend, err = pgstore.Open(ctx, a.Config.PostgresDSN, pgstore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", a.Config.Backend)
	}

	a.onClose(backend.Close)
	logger.Info("Backend ready", "backend", a.Config.Backend)
	return backend, nil
}

func (a *App) newBlobStore(i do.Injector) (*blob.Store, error) {
	return blob.NewDirStore(a.Config.BlobDir, a.Config.BlobBaseURL,
		blob.WithMaxBytes(a.Config.BlobMaxBytes),
		blob.WithLogger(do.MustInvoke[*slog.Logger](i)),
	)
}

func (a *App) newCoordinator(i do.Injector) (*roomsync.Coordinator, error) {
	backend, err := do.Invoke[store.Backend](i)
	if err != nil {
		return nil, err
	}
	blobs, err := do.Invoke[*blob.Store](i)
	if err != nil {
		return nil, err
	}
	c, err := roomsync.New(backend, roomsync.StaticIdentity(a.Config.UserID),
		roomsync.WithLogger(do.MustInvoke[*slog.Logger](i).With("component", "roomsync")),
		roomsync.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
		roomsync.WithUploader(blobs),
		roomsync.WithTypingTimings(a.Config.TypingPollInterval, a.Config.TypingStaleAfter),
	)
	if err != nil {
		return nil, err
	}
	a.onClose(func() error {
		c.CloseRoom()
		return nil
	})
	return c, nil
}

func (a *App) newServer(i do.Injector) (*httpapi.Server, error) {
	c, err := do.Invoke[*roomsync.Coordinator](i)
	if err != nil {
		return nil, err
	}
	blobs, err := do.Invoke[*blob.Store](i)
	if err != nil {
		return nil, err
	}
	return httpapi.New(c,
		httpapi.WithFiles(blobs),
		httpapi.WithRegistry(do.MustInvoke[*prometheus.Registry](i)),
		httpapi.WithTypingRate(a.Config.TypingMarkRate),
		httpapi.WithMaxUploadBytes(a.Config.BlobMaxBytes),
		httpapi.WithLogger(do.MustInvoke[*slog.Logger](i)),
	), nil
}

func (a *App) newJanitor(i do.Injector) (*janitor.Janitor, error) {
	backend, err := do.Invoke[store.Backend](i)
	if err != nil {
		return nil, err
	}
	pruner, ok := backend.(store.TypingPruner)
	if !ok {
		return nil, fmt.Errorf("backend %q cannot prune typing rows", a.Config.Backend)
	}
	return janitor.New(pruner, a.Config.JanitorCron, a.Config.TypingRetention,
		janitor.WithLogger(do.MustInvoke[*slog.Logger](i)),
	)
}
