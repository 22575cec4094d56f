// Package janitor deletes typing rows that outlived their usefulness. Stale
// rows are already ignored by readers; pruning only bounds table growth.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/careerct/room-whisper-sync/internal/store"
)

// DefaultCron runs the janitor every ten minutes.
const DefaultCron = "*/10 * * * *"

// retryDelay is how long the scheduler backs off when the next tick cannot
// be computed.
const retryDelay = 30 * time.Second

// Janitor prunes typing rows older than its retention on a cron schedule.
type Janitor struct {
	pruner    store.TypingPruner
	cronExpr  string
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithClock overrides the clock used for cutoffs and scheduling.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) {
		j.now = now
	}
}

// WithLogger sets the janitor logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) {
		j.logger = l
	}
}

// New validates cronExpr and returns a janitor. An empty expression selects
// DefaultCron.
func New(pruner store.TypingPruner, cronExpr string, retention time.Duration, opts ...Option) (*Janitor, error) {
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid janitor cron expression: %s", cronExpr)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("janitor retention must be positive, got %s", retention)
	}
	j := &Janitor{
		pruner:    pruner,
		cronExpr:  cronExpr,
		retention: retention,
		now:       time.Now,
		logger:    slog.Default().With("component", "janitor"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// RunOnce prunes every typing row last touched before now minus retention.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.pruner.PruneTyping(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune typing rows: %w", err)
	}
	j.logger.InfoContext(ctx, "Pruned typing rows", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// Next returns the first scheduled run strictly after t.
func (j *Janitor) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(j.cronExpr, t.UTC(), false)
}

// Run sleeps until each cron tick and prunes, until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.InfoContext(ctx, "Janitor started", "cron", j.cronExpr, "retention", j.retention)
	for {
		wait := retryDelay
		next, err := j.Next(j.now())
		if err != nil {
			j.logger.ErrorContext(ctx, "Failed to compute next janitor run", "cron", j.cronExpr, "error", err)
		} else {
			wait = time.Until(next)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.InfoContext(ctx, "Janitor stopping")
			return
		case <-timer.C:
		}

		if err != nil {
			continue
		}
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.ErrorContext(ctx, "Janitor run failed", "error", err)
		}
	}
}
