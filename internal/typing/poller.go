package typing

import (
	"context"
	"time"
)

// Poller invokes a tick function immediately and then on every interval until
// its context is cancelled.
type Poller struct {
	interval time.Duration
	now      func() time.Time
	tick     func(ctx context.Context, at time.Time)
}

// NewPoller creates a poller. A non-positive interval falls back to
// DefaultPollInterval.
func NewPoller(interval time.Duration, now func() time.Time, tick func(ctx context.Context, at time.Time)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Poller{interval: interval, now: now, tick: tick}
}

// Run blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx, p.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, p.now())
		}
	}
}
