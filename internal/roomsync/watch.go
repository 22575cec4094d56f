package roomsync

import (
	"context"

	"github.com/careerct/room-whisper-sync/internal/domain"
)

// Snapshot returns the latest published snapshot. ok is false while no room
// is open.
func (c *Coordinator) Snapshot() (snap domain.RoomSnapshot, ok bool) {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap, c.hasSnap
}

// Watch streams snapshots until ctx is done. A slow reader only ever sees the
// latest snapshot; intermediate ones are dropped.
func (c *Coordinator) Watch(ctx context.Context) <-chan domain.RoomSnapshot {
	ch := make(chan domain.RoomSnapshot, 1)

	c.snapMu.Lock()
	c.watchers[ch] = struct{}{}
	if c.hasSnap {
		ch <- c.snap
	}
	c.snapMu.Unlock()

	context.AfterFunc(ctx, func() {
		c.snapMu.Lock()
		delete(c.watchers, ch)
		close(ch)
		c.snapMu.Unlock()
	})
	return ch
}

// Errors delivers background fetch failures. Failures raised while the
// channel is full are logged and dropped.
func (c *Coordinator) Errors() <-chan error {
	return c.errs
}

// publish installs snap unless gen has been superseded, in which case the
// snapshot is dropped.
func (c *Coordinator) publish(gen uint64, snap domain.RoomSnapshot) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	if c.gen.Load() != gen {
		c.metrics.StaleDiscard()
		return
	}
	c.snap = snap
	c.hasSnap = true
	for ch := range c.watchers {
		offer(ch, snap)
	}
	c.metrics.SnapshotPublished()
}

func (c *Coordinator) clearSnapshot() {
	c.snapMu.Lock()
	c.snap = domain.RoomSnapshot{}
	c.hasSnap = false
	c.snapMu.Unlock()
}

// offer replaces any unread snapshot in ch with snap.
func offer(ch chan domain.RoomSnapshot, snap domain.RoomSnapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
