package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type feedSub struct {
	sub     store.Subscription
	handler store.Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// feed fans NOTIFY payloads out to subscriptions. A single goroutine
// dispatches, so every handler sees changes in commit order.
type feed struct {
	mu   sync.RWMutex
	subs map[string]*feedSub
}

func newFeed() *feed {
	return &feed{subs: make(map[string]*feedSub)}
}

func (f *feed) add(ctx context.Context, topic store.Topic, filter store.Filter, handler store.Handler) store.Subscription {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	fs := &feedSub{
		sub:     store.Subscription{ID: uuid.NewString(), Topic: topic, Filter: filter},
		handler: handler,
		ctx:     subCtx,
		cancel:  cancel,
	}
	f.mu.Lock()
	f.subs[fs.sub.ID] = fs
	f.mu.Unlock()
	return fs.sub
}

func (f *feed) remove(id string) {
	f.mu.Lock()
	fs, ok := f.subs[id]
	delete(f.subs, id)
	f.mu.Unlock()
	if ok {
		fs.cancel()
	}
}

func (f *feed) removeAll() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[string]*feedSub)
	f.mu.Unlock()
	for _, fs := range subs {
		fs.cancel()
	}
}

func (f *feed) dispatch(change store.Change) int {
	f.mu.RLock()
	var targets []*feedSub
	for _, fs := range f.subs {
		if fs.sub.Topic == change.Topic && fs.sub.Filter.Matches(change) {
			targets = append(targets, fs)
		}
	}
	f.mu.RUnlock()

	delivered := 0
	for _, fs := range targets {
		if fs.ctx.Err() != nil {
			continue
		}
		fs.handler(fs.ctx, change)
		delivered++
	}
	return delivered
}

// decodeNotification parses a trigger payload.
func decodeNotification(n *pq.Notification) (store.Change, error) {
	var change store.Change
	if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
		return store.Change{}, fmt.Errorf("decode notification: %w", err)
	}
	switch change.Op {
	case store.OpInsert, store.OpUpdate, store.OpDelete:
	default:
		return store.Change{}, fmt.Errorf("decode notification: unknown op %q", change.Op)
	}
	if change.Topic == "" || change.ID == "" {
		return store.Change{}, fmt.Errorf("decode notification: missing topic or id")
	}
	return change, nil
}
