package memstore

import (
	"sync"

	"github.com/careerct/room-whisper-sync/internal/store"
)

// outbox decouples mutations from publication. push never blocks, and a
// single goroutine publishes changes in push order.
type outbox struct {
	mu      sync.Mutex
	pending []store.Change
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newOutbox(publish func(store.Change)) *outbox {
	o := &outbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go o.run(publish)
	return o
}

func (o *outbox) push(c store.Change) {
	o.mu.Lock()
	o.pending = append(o.pending, c)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run(publish func(store.Change)) {
	for {
		select {
		case <-o.done:
			return
		case <-o.wake:
		}
		for {
			o.mu.Lock()
			batch := o.pending
			o.pending = nil
			o.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, c := range batch {
				publish(c)
			}
		}
	}
}

func (o *outbox) close() {
	o.once.Do(func() { close(o.done) })
}
