package roomsync

import (
	"sync"

	"github.com/careerct/room-whisper-sync/internal/store"
)

// messageTask is one unit of work for the messages worker: either a message
// delta to resolve or a full reload.
type messageTask struct {
	change store.Change
	reload bool
}

// taskQueue is an unbounded FIFO so the loop never blocks handing work to the
// messages worker. A reload requested while another reload is still waiting
// to start is dropped: the waiting one will observe the newer state anyway.
type taskQueue struct {
	mu            sync.Mutex
	tasks         []messageTask
	reloadPending bool
	wake          chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{wake: make(chan struct{}, 1)}
}

func (q *taskQueue) push(t messageTask) bool {
	q.mu.Lock()
	if t.reload {
		if q.reloadPending {
			q.mu.Unlock()
			return false
		}
		q.reloadPending = true
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *taskQueue) pop() (messageTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return messageTask{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = messageTask{}
	q.tasks = q.tasks[1:]
	if t.reload {
		q.reloadPending = false
	}
	return t, true
}
