package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/membership"
	"github.com/careerct/room-whisper-sync/internal/messages"
	"github.com/careerct/room-whisper-sync/internal/reactions"
	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/careerct/room-whisper-sync/internal/typing"
)

const inboxSize = 256

// session is one open room. The loop goroutine exclusively owns msgs,
// members and typing once started.
type session struct {
	c      *Coordinator
	roomID string
	self   string
	gen    uint64
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	subsMu sync.Mutex
	subs   []store.Subscription
	closed bool

	inbox        chan event
	msgQueue     *taskQueue
	memberReload chan struct{}

	msgs    *messages.Store
	members *membership.Tracker
	typing  *typing.Tracker
}

func newSession(c *Coordinator, roomID, self string, gen uint64) *session {
	ctx, cancel := context.WithCancel(context.Background())
	logger := c.logger.With("room_id", roomID, "generation", gen)
	return &session{
		c:            c,
		roomID:       roomID,
		self:         self,
		gen:          gen,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		inbox:        make(chan event, inboxSize),
		msgQueue:     newTaskQueue(),
		memberReload: make(chan struct{}, 1),
		msgs:         messages.NewStore(c.backend),
		members:      membership.NewTracker(),
		typing:       typing.NewTracker(self, typing.WithStaleAfter(c.staleAfter), typing.WithLogger(logger)),
	}
}

func (s *session) tag() tagged {
	return tagged{gen: s.gen}
}

// post hands an event to the loop, giving up once the session is stopped.
func (s *session) post(ev event) {
	select {
	case s.inbox <- ev:
	case <-s.ctx.Done():
	}
}

// subscribe opens the three room-scoped feeds. Handlers only enqueue.
func (s *session) subscribe(ctx context.Context) error {
	for _, topic := range []store.Topic{store.TopicMessages, store.TopicReactions, store.TopicMembers} {
		sub, err := s.c.backend.Subscribe(ctx, topic, store.Filter{RoomID: s.roomID}, func(_ context.Context, change store.Change) {
			s.post(deltaEvent{tagged: s.tag(), change: change})
		})
		if err != nil {
			return &domain.FetchError{Resource: "subscribe:" + string(topic), RoomID: s.roomID, Err: err}
		}
		if !s.addSub(sub) {
			return domain.ErrSessionClosed
		}
	}
	return nil
}

// addSub records sub, or releases it immediately when the session has
// already been stopped.
func (s *session) addSub(sub store.Subscription) bool {
	s.subsMu.Lock()
	if !s.closed {
		s.subs = append(s.subs, sub)
		s.subsMu.Unlock()
		return true
	}
	s.subsMu.Unlock()
	s.unsubscribe(sub)
	return false
}

func (s *session) unsubscribe(sub store.Subscription) {
	if err := s.c.backend.Unsubscribe(sub); err != nil {
		s.logger.Warn("Failed to unsubscribe", "topic", sub.Topic, "error", err)
	}
}

// stop cancels in-flight work and releases every subscription. It does not
// wait for workers and is safe to call more than once.
func (s *session) stop() {
	s.cancel()
	s.subsMu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.subsMu.Unlock()
	for _, sub := range subs {
		s.unsubscribe(sub)
	}
}

// start launches the loop, the messages and members workers and the typing
// poller.
func (s *session) start() {
	go s.loop()
	go s.messagesWorker()
	go s.membersWorker()
	go typing.NewPoller(s.c.pollInterval, s.c.now, s.pollTyping).Run(s.ctx)
}

func (s *session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.inbox:
			if ev.generation() != s.c.gen.Load() {
				s.c.metrics.StaleDiscard()
				continue
			}
			if s.apply(ev) {
				s.c.publish(s.gen, s.snapshot())
			}
		}
	}
}

// apply routes one event to its tracker and reports whether the snapshot
// needs rebuilding.
func (s *session) apply(ev event) bool {
	switch ev := ev.(type) {
	case deltaEvent:
		s.route(ev.change)
		return false
	case messageEvent:
		switch ev.op {
		case store.OpInsert:
			s.msgs.ApplyInsert(ev.msg)
		case store.OpUpdate:
			s.msgs.ApplyUpdate(ev.msg)
		case store.OpDelete:
			s.msgs.ApplyDelete(ev.msg.ID)
		}
		return true
	case messagesLoadedEvent:
		s.msgs.Replace(ev.list)
		return true
	case membersLoadedEvent:
		s.members.Replace(ev.list)
		return true
	case typingEvent:
		return s.typing.Observe(ev.signals, ev.at)
	case failedEvent:
		s.c.reportError(ev.err)
		return false
	default:
		s.logger.Warn("Ignoring unknown event", "type", fmt.Sprintf("%T", ev))
		return false
	}
}

// route dispatches a raw feed delta. Message deltas and reaction-triggered
// reloads share one serial worker so per-row order is preserved.
func (s *session) route(change store.Change) {
	s.c.metrics.FeedDelta(string(change.Topic), string(change.Op))
	s.logger.Debug("Feed delta", "topic", change.Topic, "op", change.Op, "id", change.ID)

	switch change.Topic {
	case store.TopicMessages:
		s.msgQueue.push(messageTask{change: change})
	case store.TopicReactions:
		s.msgQueue.push(messageTask{reload: true})
	case store.TopicMembers:
		select {
		case s.memberReload <- struct{}{}:
		default:
		}
	}
}

func (s *session) messagesWorker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.msgQueue.wake:
		}
		for {
			task, ok := s.msgQueue.pop()
			if !ok {
				break
			}
			if s.ctx.Err() != nil {
				return
			}
			s.runMessageTask(task)
		}
	}
}

func (s *session) runMessageTask(task messageTask) {
	if task.reload {
		s.c.metrics.Refetch("messages")
		list, err := s.fetchMessages(s.ctx)
		if err != nil {
			s.post(failedEvent{tagged: s.tag(), err: err})
			return
		}
		s.post(messagesLoadedEvent{tagged: s.tag(), list: list})
		return
	}

	change := task.change
	if change.Op == store.OpDelete {
		s.post(messageEvent{tagged: s.tag(), op: store.OpDelete, msg: domain.Message{ID: change.ID}})
		return
	}

	// Feed rows carry no joined reactions, so the row is fetched again.
	s.c.metrics.Refetch("message")
	start := time.Now()
	msg, err := s.msgs.FetchOne(s.ctx, change.ID)
	s.c.metrics.ObserveFetch("message", start)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Deleted since; its delete delta is queued behind this task.
		s.logger.Debug("Message vanished before refetch", "id", change.ID)
		return
	case err != nil:
		var fetchErr *domain.FetchError
		if errors.As(err, &fetchErr) {
			fetchErr.RoomID = s.roomID
		}
		s.post(failedEvent{tagged: s.tag(), err: err})
		return
	}
	if msg.RoomID != "" && msg.RoomID != s.roomID {
		return
	}
	s.post(messageEvent{tagged: s.tag(), op: change.Op, msg: msg})
}

func (s *session) membersWorker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.memberReload:
		}
		s.c.metrics.Refetch("members")
		list, err := s.fetchMembers(s.ctx)
		if err != nil {
			s.post(failedEvent{tagged: s.tag(), err: err})
			continue
		}
		s.post(membersLoadedEvent{tagged: s.tag(), list: list})
	}
}

func (s *session) pollTyping(ctx context.Context, at time.Time) {
	signals, err := s.fetchTyping(ctx, at)
	if err != nil {
		if ctx.Err() == nil {
			s.post(failedEvent{tagged: s.tag(), err: err})
		}
		return
	}
	s.post(typingEvent{tagged: s.tag(), signals: signals, at: at})
}

func (s *session) fetchMessages(ctx context.Context) ([]domain.Message, error) {
	start := time.Now()
	defer s.c.metrics.ObserveFetch("messages", start)
	return s.msgs.Fetch(ctx, s.roomID)
}

func (s *session) fetchMembers(ctx context.Context) ([]domain.Member, error) {
	start := time.Now()
	defer s.c.metrics.ObserveFetch("members", start)
	list, err := s.c.backend.ListMembers(ctx, s.roomID)
	if err != nil {
		return nil, &domain.FetchError{Resource: "members", RoomID: s.roomID, Err: err}
	}
	return list, nil
}

func (s *session) fetchTyping(ctx context.Context, at time.Time) ([]domain.TypingSignal, error) {
	start := time.Now()
	defer s.c.metrics.ObserveFetch("typing", start)
	signals, err := s.c.backend.ListTyping(ctx, s.roomID, at.Add(-s.c.staleAfter))
	if err != nil {
		return nil, &domain.FetchError{Resource: "typing", RoomID: s.roomID, Err: err}
	}
	return signals, nil
}

// snapshot builds an immutable view of the trackers.
func (s *session) snapshot() domain.RoomSnapshot {
	list := s.msgs.Messages()
	views := make([]domain.MessageView, len(list))
	for i, m := range list {
		views[i] = domain.MessageView{
			Message:        m,
			ReactionCounts: reactions.Aggregate(m.Reactions, s.self),
		}
	}
	return domain.RoomSnapshot{
		RoomID:      s.roomID,
		Generation:  s.gen,
		Messages:    views,
		Members:     s.members.Members(),
		TypingUsers: s.typing.Typing(),
		BuiltAt:     s.c.now(),
	}
}
