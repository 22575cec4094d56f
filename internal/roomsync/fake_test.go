package roomsync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/store"
)

// fakeBackend is a scriptable Backend. ListMessages can be held open with
// gate to simulate a slow fetch.
type fakeBackend struct {
	mu       sync.Mutex
	messages []domain.Message
	members  []domain.Member

	listErr error
	gate    chan struct{}
	started chan struct{}

	subs    map[string]store.Handler
	nextSub int
	calls   map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		subs:  make(map[string]store.Handler),
		calls: make(map[string]int),
	}
}

func (f *fakeBackend) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeBackend) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) activeSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeBackend) handlers() []store.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Handler, 0, len(f.subs))
	for _, h := range f.subs {
		out = append(out, h)
	}
	return out
}

func (f *fakeBackend) Subscribe(_ context.Context, topic store.Topic, filter store.Filter, handler store.Handler) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	id := strconv.Itoa(f.nextSub)
	f.subs[id] = handler
	return store.Subscription{ID: id, Topic: topic, Filter: filter}, nil
}

func (f *fakeBackend) Unsubscribe(sub store.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub.ID)
	return nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	f.count("list_messages")
	f.mu.Lock()
	gate, started, listErr := f.gate, f.started, f.listErr
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		// Ignores ctx on purpose: the result must be discarded by generation,
		// not by cancellation.
		<-gate
	}
	if listErr != nil {
		return nil, listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.messages...), nil
}

func (f *fakeBackend) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Message{}, store.NewError(store.CodeNotFound, "get_message", nil)
}

func (f *fakeBackend) InsertMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	f.count("insert_message")
	return nil
}

func (f *fakeBackend) InsertReaction(ctx context.Context, messageID, userID, emoji string) error {
	f.count("insert_reaction")
	return nil
}

func (f *fakeBackend) DeleteReaction(ctx context.Context, messageID, userID, emoji string) error {
	f.count("delete_reaction")
	return nil
}

func (f *fakeBackend) ListMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Member(nil), f.members...), nil
}

func (f *fakeBackend) InsertMember(ctx context.Context, roomID, userID string) error {
	return nil
}

func (f *fakeBackend) UpsertProfile(ctx context.Context, profile domain.Profile) error {
	return nil
}

func (f *fakeBackend) UpsertTyping(ctx context.Context, roomID, userID string, at time.Time) error {
	f.count("upsert_typing")
	return nil
}

func (f *fakeBackend) ListTyping(ctx context.Context, roomID string, since time.Time) ([]domain.TypingSignal, error) {
	return nil, nil
}
