// Package memstore is an in-process durable store with a change feed. It
// enforces the same uniqueness constraints as the real backends and is used
// for local runs and tests.
package memstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/pubsub"
	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/google/uuid"
)

// Row shapes as emitted on the feed.
type messageRow struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	FileURL   string    `json:"file_url,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type reactionRow struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

type memberRow struct {
	ID     string `json:"id"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type roomUserKey struct{ room, user string }

type reactionKey struct{ message, user, emoji string }

// Store is an in-memory store.Backend.
type Store struct {
	mu           sync.RWMutex
	messages     map[string]messageRow
	reactions    map[string]reactionRow
	reactionKeys map[reactionKey]string
	members      map[string]memberRow
	memberKeys   map[roomUserKey]string
	typing       map[roomUserKey]time.Time
	profiles     map[string]domain.Profile

	bridge *pubsub.WatermillBridge
	outbox *outbox
	subsMu sync.Mutex
	subs   map[string]context.CancelFunc

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

var changeEvent = pubsub.NewEvent[store.Change]("changes")

// New creates an empty store publishing its changes on bridge. The store owns
// the bridge and closes it on Close.
func New(bridge *pubsub.WatermillBridge, opts ...Option) *Store {
	s := &Store{
		messages:     make(map[string]messageRow),
		reactions:    make(map[string]reactionRow),
		reactionKeys: make(map[reactionKey]string),
		members:      make(map[string]memberRow),
		memberKeys:   make(map[roomUserKey]string),
		typing:       make(map[roomUserKey]time.Time),
		profiles:     make(map[string]domain.Profile),
		bridge:       bridge,
		subs:         make(map[string]context.CancelFunc),
		now:          time.Now,
		logger:       slog.Default().With("component", "memstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.outbox = newOutbox(s.publish)
	return s
}

var _ store.Backend = (*Store)(nil)
var _ store.TypingPruner = (*Store)(nil)

func (s *Store) publish(c store.Change) {
	err := s.bridge.Publish(context.Background(), pubsub.Message{
		Topic:   string(c.Topic),
		Key:     c.RoomID,
		Payload: mustJSON(c),
	})
	if err != nil {
		s.logger.Error("Failed to publish change", "topic", c.Topic, "id", c.ID, "error", err)
	}
}

// emit queues a change. Callers hold s.mu so the outbox order is commit order.
func (s *Store) emit(topic store.Topic, op store.Op, id, roomID string, row any) {
	s.outbox.push(store.Change{Topic: topic, Op: op, ID: id, RoomID: roomID, Row: mustJSON(row)})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memstore: encode %T: %v", v, err))
	}
	return data
}

// Subscribe implements store.Feed.
func (s *Store) Subscribe(ctx context.Context, topic store.Topic, filter store.Filter, handler store.Handler) (store.Subscription, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := store.Subscription{ID: uuid.NewString(), Topic: topic, Filter: filter}

	err := s.bridge.Subscribe(subCtx, string(topic), func(ctx context.Context, msg pubsub.Message) error {
		change, err := pubsub.Decode(changeEvent, msg)
		if err != nil {
			return err
		}
		if subCtx.Err() != nil || !filter.Matches(change) {
			return nil
		}
		handler(ctx, change)
		return nil
	})
	if err != nil {
		cancel()
		return store.Subscription{}, store.NewError(store.CodeUnavailable, "subscribe", err)
	}

	s.subsMu.Lock()
	s.subs[sub.ID] = cancel
	s.subsMu.Unlock()
	return sub, nil
}

// Unsubscribe implements store.Feed.
func (s *Store) Unsubscribe(sub store.Subscription) error {
	s.subsMu.Lock()
	cancel, ok := s.subs[sub.ID]
	delete(s.subs, sub.ID)
	s.subsMu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Close stops every subscription and the bus.
func (s *Store) Close() error {
	s.subsMu.Lock()
	for id, cancel := range s.subs {
		cancel()
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
	s.outbox.close()
	return s.bridge.Close()
}

// ListMessages implements store.Store.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.NewError(store.CodeUnavailable, "list_messages", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Message
	for _, row := range s.messages {
		if row.RoomID == roomID {
			out = append(out, s.joinMessage(row))
		}
	}
	slices.SortFunc(out, domain.Message.Compare)
	return out, nil
}

// GetMessage implements store.Store.
func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, store.NewError(store.CodeUnavailable, "get_message", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.messages[id]
	if !ok {
		return domain.Message{}, store.NewError(store.CodeNotFound, "get_message", fmt.Errorf("message %s", id))
	}
	return s.joinMessage(row), nil
}

func (s *Store) joinMessage(row messageRow) domain.Message {
	m := domain.Message{
		ID:        row.ID,
		RoomID:    row.RoomID,
		AuthorID:  row.UserID,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	}
	if row.FileURL != "" {
		m.Attachment = &domain.Attachment{URL: row.FileURL, Name: row.FileName}
	}
	if p, ok := s.profiles[row.UserID]; ok {
		m.AuthorName = p.Username
		m.AuthorAvatar = p.AvatarURL
	}
	for _, r := range s.reactions {
		if r.MessageID == row.ID {
			m.Reactions = append(m.Reactions, domain.Reaction{ID: r.ID, MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji})
		}
	}
	// Map iteration is random; reaction ids are time ordered so sorting by id
	// restores insertion order.
	slices.SortFunc(m.Reactions, func(a, b domain.Reaction) int { return cmp.Compare(a.ID, b.ID) })
	return m
}

// InsertMessage implements store.Store.
func (s *Store) InsertMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return store.NewError(store.CodeUnavailable, "insert_message", err)
	}
	row := messageRow{
		ID:        newID(),
		RoomID:    msg.RoomID,
		UserID:    msg.AuthorID,
		Content:   msg.Content,
		CreatedAt: s.now().UTC(),
	}
	if msg.Attachment != nil {
		row.FileURL = msg.Attachment.URL
		row.FileName = msg.Attachment.Name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[row.ID] = row
	s.emit(store.TopicMessages, store.OpInsert, row.ID, row.RoomID, row)
	return nil
}

// EditMessage replaces a message's content, as another writer would.
func (s *Store) EditMessage(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.messages[id]
	if !ok {
		return store.NewError(store.CodeNotFound, "edit_message", fmt.Errorf("message %s", id))
	}
	row.Content = content
	s.messages[id] = row
	s.emit(store.TopicMessages, store.OpUpdate, row.ID, row.RoomID, row)
	return nil
}

// DeleteMessage removes a message and its reactions.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.messages[id]
	if !ok {
		return store.NewError(store.CodeNotFound, "delete_message", fmt.Errorf("message %s", id))
	}
	delete(s.messages, id)
	for rid, r := range s.reactions {
		if r.MessageID == id {
			s.deleteReactionLocked(rid, row.RoomID)
		}
	}
	s.emit(store.TopicMessages, store.OpDelete, row.ID, row.RoomID, messageRow{ID: row.ID, RoomID: row.RoomID})
	return nil
}

// InsertReaction implements store.Store.
func (s *Store) InsertReaction(ctx context.Context, messageID, userID, emoji string) error {
	if err := ctx.Err(); err != nil {
		return store.NewError(store.CodeUnavailable, "insert_reaction", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return store.NewError(store.CodeInvalid, "insert_reaction", fmt.Errorf("message %s does not exist", messageID))
	}
	key := reactionKey{messageID, userID, emoji}
	if _, exists := s.reactionKeys[key]; exists {
		return store.NewError(store.CodeConflict, "insert_reaction", fmt.Errorf("reaction %v already exists", key))
	}
	row := reactionRow{ID: newID(), MessageID: messageID, UserID: userID, Emoji: emoji}
	s.reactions[row.ID] = row
	s.reactionKeys[key] = row.ID
	s.emit(store.TopicReactions, store.OpInsert, row.ID, msg.RoomID, row)
	return nil
}

// DeleteReaction implements store.Store.
func (s *Store) DeleteReaction(ctx context.Context, messageID, userID, emoji string) error {
	if err := ctx.Err(); err != nil {
		return store.NewError(store.CodeUnavailable, "delete_reaction", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.reactionKeys[reactionKey{messageID, userID, emoji}]
	if !ok {
		return nil
	}
	s.deleteReactionLocked(id, s.messages[messageID].RoomID)
	return nil
}

func (s *Store) deleteReactionLocked(id, roomID string) {
	row := s.reactions[id]
	delete(s.reactions, id)
	delete(s.reactionKeys, reactionKey{row.MessageID, row.UserID, row.Emoji})
	s.emit(store.TopicReactions, store.OpDelete, id, roomID, row)
}

// ListMembers implements store.Store.
func (s *Store) ListMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.NewError(store.CodeUnavailable, "list_members", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Member
	for _, row := range s.members {
		if row.RoomID != roomID {
			continue
		}
		m := domain.Member{ID: row.ID, RoomID: row.RoomID, UserID: row.UserID, Username: row.UserID, PresenceStatus: domain.StatusOffline}
		if p, ok := s.profiles[row.UserID]; ok {
			m.Username = p.Username
			m.AvatarRef = p.AvatarURL
			if p.Status != "" {
				m.PresenceStatus = p.Status
			}
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.Member) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// InsertMember implements store.Store.
func (s *Store) InsertMember(ctx context.Context, roomID, userID string) error {
	if err := ctx.Err(); err != nil {
		return store.NewError(store.CodeUnavailable, "insert_member", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roomUserKey{roomID, userID}
	if _, exists := s.memberKeys[key]; exists {
		return store.NewError(store.CodeConflict, "insert_member", fmt.Errorf("user %s already in room %s", userID, roomID))
	}
	row := memberRow{ID: newID(), RoomID: roomID, UserID: userID}
	s.members[row.ID] = row
	s.memberKeys[key] = row.ID
	s.emit(store.TopicMembers, store.OpInsert, row.ID, roomID, row)
	return nil
}

// UpsertProfile implements store.Store. Every room the user belongs to sees
// a member update.
func (s *Store) UpsertProfile(ctx context.Context, profile domain.Profile) error {
	if err := profile.Validate(); err != nil {
		return store.NewError(store.CodeInvalid, "upsert_profile", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.ID] = profile
	for _, row := range s.members {
		if row.UserID == profile.ID {
			s.emit(store.TopicMembers, store.OpUpdate, row.ID, row.RoomID, row)
		}
	}
	return nil
}

// UpsertTyping implements store.Store.
func (s *Store) UpsertTyping(ctx context.Context, roomID, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return store.NewError(store.CodeUnavailable, "upsert_typing", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roomUserKey{roomID, userID}
	op := store.OpUpdate
	if _, ok := s.typing[key]; !ok {
		op = store.OpInsert
	}
	s.typing[key] = at.UTC()
	s.emit(store.TopicTyping, op, roomID+":"+userID, roomID,
		domain.TypingSignal{RoomID: roomID, UserID: userID, LastTypedAt: at.UTC()})
	return nil
}

// ListTyping implements store.Store.
func (s *Store) ListTyping(ctx context.Context, roomID string, since time.Time) ([]domain.TypingSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.NewError(store.CodeUnavailable, "list_typing", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TypingSignal
	for key, at := range s.typing {
		if key.room == roomID && at.After(since) {
			out = append(out, domain.TypingSignal{RoomID: key.room, UserID: key.user, LastTypedAt: at})
		}
	}
	slices.SortFunc(out, func(a, b domain.TypingSignal) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

// PruneTyping implements store.TypingPruner.
func (s *Store) PruneTyping(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, at := range s.typing {
		if at.Before(before) {
			delete(s.typing, key)
			s.emit(store.TopicTyping, store.OpDelete, key.room+":"+key.user, key.room,
				domain.TypingSignal{RoomID: key.room, UserID: key.user, LastTypedAt: at})
			n++
		}
	}
	return n, nil
}

// newID returns a time-ordered row id.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
