// Package store defines the boundary between the sync engine and the durable,
// multi-writer backend: typed queries and mutations plus a per-topic change
// feed. Backends live in memstore, database (SurrealDB) and pgstore.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
)

// Topic names a change feed. Topics map one-to-one onto backend tables.
type Topic string

const (
	TopicMessages  Topic = "messages"
	TopicReactions Topic = "message_reactions"
	TopicMembers   Topic = "room_members"
	TopicTyping    Topic = "typing_indicators"
)

// Op is the kind of row change delivered by a feed.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one delta delivered by a feed. Row carries the raw row as the
// backend emitted it, which never includes joined data and may be empty for
// deletes on backends that only ship keys.
type Change struct {
	Topic  Topic           `json:"topic"`
	Op     Op              `json:"op"`
	ID     string          `json:"id"`
	RoomID string          `json:"room_id,omitempty"`
	Row    json.RawMessage `json:"row,omitempty"`
}

// Filter scopes a subscription. An empty RoomID subscribes to every room.
type Filter struct {
	RoomID string
}

// Matches reports whether a change falls inside the filter. Changes without a
// room (backends that cannot resolve it) always match.
func (f Filter) Matches(c Change) bool {
	return f.RoomID == "" || c.RoomID == "" || c.RoomID == f.RoomID
}

// Handler receives feed deltas. Within one subscription it is called
// sequentially, in the backend's per-topic delivery order.
type Handler func(ctx context.Context, change Change)

// Subscription identifies an active feed subscription.
type Subscription struct {
	ID     string
	Topic  Topic
	Filter Filter
}

// Feed is the push half of the backend.
type Feed interface {
	// Subscribe starts delivering changes on topic that match filter.
	Subscribe(ctx context.Context, topic Topic, filter Filter, handler Handler) (Subscription, error)
	// Unsubscribe stops delivery. It is idempotent and never blocks on
	// in-flight handler calls.
	Unsubscribe(sub Subscription) error
}

// Store is the query and mutation half of the backend.
type Store interface {
	// ListMessages returns every message of the room joined with its reactions
	// and author profile, ordered by created_at then id.
	ListMessages(ctx context.Context, roomID string) ([]domain.Message, error)
	// GetMessage returns a single joined message, or ErrNotFound.
	GetMessage(ctx context.Context, id string) (domain.Message, error)
	// InsertMessage persists a new message. The stored row is not returned:
	// callers observe it through the feed.
	InsertMessage(ctx context.Context, msg domain.OutgoingMessage) error

	// InsertReaction fails with ErrConflict when the triple already exists.
	InsertReaction(ctx context.Context, messageID, userID, emoji string) error
	// DeleteReaction removes the caller's reaction; absent rows are not an error.
	DeleteReaction(ctx context.Context, messageID, userID, emoji string) error

	// ListMembers returns the room roster joined with profiles.
	ListMembers(ctx context.Context, roomID string) ([]domain.Member, error)
	// InsertMember fails with ErrConflict when the user already belongs to the room.
	InsertMember(ctx context.Context, roomID, userID string) error
	// UpsertProfile creates or replaces the profile joined onto members and messages.
	UpsertProfile(ctx context.Context, profile domain.Profile) error

	// UpsertTyping writes the single (room, user) typing row.
	UpsertTyping(ctx context.Context, roomID, userID string, at time.Time) error
	// ListTyping returns the room's typing rows with last_typed_at after since.
	ListTyping(ctx context.Context, roomID string, since time.Time) ([]domain.TypingSignal, error)
}

// TypingPruner is implemented by backends that can delete expired typing rows.
type TypingPruner interface {
	PruneTyping(ctx context.Context, before time.Time) (int, error)
}

// Backend is a store that also carries its own change feed.
type Backend interface {
	Store
	Feed
	Close() error
}
