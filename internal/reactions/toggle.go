package reactions

import (
	"context"
	"errors"
	"log/slog"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/store"
)

// Mutator is the slice of the durable store the toggler writes to.
type Mutator interface {
	InsertReaction(ctx context.Context, messageID, userID, emoji string) error
	DeleteReaction(ctx context.Context, messageID, userID, emoji string) error
}

// Action is what a toggle issued against the store.
type Action string

const (
	ActionAdded   Action = "added"
	ActionRemoved Action = "removed"
)

// Request identifies a reaction mutation. It is carried on SendError so the
// caller can retry.
type Request struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// Toggler issues reaction mutations. Counts are never adjusted locally: they
// change only when the feed echoes the mutation and the message is refetched.
type Toggler struct {
	store      Mutator
	logger     *slog.Logger
	onConflict func()
}

// Option configures a Toggler.
type Option func(*Toggler)

// WithLogger sets the logger used for swallowed conflicts.
func WithLogger(l *slog.Logger) Option {
	return func(t *Toggler) {
		t.logger = l
	}
}

// WithConflictHook registers a callback run for every ignored duplicate insert.
func WithConflictHook(fn func()) Option {
	return func(t *Toggler) {
		t.onConflict = fn
	}
}

// NewToggler creates a Toggler writing to m.
func NewToggler(m Mutator, opts ...Option) *Toggler {
	t := &Toggler{
		store:  m,
		logger: slog.Default().With("component", "reactions"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Toggle deletes the user's reaction when currentlyReacted is set and inserts
// it otherwise.
func (t *Toggler) Toggle(ctx context.Context, messageID, userID, emoji string, currentlyReacted bool) (Action, error) {
	if currentlyReacted {
		return ActionRemoved, t.Remove(ctx, messageID, userID, emoji)
	}
	return ActionAdded, t.Add(ctx, messageID, userID, emoji)
}

// Add inserts a reaction. A uniqueness violation means another tab of the same
// user won the race, so it is logged and dropped.
func (t *Toggler) Add(ctx context.Context, messageID, userID, emoji string) error {
	req, err := newRequest(messageID, userID, emoji)
	if err != nil {
		return &domain.SendError{Op: "add_reaction", Input: req, Err: err}
	}

	err = t.store.InsertReaction(ctx, req.MessageID, req.UserID, req.Emoji)
	switch {
	case err == nil:
		return nil
	case store.IsConflict(err):
		t.logger.DebugContext(ctx, "Ignoring duplicate reaction",
			"message_id", req.MessageID, "user_id", req.UserID, "emoji", req.Emoji)
		if t.onConflict != nil {
			t.onConflict()
		}
		return nil
	default:
		return &domain.SendError{Op: "add_reaction", Input: req, Err: err}
	}
}

// Remove deletes the user's reaction for (messageID, emoji).
func (t *Toggler) Remove(ctx context.Context, messageID, userID, emoji string) error {
	req, err := newRequest(messageID, userID, emoji)
	if err != nil {
		return &domain.SendError{Op: "remove_reaction", Input: req, Err: err}
	}

	if err := t.store.DeleteReaction(ctx, req.MessageID, req.UserID, req.Emoji); err != nil && !errors.Is(err, store.ErrNotFound) {
		return &domain.SendError{Op: "remove_reaction", Input: req, Err: err}
	}
	return nil
}

func newRequest(messageID, userID, emoji string) (Request, error) {
	req := Request{MessageID: messageID, UserID: userID, Emoji: domain.NormalizeEmoji(emoji)}
	if req.MessageID == "" || req.UserID == "" || req.Emoji == "" {
		return req, domain.ErrInvalidInput
	}
	return req, nil
}
