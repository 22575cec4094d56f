// Package typing tracks which room members are currently typing. There is no
// "stopped typing" event: a user is typing while their last signal is younger
// than the staleness window and is dropped on the first poll tick after that.
package typing

import (
	"log/slog"
	"slices"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
)

const (
	// DefaultPollInterval is how often typing rows are re-read.
	DefaultPollInterval = 2 * time.Second

	// DefaultStaleAfter is the age at which a typing signal no longer counts.
	// It must stay longer than DefaultPollInterval so a user lingers for at
	// most one extra tick.
	DefaultStaleAfter = 5 * time.Second
)

// State is the per-user typing state.
type State string

const (
	StateAbsent State = "absent"
	StateActive State = "active"
)

// Tracker holds the per-user typing state of one room. It is not safe for
// concurrent use; the room's sync loop owns it.
type Tracker struct {
	self       string
	staleAfter time.Duration
	lastTyped  map[string]time.Time // userID -> newest last_typed_at seen
	active     map[string]struct{}
	logger     *slog.Logger
}

// Option is a function that configures a Tracker.
type Option func(*Tracker)

// WithStaleAfter sets a custom staleness window.
func WithStaleAfter(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.staleAfter = d
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// NewTracker creates a tracker for the user identified by selfID, whose own
// signal is never reported.
func NewTracker(selfID string, opts ...Option) *Tracker {
	t := &Tracker{
		self:       selfID,
		staleAfter: DefaultStaleAfter,
		lastTyped:  make(map[string]time.Time),
		active:     make(map[string]struct{}),
		logger:     slog.Default().With("component", "typing"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StaleAfter returns the configured staleness window.
func (t *Tracker) StaleAfter() time.Duration {
	return t.staleAfter
}

// Mark records a typing signal. Older signals than the one already held are
// ignored, so repeated or reordered upserts are harmless. It reports whether
// the user's state changed.
func (t *Tracker) Mark(userID string, at, now time.Time) bool {
	if userID == "" {
		return false
	}
	if prev, ok := t.lastTyped[userID]; !ok || at.After(prev) {
		t.lastTyped[userID] = at
	}
	if !t.fresh(t.lastTyped[userID], now) {
		return false
	}
	if _, ok := t.active[userID]; ok {
		return false
	}
	t.active[userID] = struct{}{}
	t.logger.Debug("User started typing", "user_id", userID)
	return true
}

// Observe applies one poll result: every returned signal is marked and then
// the whole set is re-evaluated against now. It reports whether the emitted
// typing set changed.
func (t *Tracker) Observe(signals []domain.TypingSignal, now time.Time) bool {
	changed := false
	for _, s := range signals {
		if t.Mark(s.UserID, s.LastTypedAt, now) && s.UserID != t.self {
			changed = true
		}
	}
	for _, userID := range t.Expire(now) {
		if userID != t.self {
			changed = true
		}
	}
	return changed
}

// Expire moves every user whose newest signal has gone stale back to absent
// and forgets them. It returns the expired user ids.
func (t *Tracker) Expire(now time.Time) []string {
	var expired []string
	for userID, at := range t.lastTyped {
		if t.fresh(at, now) {
			continue
		}
		delete(t.lastTyped, userID)
		if _, ok := t.active[userID]; ok {
			delete(t.active, userID)
			expired = append(expired, userID)
		}
	}
	if len(expired) > 0 {
		slices.Sort(expired)
		t.logger.Debug("Typing signals expired", "users", expired)
	}
	return expired
}

// State returns the state the user was left in by the last Mark, Observe or
// Expire call.
func (t *Tracker) State(userID string) State {
	if _, ok := t.active[userID]; ok {
		return StateActive
	}
	return StateAbsent
}

// Typing returns the active users other than self, sorted for stable output.
func (t *Tracker) Typing() []string {
	users := make([]string, 0, len(t.active))
	for userID := range t.active {
		if userID == t.self {
			continue
		}
		users = append(users, userID)
	}
	slices.Sort(users)
	return users
}

// Reset forgets every signal.
func (t *Tracker) Reset() {
	clear(t.lastTyped)
	clear(t.active)
}

func (t *Tracker) fresh(at, now time.Time) bool {
	return now.Sub(at) < t.staleAfter
}
