// Package roomsync keeps a local, read-only view of one chat room in step with
// the shared backend. Mutations go straight to the store; their effect is
// only ever observed back through the change feed.
package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/membership"
	"github.com/careerct/room-whisper-sync/internal/metrics"
	"github.com/careerct/room-whisper-sync/internal/reactions"
	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/careerct/room-whisper-sync/internal/typing"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of the coordinator's room session.
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateOpen    State = "open"
)

// Backend is the durable store together with its change feed.
type Backend interface {
	store.Store
	store.Feed
}

// Uploader stores attachment bytes and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, ownerID string, data []byte, name string) (string, error)
}

// ErrNoUploader is returned by SendFile when no blob storage is configured.
var ErrNoUploader = errors.New("no blob storage configured")

// Coordinator owns the subscriptions and trackers of at most one open room.
type Coordinator struct {
	backend  Backend
	identity Identity
	uploader Uploader
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	toggler  *reactions.Toggler

	pollInterval time.Duration
	staleAfter   time.Duration

	// gen is bumped on every OpenRoom and CloseRoom. Results tagged with an
	// older value are discarded.
	gen atomic.Uint64

	mu      sync.Mutex
	state   State
	roomID  string
	session *session

	snapMu   sync.RWMutex
	snap     domain.RoomSnapshot
	hasSnap  bool
	watchers map[chan domain.RoomSnapshot]struct{}
	errs     chan error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithMetrics records engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithUploader enables SendFile.
func WithUploader(u Uploader) Option {
	return func(c *Coordinator) {
		c.uploader = u
	}
}

// WithTypingTimings overrides the typing poll interval and staleness window.
func WithTypingTimings(poll, staleAfter time.Duration) Option {
	return func(c *Coordinator) {
		if poll > 0 {
			c.pollInterval = poll
		}
		if staleAfter > 0 {
			c.staleAfter = staleAfter
		}
	}
}

// WithClock overrides the clock used for typing and snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a closed coordinator.
func New(backend Backend, identity Identity, opts ...Option) (*Coordinator, error) {
	if backend == nil || identity == nil {
		return nil, errors.New("roomsync: backend and identity are required")
	}
	c := &Coordinator{
		backend:      backend,
		identity:     identity,
		logger:       slog.Default().With("component", "roomsync"),
		now:          time.Now,
		pollInterval: typing.DefaultPollInterval,
		staleAfter:   typing.DefaultStaleAfter,
		state:        StateClosed,
		watchers:     make(map[chan domain.RoomSnapshot]struct{}),
		errs:         make(chan error, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pollInterval >= c.staleAfter {
		return nil, fmt.Errorf("roomsync: typing poll interval %s must be shorter than stale window %s", c.pollInterval, c.staleAfter)
	}
	c.toggler = reactions.NewToggler(backend,
		reactions.WithLogger(c.logger),
		reactions.WithConflictHook(func() { c.metrics.ConflictIgnored("reaction") }),
	)
	return c, nil
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomID returns the room being opened or open, if any.
func (c *Coordinator) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Generation returns the current session generation.
func (c *Coordinator) Generation() uint64 {
	return c.gen.Load()
}

// OpenRoom subscribes to the room's feeds, fetches its messages, members and
// typing signals, and starts publishing snapshots. Any previously open room
// is closed first. On a fetch failure the coordinator stays OPENING and the
// FetchError is returned so the caller can retry. If CloseRoom or another
// OpenRoom supersedes this call while it is fetching, ErrSessionClosed is
// returned and nothing is published.
func (c *Coordinator) OpenRoom(ctx context.Context, roomID string) error {
	self := c.identity.CurrentUserID()
	if roomID == "" || self == "" {
		return fmt.Errorf("open room: %w", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	if c.session != nil {
		c.session.stop()
	}
	gen := c.gen.Add(1)
	s := newSession(c, roomID, self, gen)
	c.session = s
	c.state = StateOpening
	c.roomID = roomID
	c.mu.Unlock()
	c.clearSnapshot()

	s.logger.InfoContext(ctx, "Opening room")

	// Fetches are abandoned as soon as the session is stopped.
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()
	stopAfter := context.AfterFunc(s.ctx, cancelFetch)
	defer stopAfter()

	// Subscribing first means no delta committed during the fetch is lost.
	err := s.subscribe(fetchCtx)

	var (
		list    []domain.Message
		members []domain.Member
		signals []domain.TypingSignal
		at      = c.now()
	)
	if err == nil {
		g, gctx := errgroup.WithContext(fetchCtx)
		g.Go(func() (err error) {
			list, err = s.fetchMessages(gctx)
			return err
		})
		g.Go(func() (err error) {
			members, err = s.fetchMembers(gctx)
			return err
		})
		g.Go(func() (err error) {
			signals, err = s.fetchTyping(gctx, at)
			return err
		})
		err = g.Wait()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen.Load() != gen {
		c.metrics.StaleDiscard()
		s.logger.InfoContext(ctx, "Room session superseded while opening")
		return domain.ErrSessionClosed
	}
	if err != nil {
		s.stop()
		c.session = nil
		var fetchErr *domain.FetchError
		if errors.As(err, &fetchErr) {
			c.metrics.FetchError(fetchErr.Resource)
		}
		s.logger.WarnContext(ctx, "Failed to open room", "error", err)
		return err
	}

	s.msgs.Replace(list)
	s.members.Replace(members)
	s.typing.Observe(signals, at)
	c.publish(gen, s.snapshot())

	s.start()
	c.state = StateOpen
	s.logger.InfoContext(ctx, "Room open", "messages", len(list), "members", len(members))
	return nil
}

// CloseRoom stops the session and releases its subscriptions without waiting
// for in-flight fetches. Their results are discarded on arrival. Closing a
// closed coordinator is a no-op.
func (c *Coordinator) CloseRoom() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.gen.Add(1)
	s := c.session
	c.session = nil
	c.state = StateClosed
	c.roomID = ""
	c.mu.Unlock()

	if s != nil {
		s.stop()
		s.logger.Info("Room closed")
	}
	c.clearSnapshot()
}

// current returns the session mutations are issued against.
func (c *Coordinator) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, domain.ErrNotOpen
	}
	return c.session, nil
}

// SendMessage persists a message in the open room. It appears in snapshots
// only once the feed delivers it.
func (c *Coordinator) SendMessage(ctx context.Context, content string, attachment *domain.Attachment) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.msgs.Send(ctx, domain.OutgoingMessage{
		RoomID:     s.roomID,
		AuthorID:   s.self,
		Content:    content,
		Attachment: attachment,
	})
}

// SendFile uploads data and sends a message referencing it.
func (c *Coordinator) SendFile(ctx context.Context, content string, data []byte, name string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if c.uploader == nil {
		return &domain.SendError{Op: "upload", Input: name, Err: ErrNoUploader}
	}
	url, err := c.uploader.Upload(ctx, s.self, data, name)
	if err != nil {
		return &domain.SendError{Op: "upload", Input: name, Err: err}
	}
	return c.SendMessage(ctx, content, &domain.Attachment{URL: url, Name: name})
}

// ToggleReaction adds the caller's emoji reaction to a message, or removes it
// when the latest snapshot shows the caller already reacted.
func (c *Coordinator) ToggleReaction(ctx context.Context, messageID, emoji string) (reactions.Action, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	return c.toggler.Toggle(ctx, messageID, s.self, emoji, c.reactedByMe(messageID, emoji))
}

// AddReaction inserts the caller's reaction. A duplicate is ignored.
func (c *Coordinator) AddReaction(ctx context.Context, messageID, emoji string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return c.toggler.Add(ctx, messageID, s.self, emoji)
}

// RemoveReaction deletes the caller's reaction.
func (c *Coordinator) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return c.toggler.Remove(ctx, messageID, s.self, emoji)
}

func (c *Coordinator) reactedByMe(messageID, emoji string) bool {
	snap, ok := c.Snapshot()
	if !ok {
		return false
	}
	emoji = domain.NormalizeEmoji(emoji)
	for _, m := range snap.Messages {
		if m.ID == messageID {
			return reactions.ReactedBy(m.ReactionCounts, emoji)
		}
	}
	return false
}

// MarkTyping upserts the caller's typing signal. Callers debounce; the
// signal is idempotent per (room, user).
func (c *Coordinator) MarkTyping(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	at := c.now()
	if err := c.backend.UpsertTyping(ctx, s.roomID, s.self, at); err != nil {
		return &domain.SendError{Op: "mark_typing", Input: domain.TypingSignal{RoomID: s.roomID, UserID: s.self, LastTypedAt: at}, Err: err}
	}
	return nil
}

// JoinRoom adds the caller to roomID. Joining twice is not an error.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID string) error {
	self := c.identity.CurrentUserID()
	joined, err := membership.Join(ctx, c.backend, roomID, self)
	if err != nil {
		return err
	}
	if !joined {
		c.metrics.ConflictIgnored("member")
		c.logger.DebugContext(ctx, "Ignoring duplicate join", "room_id", roomID, "user_id", self)
	}
	return nil
}

func (c *Coordinator) reportError(err error) {
	var fetchErr *domain.FetchError
	if errors.As(err, &fetchErr) {
		c.metrics.FetchError(fetchErr.Resource)
	}
	c.logger.Warn("Background fetch failed", "error", err)
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("Error channel full, dropping error", "error", err)
	}
}
