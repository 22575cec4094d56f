// Package pgstore is the PostgreSQL backend. Row changes reach subscribers
// through triggers that pg_notify a single channel, read with pq.Listener.
package pgstore

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	minReconnect = 10 * time.Millisecond
	maxReconnect = time.Minute
)

// Store implements store.Backend and store.TypingPruner on PostgreSQL.
type Store struct {
	db       *sql.DB
	listener *pq.Listener
	feed     *feed
	logger   *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var (
	_ store.Backend      = (*Store)(nil)
	_ store.TypingPruner = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open connects to dsn and starts listening for change notifications.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, mapError("ping", err)
	}

	s := &Store{
		db:     db,
		feed:   newFeed(),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "pgstore")

	s.listener = pq.NewListener(dsn, minReconnect, maxReconnect, s.listenerEvent)
	if err := s.listener.Listen(NotifyChannel); err != nil {
		_ = s.listener.Close()
		_ = db.Close()
		return nil, mapError("listen", err)
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *Store) listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		s.logger.Warn("Notification listener lost connection", "event", int(ev), "error", err)
	case pq.ListenerEventReconnected:
		s.logger.Info("Notification listener reconnected")
	}
}

func (s *Store) run() {
	defer s.wg.Done()
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Sent after a reconnect; notifications may have been missed.
				s.logger.Warn("Notification listener resynchronised, changes may have been lost")
				continue
			}
			change, err := decodeNotification(n)
			if err != nil {
				s.logger.Warn("Ignoring notification", "error", err)
				continue
			}
			s.feed.dispatch(change)
		case <-ping.C:
			if err := s.listener.Ping(); err != nil {
				s.logger.Warn("Notification listener ping failed", "error", err)
			}
		}
	}
}

// Subscribe implements store.Feed.
func (s *Store) Subscribe(ctx context.Context, topic store.Topic, filter store.Filter, handler store.Handler) (store.Subscription, error) {
	if handler == nil {
		return store.Subscription{}, errors.New("handler cannot be nil")
	}
	return s.feed.add(ctx, topic, filter, handler), nil
}

// Unsubscribe implements store.Feed.
func (s *Store) Unsubscribe(sub store.Subscription) error {
	s.feed.remove(sub.ID)
	return nil
}

// Close stops the listener and closes the pool.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.feed.removeAll()
		err = errors.Join(s.listener.Close(), s.db.Close())
		s.wg.Wait()
	})
	return err
}

const selectMessages = `SELECT m.id, m.room_id, m.user_id, m.content,
	COALESCE(m.file_url, ''), COALESCE(m.file_name, ''), m.created_at,
	COALESCE(p.username, ''), COALESCE(p.avatar_url, '')
FROM messages m LEFT JOIN profiles p ON p.id = m.user_id`

func scanMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var (
		m                 domain.Message
		fileURL, fileName string
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Content, &fileURL, &fileName, &m.CreatedAt, &m.AuthorName, &m.AuthorAvatar)
	if err != nil {
		return domain.Message{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	if fileURL != "" {
		m.Attachment = &domain.Attachment{URL: fileURL, Name: fileName}
	}
	return m, nil
}

// ListMessages implements store.Store.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, selectMessages+" WHERE m.room_id = $1 ORDER BY m.created_at, m.id", roomID)
	if err != nil {
		return nil, mapError("list_messages", err)
	}
	defer rows.Close()

	var out []domain.Message
	index := make(map[string]int)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapError("list_messages", err)
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list_messages", err)
	}

	reactions, err := s.reactions(ctx, "room_id", roomID)
	if err != nil {
		return nil, err
	}
	for _, r := range reactions {
		if i, ok := index[r.MessageID]; ok {
			out[i].Reactions = append(out[i].Reactions, r)
		}
	}
	return out, nil
}

// GetMessage implements store.Store.
func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, selectMessages+" WHERE m.id = $1", id))
	if err != nil {
		return domain.Message{}, mapError("get_message", err)
	}
	m.Reactions, err = s.reactions(ctx, "message_id", id)
	if err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// reactions lists reactions by room_id or message_id in creation order.
func (s *Store) reactions(ctx context.Context, column, value string) ([]domain.Reaction, error) {
	if column != "room_id" && column != "message_id" {
		return nil, fmt.Errorf("reactions: unsupported column %q", column)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, message_id, user_id, emoji FROM message_reactions WHERE "+column+" = $1 ORDER BY created_at, id", value)
	if err != nil {
		return nil, mapError("list_reactions", err)
	}
	defer rows.Close()

	var out []domain.Reaction
	for rows.Next() {
		var r domain.Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji); err != nil {
			return nil, mapError("list_reactions", err)
		}
		out = append(out, r)
	}
	return out, mapError("list_reactions", rows.Err())
}

// InsertMessage implements store.Store.
func (s *Store) InsertMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	var fileURL, fileName sql.NullString
	if msg.Attachment != nil {
		fileURL = sql.NullString{String: msg.Attachment.URL, Valid: true}
		fileName = sql.NullString{String: msg.Attachment.Name, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, room_id, user_id, content, file_url, file_name) VALUES ($1, $2, $3, $4, $5, $6)",
		newID(), msg.RoomID, msg.AuthorID, msg.Content, fileURL, fileName)
	return mapError("insert_message", err)
}

// InsertReaction implements store.Store. A duplicate triple fails with
// SQLSTATE 23505 and a missing message with 23503.
func (s *Store) InsertReaction(ctx context.Context, messageID, userID, emoji string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO message_reactions (id, message_id, room_id, user_id, emoji)
		 SELECT $1, m.id, m.room_id, $3, $4 FROM messages m WHERE m.id = $2`,
		newID(), messageID, userID, emoji)
	if err != nil {
		return mapError("insert_reaction", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.NewError(store.CodeInvalid, "insert_reaction", fmt.Errorf("message %s does not exist", messageID))
	}
	return nil
}

// DeleteReaction implements store.Store.
func (s *Store) DeleteReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3",
		messageID, userID, emoji)
	return mapError("delete_reaction", err)
}

// ListMembers implements store.Store.
func (s *Store) ListMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rm.id, rm.room_id, rm.user_id,
		COALESCE(p.username, rm.user_id), COALESCE(p.avatar_url, ''), COALESCE(NULLIF(p.status, ''), $2)
		FROM room_members rm LEFT JOIN profiles p ON p.id = rm.user_id
		WHERE rm.room_id = $1`, roomID, domain.StatusOffline)
	if err != nil {
		return nil, mapError("list_members", err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.AvatarRef, &m.PresenceStatus); err != nil {
			return nil, mapError("list_members", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list_members", err)
	}
	slices.SortFunc(out, func(a, b domain.Member) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// InsertMember implements store.Store.
func (s *Store) InsertMember(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO room_members (id, room_id, user_id) VALUES ($1, $2, $3)",
		newID(), roomID, userID)
	return mapError("insert_member", err)
}

// UpsertProfile implements store.Store. The user's member rows are touched in
// the same transaction so their rooms' member feeds fire.
func (s *Store) UpsertProfile(ctx context.Context, profile domain.Profile) error {
	if err := profile.Validate(); err != nil {
		return store.NewError(store.CodeInvalid, "upsert_profile", err)
	}
	status := profile.Status
	if status == "" {
		status = domain.StatusOffline
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("upsert_profile", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO profiles (id, username, avatar_url, status, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, avatar_url = EXCLUDED.avatar_url,
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		profile.ID, profile.Username, profile.AvatarURL, status); err != nil {
		return mapError("upsert_profile", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE room_members SET profile_updated_at = now() WHERE user_id = $1", profile.ID); err != nil {
		return mapError("upsert_profile", err)
	}
	return mapError("upsert_profile", tx.Commit())
}

// UpsertTyping implements store.Store.
func (s *Store) UpsertTyping(ctx context.Context, roomID, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO typing_indicators (room_id, user_id, last_typed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO UPDATE SET last_typed_at = EXCLUDED.last_typed_at`,
		roomID, userID, at.UTC())
	return mapError("upsert_typing", err)
}

// ListTyping implements store.Store.
func (s *Store) ListTyping(ctx context.Context, roomID string, since time.Time) ([]domain.TypingSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT room_id, user_id, last_typed_at FROM typing_indicators WHERE room_id = $1 AND last_typed_at > $2 ORDER BY user_id",
		roomID, since.UTC())
	if err != nil {
		return nil, mapError("list_typing", err)
	}
	defer rows.Close()

	var out []domain.TypingSignal
	for rows.Next() {
		var sig domain.TypingSignal
		if err := rows.Scan(&sig.RoomID, &sig.UserID, &sig.LastTypedAt); err != nil {
			return nil, mapError("list_typing", err)
		}
		sig.LastTypedAt = sig.LastTypedAt.UTC()
		out = append(out, sig)
	}
	return out, mapError("list_typing", rows.Err())
}

// PruneTyping implements store.TypingPruner.
func (s *Store) PruneTyping(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM typing_indicators WHERE last_typed_at < $1", before.UTC())
	if err != nil {
		return 0, mapError("prune_typing", err)
	}
	n, err := res.RowsAffected()
	return int(n), mapError("prune_typing", err)
}

// DeleteMessage removes a message; reactions go with it through the foreign
// key cascade.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return mapError("delete_message", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.NewError(store.CodeNotFound, "delete_message", fmt.Errorf("message %s", id))
	}
	return nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
