// Package database is the SurrealDB backend: a managed connection, typed
// query helpers, the durable store and a change feed built on LIVE SELECT.
package database

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
)

const (
	messageFields  = "record::id(id) AS id, room_id, user_id, content, file_url, file_name, <string> created_at AS created_at"
	reactionFields = "message_id, user_id, emoji, <string> created_at AS created_at"
	profileFields  = "record::id(id) AS id, username, avatar_url, status"
)

// SurrealStore implements store.Backend and store.TypingPruner on SurrealDB.
type SurrealStore struct {
	conn   DBConnection
	live   *LiveQueryService
	logger *slog.Logger
}

var (
	_ store.Backend      = (*SurrealStore)(nil)
	_ store.TypingPruner = (*SurrealStore)(nil)
)

// NewSurrealStore creates a store over an established connection.
func NewSurrealStore(conn DBConnection, logger *slog.Logger) *SurrealStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SurrealStore{
		conn:   conn,
		live:   NewLiveQueryService(conn, logger),
		logger: logger.With("component", "surreal_store"),
	}
}

func (s *SurrealStore) read(ctx context.Context, op string, fn func(context.Context, *surrealdb.DB) error) error {
	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBQueryTimeout(), ContextKeyQueryTimeout)
	defer cancel()
	return mapError(op, s.conn.WithConnection(ctx, func(db *surrealdb.DB) error { return fn(ctx, db) }))
}

func (s *SurrealStore) write(ctx context.Context, op string, fn func(context.Context, *surrealdb.DB) error) error {
	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()
	return mapError(op, s.conn.WithConnection(ctx, func(db *surrealdb.DB) error { return fn(ctx, db) }))
}

// Subscribe implements store.Feed.
func (s *SurrealStore) Subscribe(ctx context.Context, topic store.Topic, filter store.Filter, handler store.Handler) (store.Subscription, error) {
	return s.live.Subscribe(ctx, topic, filter, handler)
}

// Unsubscribe implements store.Feed.
func (s *SurrealStore) Unsubscribe(sub store.Subscription) error {
	return s.live.Unsubscribe(sub)
}

// Close stops every live query and closes the connection.
func (s *SurrealStore) Close() error {
	s.live.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.conn.Close(ctx)
}

// ListMessages implements store.Store.
func (s *SurrealStore) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	var out []domain.Message
	err := s.read(ctx, "list_messages", func(ctx context.Context, db *surrealdb.DB) error {
		rows, err := Query[messageRecord](ctx, db,
			"SELECT "+messageFields+" FROM messages WHERE room_id = $room_id",
			map[string]any{"room_id": roomID})
		if err != nil {
			return err
		}
		reactions, err := Query[reactionRecord](ctx, db,
			"SELECT "+reactionFields+" FROM message_reactions WHERE room_id = $room_id",
			map[string]any{"room_id": roomID})
		if err != nil {
			return err
		}
		out, err = s.join(ctx, db, rows, reactions)
		return err
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, domain.Message.Compare)
	return out, nil
}

// GetMessage implements store.Store.
func (s *SurrealStore) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	var out []domain.Message
	err := s.read(ctx, "get_message", func(ctx context.Context, db *surrealdb.DB) error {
		rows, err := Query[messageRecord](ctx, db,
			"SELECT "+messageFields+" FROM type::thing('messages', $id)",
			map[string]any{"id": id})
		if err != nil || len(rows) == 0 {
			return err
		}
		reactions, err := Query[reactionRecord](ctx, db,
			"SELECT "+reactionFields+" FROM message_reactions WHERE message_id = $id",
			map[string]any{"id": id})
		if err != nil {
			return err
		}
		out, err = s.join(ctx, db, rows, reactions)
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	if len(out) == 0 {
		return domain.Message{}, store.NewError(store.CodeNotFound, "get_message", fmt.Errorf("message %s", id))
	}
	return out[0], nil
}

// join attaches reactions in creation order and author profiles to rows.
func (s *SurrealStore) join(ctx context.Context, db *surrealdb.DB, rows []messageRecord, reactions []reactionRecord) ([]domain.Message, error) {
	type timedReaction struct {
		r  domain.Reaction
		at time.Time
	}
	byMessage := make(map[string][]timedReaction)
	for _, r := range reactions {
		at, err := parseDateTime(r.CreatedAt)
		if err != nil {
			return nil, err
		}
		byMessage[r.MessageID] = append(byMessage[r.MessageID], timedReaction{r.toDomain(), at})
	}

	userIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		userIDs = append(userIDs, row.UserID)
	}
	profiles, err := s.profiles(ctx, db, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		var p *profileRecord
		if pr, ok := profiles[row.UserID]; ok {
			p = &pr
		}
		m, err := row.toDomain(p)
		if err != nil {
			return nil, err
		}
		rs := byMessage[row.ID]
		slices.SortStableFunc(rs, func(a, b timedReaction) int { return a.at.Compare(b.at) })
		for _, tr := range rs {
			m.Reactions = append(m.Reactions, tr.r)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *SurrealStore) profiles(ctx context.Context, db *surrealdb.DB, userIDs []string) (map[string]profileRecord, error) {
	slices.Sort(userIDs)
	userIDs = slices.Compact(userIDs)
	out := make(map[string]profileRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := Query[profileRecord](ctx, db,
		"SELECT "+profileFields+" FROM profiles WHERE record::id(id) INSIDE $ids",
		map[string]any{"ids": userIDs})
	if err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

// InsertMessage implements store.Store. created_at is assigned by the server.
func (s *SurrealStore) InsertMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	params := map[string]any{
		"id":        newID(),
		"room_id":   msg.RoomID,
		"user_id":   msg.AuthorID,
		"content":   msg.Content,
		"file_url":  "",
		"file_name": "",
	}
	if msg.Attachment != nil {
		params["file_url"] = msg.Attachment.URL
		params["file_name"] = msg.Attachment.Name
	}
	return s.write(ctx, "insert_message", func(ctx context.Context, db *surrealdb.DB) error {
		return Execute(ctx, db, `CREATE type::thing('messages', $id) CONTENT {
			room_id: $room_id, user_id: $user_id, content: $content,
			file_url: $file_url, file_name: $file_name, created_at: time::now()
		}`, params)
	})
}

// InsertReaction implements store.Store. The record id is the
// (message, user, emoji) triple, so INSERT IGNORE returning no row means the
// reaction already existed.
func (s *SurrealStore) InsertReaction(ctx context.Context, messageID, userID, emoji string) error {
	return s.write(ctx, "insert_reaction", func(ctx context.Context, db *surrealdb.DB) error {
		roomID, err := QueryOne[string](ctx, db,
			"SELECT VALUE room_id FROM type::thing('messages', $message_id)",
			map[string]any{"message_id": messageID})
		if err != nil {
			return err
		}
		if roomID == nil {
			return store.NewError(store.CodeInvalid, "insert_reaction", fmt.Errorf("message %s does not exist", messageID))
		}
		inserted, err := Query[map[string]any](ctx, db, `INSERT IGNORE INTO message_reactions {
			id: [$message_id, $user_id, $emoji], room_id: $room_id,
			message_id: $message_id, user_id: $user_id, emoji: $emoji, created_at: time::now()
		}`, map[string]any{"message_id": messageID, "user_id": userID, "emoji": emoji, "room_id": *roomID})
		if err != nil {
			return err
		}
		if len(inserted) == 0 {
			return store.NewError(store.CodeConflict, "insert_reaction",
				fmt.Errorf("reaction %s already exists", compositeKey(messageID, userID, emoji)))
		}
		return nil
	})
}

// DeleteReaction implements store.Store.
func (s *SurrealStore) DeleteReaction(ctx context.Context, messageID, userID, emoji string) error {
	return s.write(ctx, "delete_reaction", func(ctx context.Context, db *surrealdb.DB) error {
		return Execute(ctx, db, "DELETE type::thing('message_reactions', [$message_id, $user_id, $emoji])",
			map[string]any{"message_id": messageID, "user_id": userID, "emoji": emoji})
	})
}

// ListMembers implements store.Store.
func (s *SurrealStore) ListMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	var out []domain.Member
	err := s.read(ctx, "list_members", func(ctx context.Context, db *surrealdb.DB) error {
		rows, err := Query[memberRecord](ctx, db,
			"SELECT room_id, user_id FROM room_members WHERE room_id = $room_id",
			map[string]any{"room_id": roomID})
		if err != nil {
			return err
		}
		userIDs := make([]string, 0, len(rows))
		for _, r := range rows {
			userIDs = append(userIDs, r.UserID)
		}
		profiles, err := s.profiles(ctx, db, userIDs)
		if err != nil {
			return err
		}
		out = make([]domain.Member, 0, len(rows))
		for _, r := range rows {
			var p *profileRecord
			if pr, ok := profiles[r.UserID]; ok {
				p = &pr
			}
			out = append(out, r.toDomain(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.Member) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// InsertMember implements store.Store, detecting duplicates the same way as
// InsertReaction.
func (s *SurrealStore) InsertMember(ctx context.Context, roomID, userID string) error {
	return s.write(ctx, "insert_member", func(ctx context.Context, db *surrealdb.DB) error {
		inserted, err := Query[map[string]any](ctx, db, `INSERT IGNORE INTO room_members {
			id: [$room_id, $user_id], room_id: $room_id, user_id: $user_id, joined_at: time::now()
		}`, map[string]any{"room_id": roomID, "user_id": userID})
		if err != nil {
			return err
		}
		if len(inserted) == 0 {
			return store.NewError(store.CodeConflict, "insert_member",
				fmt.Errorf("user %s already in room %s", userID, roomID))
		}
		return nil
	})
}

// UpsertProfile implements store.Store. Member rows of the user are touched
// so their rooms' member feeds fire.
func (s *SurrealStore) UpsertProfile(ctx context.Context, profile domain.Profile) error {
	if err := profile.Validate(); err != nil {
		return store.NewError(store.CodeInvalid, "upsert_profile", err)
	}
	return s.write(ctx, "upsert_profile", func(ctx context.Context, db *surrealdb.DB) error {
		return Execute(ctx, db, `
			UPSERT type::thing('profiles', $id) CONTENT { username: $username, avatar_url: $avatar_url, status: $status };
			UPDATE room_members SET profile_updated_at = time::now() WHERE user_id = $id;
		`, map[string]any{
			"id":         profile.ID,
			"username":   profile.Username,
			"avatar_url": profile.AvatarURL,
			"status":     profile.Status,
		})
	})
}

// UpsertTyping implements store.Store.
func (s *SurrealStore) UpsertTyping(ctx context.Context, roomID, userID string, at time.Time) error {
	return s.write(ctx, "upsert_typing", func(ctx context.Context, db *surrealdb.DB) error {
		return Execute(ctx, db, `UPSERT type::thing('typing_indicators', [$room_id, $user_id]) CONTENT {
			room_id: $room_id, user_id: $user_id, last_typed_at: <datetime> $at
		}`, map[string]any{"room_id": roomID, "user_id": userID, "at": formatDateTime(at)})
	})
}

// ListTyping implements store.Store.
func (s *SurrealStore) ListTyping(ctx context.Context, roomID string, since time.Time) ([]domain.TypingSignal, error) {
	var out []domain.TypingSignal
	err := s.read(ctx, "list_typing", func(ctx context.Context, db *surrealdb.DB) error {
		rows, err := Query[typingRecord](ctx, db, `SELECT room_id, user_id, <string> last_typed_at AS last_typed_at
			FROM typing_indicators WHERE room_id = $room_id AND last_typed_at > <datetime> $since`,
			map[string]any{"room_id": roomID, "since": formatDateTime(since)})
		if err != nil {
			return err
		}
		out = make([]domain.TypingSignal, 0, len(rows))
		for _, r := range rows {
			sig, err := r.toDomain()
			if err != nil {
				return err
			}
			out = append(out, sig)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.TypingSignal) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

// PruneTyping implements store.TypingPruner.
func (s *SurrealStore) PruneTyping(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.write(ctx, "prune_typing", func(ctx context.Context, db *surrealdb.DB) error {
		deleted, err := Query[map[string]any](ctx, db,
			"DELETE typing_indicators WHERE last_typed_at < <datetime> $before RETURN BEFORE",
			map[string]any{"before": formatDateTime(before)})
		n = len(deleted)
		return err
	})
	return n, err
}

// DeleteMessage removes a message; the schema event cascades to its
// reactions.
func (s *SurrealStore) DeleteMessage(ctx context.Context, id string) error {
	return s.write(ctx, "delete_message", func(ctx context.Context, db *surrealdb.DB) error {
		deleted, err := Query[map[string]any](ctx, db, "DELETE type::thing('messages', $id) RETURN BEFORE", map[string]any{"id": id})
		if err != nil {
			return err
		}
		if len(deleted) == 0 {
			return store.NewError(store.CodeNotFound, "delete_message", fmt.Errorf("message %s", id))
		}
		return nil
	})
}

// newID returns a time-ordered record key.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

