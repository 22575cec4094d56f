package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
)

// Row shapes selected from SurrealDB. Datetimes are cast to strings in the
// query and parsed here.
type messageRecord struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
	FileURL   string `json:"file_url"`
	FileName  string `json:"file_name"`
	CreatedAt string `json:"created_at"`
}

type reactionRecord struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	CreatedAt string `json:"created_at"`
}

type memberRecord struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type profileRecord struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	Status    string `json:"status"`
}

type typingRecord struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	LastTypedAt string `json:"last_typed_at"`
}

// compositeKey joins the parts of an array record id.
func compositeKey(parts ...string) string {
	return strings.Join(parts, "/")
}

// parseDateTime accepts both the bare RFC 3339 form and the d'...' literal
// form SurrealDB uses when casting datetimes to strings.
func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "d'"), "'")
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse datetime %q: %w", s, err)
	}
	return t.UTC(), nil
}

func formatDateTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (r messageRecord) toDomain(p *profileRecord) (domain.Message, error) {
	createdAt, err := parseDateTime(r.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	m := domain.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		AuthorID:  r.UserID,
		Content:   r.Content,
		CreatedAt: createdAt,
	}
	if r.FileURL != "" {
		m.Attachment = &domain.Attachment{URL: r.FileURL, Name: r.FileName}
	}
	if p != nil {
		m.AuthorName = p.Username
		m.AuthorAvatar = p.AvatarURL
	}
	return m, nil
}

func (r reactionRecord) toDomain() domain.Reaction {
	return domain.Reaction{
		ID:        compositeKey(r.MessageID, r.UserID, r.Emoji),
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
	}
}

func (r memberRecord) toDomain(p *profileRecord) domain.Member {
	m := domain.Member{
		ID:             compositeKey(r.RoomID, r.UserID),
		RoomID:         r.RoomID,
		UserID:         r.UserID,
		Username:       r.UserID,
		PresenceStatus: domain.StatusOffline,
	}
	if p != nil {
		m.Username = p.Username
		m.AvatarRef = p.AvatarURL
		if p.Status != "" {
			m.PresenceStatus = p.Status
		}
	}
	return m
}

func (r typingRecord) toDomain() (domain.TypingSignal, error) {
	at, err := parseDateTime(r.LastTypedAt)
	if err != nil {
		return domain.TypingSignal{}, err
	}
	return domain.TypingSignal{RoomID: r.RoomID, UserID: r.UserID, LastTypedAt: at}, nil
}
