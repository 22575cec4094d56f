package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// validatorInstance is a package-level validator instance.
// Using a single instance is more efficient as it caches struct information.
var validatorInstance = validator.New()

// MaxContentLength is the longest message body accepted by SendMessage.
const MaxContentLength = 4000

// Attachment references a blob uploaded before the message was sent.
type Attachment struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name" validate:"required,max=255"`
}

// Message is a single chat message row as seen by the client, joined with the
// reactions that currently reference it and the author's profile.
type Message struct {
	ID           string      `json:"id"`
	RoomID       string      `json:"room_id"`
	AuthorID     string      `json:"user_id"`
	AuthorName   string      `json:"author_name,omitempty"`
	AuthorAvatar string      `json:"author_avatar,omitempty"`
	Content      string      `json:"content"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	Reactions    []Reaction  `json:"reactions,omitempty"`
}

// Before reports whether m sorts before other: ascending by CreatedAt, with
// the ID as tie-break for rows inserted within the same instant.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Compare is Before expressed as a three-way comparison for slices.SortFunc.
func (m Message) Compare(other Message) int {
	switch {
	case m.ID == other.ID && m.CreatedAt.Equal(other.CreatedAt):
		return 0
	case m.Before(other):
		return -1
	default:
		return 1
	}
}

// OutgoingMessage is the input of a send. It is validated before any store
// call so malformed input never reaches the backend.
type OutgoingMessage struct {
	RoomID     string      `json:"room_id" validate:"required"`
	AuthorID   string      `json:"user_id" validate:"required"`
	Content    string      `json:"content" validate:"required_without=Attachment,max=4000"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Normalize trims surrounding whitespace and puts the content in NFC form so
// that visually identical messages compare equal.
func (m *OutgoingMessage) Normalize() {
	m.Content = norm.NFC.String(strings.TrimSpace(m.Content))
}

// Validate runs validation checks on the OutgoingMessage using the defined tags.
func (m *OutgoingMessage) Validate() error {
	if err := validatorInstance.Struct(m); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// MessageView is a message together with its aggregated reactions, the unit
// exposed to the presentation layer.
type MessageView struct {
	Message
	ReactionCounts []ReactionCount `json:"reaction_counts"`
}

// RoomSnapshot is the read-only state of an open room. It is rebuilt on every
// accepted delta and never mutated after publication.
type RoomSnapshot struct {
	RoomID      string        `json:"room_id"`
	Generation  uint64        `json:"generation"`
	Messages    []MessageView `json:"messages"`
	Members     []Member      `json:"members"`
	TypingUsers []string      `json:"typing_users"`
	BuiltAt     time.Time     `json:"built_at"`
}
