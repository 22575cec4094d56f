package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Reaction is one user's emoji on one message. The durable store enforces at
// most one row per (MessageID, UserID, Emoji).
type Reaction struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// ReactionCount is the aggregated view of a single emoji on a message.
type ReactionCount struct {
	Emoji                string `json:"emoji"`
	Count                int    `json:"count"`
	ReactedByCurrentUser bool   `json:"reacted_by_current_user"`
}

// NormalizeEmoji returns the key used to group and store an emoji.
func NormalizeEmoji(emoji string) string {
	return norm.NFC.String(strings.TrimSpace(emoji))
}
