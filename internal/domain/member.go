package domain

import "time"

// Presence statuses carried on profiles.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// Member is one room membership row joined with the member's profile.
type Member struct {
	ID             string `json:"id"`
	RoomID         string `json:"room_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	AvatarRef      string `json:"avatar_ref,omitempty"`
	PresenceStatus string `json:"presence_status"`
}

// Profile is the public identity data joined onto messages and members.
type Profile struct {
	ID        string `json:"id" validate:"required"`
	Username  string `json:"username" validate:"required,max=64"`
	AvatarURL string `json:"avatar_url,omitempty" validate:"omitempty,url"`
	Status    string `json:"status" validate:"omitempty,oneof=online away offline"`
}

// Validate runs validation checks on the Profile using the defined tags.
func (p *Profile) Validate() error {
	if err := validatorInstance.Struct(p); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// TypingSignal is the single per-(room, user) row upserted on every keystroke.
type TypingSignal struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	LastTypedAt time.Time `json:"last_typed_at"`
}
