package httpapi

import "github.com/careerct/room-whisper-sync/internal/domain"

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	Content    string             `json:"content"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

// ReactionRequest is the body of the reaction endpoints.
type ReactionRequest struct {
	MessageID string `json:"message_id" query:"message_id" validate:"required"`
	Emoji     string `json:"emoji" query:"emoji" validate:"required"`
}

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomResponse reports the coordinator lifecycle after a room operation.
type RoomResponse struct {
	RoomID string `json:"room_id"`
	State  string `json:"state"`
}

// ToggleResponse reports what a toggle issued.
type ToggleResponse struct {
	Action string `json:"action"`
}

// TypingResponse tells the caller whether the signal was sent or debounced.
type TypingResponse struct {
	Debounced bool `json:"debounced"`
}
