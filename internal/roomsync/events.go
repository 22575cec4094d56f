package roomsync

import (
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/store"
)

// event is a value posted to a session's inbox. Every event carries the
// generation of the session that produced it; the loop drops events whose
// generation is no longer current.
type event interface {
	generation() uint64
}

type tagged struct {
	gen uint64
}

func (t tagged) generation() uint64 { return t.gen }

// deltaEvent is a raw change-feed delta.
type deltaEvent struct {
	tagged
	change store.Change
}

// messageEvent is a message delta resolved by the messages worker. For
// deletes only msg.ID is set.
type messageEvent struct {
	tagged
	op  store.Op
	msg domain.Message
}

// messagesLoadedEvent is an authoritative refetch of the room's messages.
type messagesLoadedEvent struct {
	tagged
	list []domain.Message
}

// membersLoadedEvent is an authoritative refetch of the roster.
type membersLoadedEvent struct {
	tagged
	list []domain.Member
}

// typingEvent is one typing poll result.
type typingEvent struct {
	tagged
	signals []domain.TypingSignal
	at      time.Time
}

// failedEvent reports a background fetch failure.
type failedEvent struct {
	tagged
	err error
}
