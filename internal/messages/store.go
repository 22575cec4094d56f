// Package messages keeps the ordered message list of an open room. Rows are
// never shown speculatively: a sent message appears only once the feed
// delivers it and the joined row has been fetched.
package messages

import (
	"context"
	"slices"

	"github.com/careerct/room-whisper-sync/internal/domain"
)

// Backend is the slice of the durable store used for messages.
type Backend interface {
	ListMessages(ctx context.Context, roomID string) ([]domain.Message, error)
	GetMessage(ctx context.Context, id string) (domain.Message, error)
	InsertMessage(ctx context.Context, msg domain.OutgoingMessage) error
}

// Store holds the messages of one room sorted by (CreatedAt, ID). Reads and
// applies are not safe for concurrent use; Fetch, FetchOne and Send only touch
// the backend and may run from any goroutine.
type Store struct {
	backend Backend
	list    []domain.Message
}

// NewStore creates an empty store backed by b.
func NewStore(b Backend) *Store {
	return &Store{backend: b}
}

// Fetch returns the authoritative, sorted message list of the room.
func (s *Store) Fetch(ctx context.Context, roomID string) ([]domain.Message, error) {
	list, err := s.backend.ListMessages(ctx, roomID)
	if err != nil {
		return nil, &domain.FetchError{Resource: "messages", RoomID: roomID, Err: err}
	}
	slices.SortFunc(list, domain.Message.Compare)
	return list, nil
}

// FetchOne returns a single message joined with its reactions.
func (s *Store) FetchOne(ctx context.Context, id string) (domain.Message, error) {
	msg, err := s.backend.GetMessage(ctx, id)
	if err != nil {
		return domain.Message{}, &domain.FetchError{Resource: "message", Err: err}
	}
	return msg, nil
}

// Load fetches the room and replaces the local list. On failure the local
// list is left as it was.
func (s *Store) Load(ctx context.Context, roomID string) error {
	list, err := s.Fetch(ctx, roomID)
	if err != nil {
		return err
	}
	s.Replace(list)
	return nil
}

// Send validates and persists msg. The caller's input is returned unchanged
// inside the SendError so it can be retried as-is.
func (s *Store) Send(ctx context.Context, msg domain.OutgoingMessage) error {
	out := msg
	if out.Attachment != nil {
		a := *out.Attachment
		out.Attachment = &a
	}
	out.Normalize()
	if err := out.Validate(); err != nil {
		return &domain.SendError{Op: "send_message", Input: msg, Err: err}
	}
	if err := s.backend.InsertMessage(ctx, out); err != nil {
		return &domain.SendError{Op: "send_message", Input: msg, Err: err}
	}
	return nil
}

// Replace swaps the local list for an authoritative result.
func (s *Store) Replace(list []domain.Message) {
	s.list = s.list[:0]
	for _, m := range list {
		s.ApplyInsert(m)
	}
}

// ApplyInsert puts m at its sorted position. A row whose id is already held
// is left untouched, as is a row without an id.
func (s *Store) ApplyInsert(m domain.Message) {
	if m.ID == "" || s.indexOf(m.ID) >= 0 {
		return
	}
	s.insertSorted(m)
}

// ApplyUpdate replaces the row with m's id, re-sorting when CreatedAt moved.
// An unknown id is inserted.
func (s *Store) ApplyUpdate(m domain.Message) {
	if m.ID == "" {
		return
	}
	i := s.indexOf(m.ID)
	if i < 0 {
		s.insertSorted(m)
		return
	}
	if s.list[i].CreatedAt.Equal(m.CreatedAt) {
		s.list[i] = m
		return
	}
	s.list = slices.Delete(s.list, i, i+1)
	s.insertSorted(m)
}

// ApplyDelete removes the row with the given id, if present.
func (s *Store) ApplyDelete(id string) {
	if i := s.indexOf(id); i >= 0 {
		s.list = slices.Delete(s.list, i, i+1)
	}
}

// Messages returns a copy of the sorted list.
func (s *Store) Messages() []domain.Message {
	out := make([]domain.Message, len(s.list))
	copy(out, s.list)
	return out
}

// Has reports whether the id is held.
func (s *Store) Has(id string) bool {
	return s.indexOf(id) >= 0
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	return len(s.list)
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.list, func(m domain.Message) bool { return m.ID == id })
}

func (s *Store) insertSorted(m domain.Message) {
	i, _ := slices.BinarySearchFunc(s.list, m, domain.Message.Compare)
	s.list = slices.Insert(s.list, i, m)
}
