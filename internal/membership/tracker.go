// Package membership keeps the roster of an open room.
package membership

import (
	"context"
	"slices"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/store"
)

// Inserter is the slice of the durable store used to join a room.
type Inserter interface {
	InsertMember(ctx context.Context, roomID, userID string) error
}

// Join adds userID to the room. A second join of the same user is reported as
// joined == false with a nil error; any other failure is a SendError.
func Join(ctx context.Context, s Inserter, roomID, userID string) (joined bool, err error) {
	if roomID == "" || userID == "" {
		return false, &domain.SendError{Op: "join_room", Input: [2]string{roomID, userID}, Err: domain.ErrInvalidInput}
	}
	err = s.InsertMember(ctx, roomID, userID)
	switch {
	case err == nil:
		return true, nil
	case store.IsConflict(err):
		return false, nil
	default:
		return false, &domain.SendError{Op: "join_room", Input: [2]string{roomID, userID}, Err: err}
	}
}

// Tracker holds the roster in the order rows were first seen. It is not safe
// for concurrent use.
type Tracker struct {
	members []domain.Member
}

// NewTracker creates an empty roster.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Replace swaps the roster for an authoritative refetch result.
func (t *Tracker) Replace(list []domain.Member) {
	t.members = t.members[:0]
	for _, m := range list {
		t.ApplyInsert(m)
	}
}

// ApplyInsert adds a row unless one with the same id, or for the same user,
// is already held. Repeated delivery is a no-op.
func (t *Tracker) ApplyInsert(m domain.Member) {
	if t.indexOf(m) >= 0 {
		return
	}
	t.members = append(t.members, m)
}

// ApplyUpdate replaces the matching row in place, or inserts it when the row
// is unknown.
func (t *Tracker) ApplyUpdate(m domain.Member) {
	if i := t.indexOf(m); i >= 0 {
		t.members[i] = m
		return
	}
	t.members = append(t.members, m)
}

// ApplyDelete removes the row with the given id. Unknown ids are ignored.
func (t *Tracker) ApplyDelete(id string) {
	t.members = slices.DeleteFunc(t.members, func(m domain.Member) bool {
		return m.ID == id
	})
}

// Members returns a copy of the roster.
func (t *Tracker) Members() []domain.Member {
	out := make([]domain.Member, len(t.members))
	copy(out, t.members)
	return out
}

// Has reports whether userID is on the roster.
func (t *Tracker) Has(userID string) bool {
	return slices.ContainsFunc(t.members, func(m domain.Member) bool {
		return m.UserID == userID
	})
}

// Len returns the roster size.
func (t *Tracker) Len() int {
	return len(t.members)
}

func (t *Tracker) indexOf(m domain.Member) int {
	return slices.IndexFunc(t.members, func(held domain.Member) bool {
		return (m.ID != "" && held.ID == m.ID) || (m.UserID != "" && held.UserID == m.UserID)
	})
}
