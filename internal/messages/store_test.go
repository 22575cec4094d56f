package messages

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	args := m.Called(roomID)
	list, _ := args.Get(0).([]domain.Message)
	return list, args.Error(1)
}

func (m *mockBackend) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	args := m.Called(id)
	return args.Get(0).(domain.Message), args.Error(1)
}

func (m *mockBackend) InsertMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	args := m.Called(msg)
	return args.Error(0)
}

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration, content string) domain.Message {
	return domain.Message{ID: id, RoomID: "general", AuthorID: "alice", Content: content, CreatedAt: base.Add(offset)}
}

func ids(list []domain.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func TestStore_InsertKeepsOrderWithIDTieBreak(t *testing.T) {
	s := NewStore(nil)

	s.ApplyInsert(msg("c", 2*time.Second, "third"))
	s.ApplyInsert(msg("b", time.Second, "same instant"))
	s.ApplyInsert(msg("a", time.Second, "same instant"))
	s.ApplyInsert(msg("z", 0, "first"))

	assert.Equal(t, []string{"z", "a", "b", "c"}, ids(s.Messages()))
}

func TestStore_DuplicateInsertIsNoop(t *testing.T) {
	s := NewStore(nil)
	s.ApplyInsert(msg("a", 0, "hello"))
	before := s.Messages()

	s.ApplyInsert(msg("a", 0, "hello"))

	assert.Equal(t, before, s.Messages())
}

func TestStore_UpdateUnknownIsInsert(t *testing.T) {
	s := NewStore(nil)
	s.ApplyUpdate(msg("a", 0, "late update"))
	require.True(t, s.Has("a"))
	assert.Equal(t, "late update", s.Messages()[0].Content)
}

func TestStore_UpdateReplacesAndResorts(t *testing.T) {
	s := NewStore(nil)
	s.ApplyInsert(msg("a", 0, "one"))
	s.ApplyInsert(msg("b", time.Second, "two"))

	s.ApplyUpdate(msg("a", 0, "edited"))
	assert.Equal(t, "edited", s.Messages()[0].Content)

	s.ApplyUpdate(msg("a", 5*time.Second, "moved"))
	assert.Equal(t, []string{"b", "a"}, ids(s.Messages()))
}

func TestStore_DeleteAbsentIsNoop(t *testing.T) {
	s := NewStore(nil)
	s.ApplyInsert(msg("a", 0, "one"))

	s.ApplyDelete("missing")
	s.ApplyDelete("a")
	s.ApplyDelete("a")

	assert.Zero(t, s.Len())
}

func TestStore_EmptyIDIsIgnored(t *testing.T) {
	s := NewStore(nil)
	s.ApplyInsert(msg("", 0, "bad"))
	s.ApplyUpdate(msg("", 0, "bad"))
	assert.Zero(t, s.Len())
}

func TestStore_LoadFailureKeepsState(t *testing.T) {
	b := &mockBackend{}
	b.On("ListMessages", "general").Return(nil, store.NewError(store.CodeUnavailable, "list_messages", errors.New("down")))

	s := NewStore(b)
	s.ApplyInsert(msg("a", 0, "kept"))

	err := s.Load(context.Background(), "general")

	var fetchErr *domain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "messages", fetchErr.Resource)
	assert.Equal(t, []string{"a"}, ids(s.Messages()))
}

func TestStore_LoadSortsBackendResult(t *testing.T) {
	b := &mockBackend{}
	b.On("ListMessages", "general").Return([]domain.Message{
		msg("b", time.Second, ""), msg("a", time.Second, ""), msg("c", 0, ""),
	}, nil)

	s := NewStore(b)
	require.NoError(t, s.Load(context.Background(), "general"))
	assert.Equal(t, []string{"c", "a", "b"}, ids(s.Messages()))
}

func TestStore_SendPersistsNormalizedInput(t *testing.T) {
	b := &mockBackend{}
	b.On("InsertMessage", domain.OutgoingMessage{RoomID: "general", AuthorID: "alice", Content: "hi"}).Return(nil)

	s := NewStore(b)
	err := s.Send(context.Background(), domain.OutgoingMessage{RoomID: "general", AuthorID: "alice", Content: "  hi \n"})

	require.NoError(t, err)
	assert.Zero(t, s.Len(), "sent messages are not shown until the feed delivers them")
	b.AssertExpectations(t)
}

func TestStore_SendFailurePreservesInput(t *testing.T) {
	b := &mockBackend{}
	b.On("InsertMessage", mock.Anything).Return(store.NewError(store.CodeUnavailable, "insert_message", errors.New("timeout")))

	in := domain.OutgoingMessage{RoomID: "general", AuthorID: "alice", Content: "  retry me  "}
	err := NewStore(b).Send(context.Background(), in)

	var sendErr *domain.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, in, sendErr.Input)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestStore_SendRejectsEmptyBeforeBackend(t *testing.T) {
	b := &mockBackend{}
	err := NewStore(b).Send(context.Background(), domain.OutgoingMessage{RoomID: "general", AuthorID: "alice", Content: "   "})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	b.AssertNotCalled(t, "InsertMessage", mock.Anything)
}

type delta struct {
	op  store.Op
	row domain.Message
}

// rowHistory builds a per-row delta sequence and the row's canonical end state.
func rowHistory(r *rand.Rand, id string) ([]delta, *domain.Message) {
	created := base.Add(time.Duration(r.IntN(5)) * time.Second)
	row := domain.Message{ID: id, RoomID: "general", AuthorID: "alice", Content: id + "-v0", CreatedAt: created}
	history := []delta{{op: store.OpInsert, row: row}}
	updates := r.IntN(3)
	for v := 1; v <= updates; v++ {
		row.Content = fmt.Sprintf("%s-v%d", id, v)
		history = append(history, delta{op: store.OpUpdate, row: row})
	}
	if r.IntN(3) == 0 {
		history = append(history, delta{op: store.OpDelete, row: domain.Message{ID: id}})
		return history, nil
	}
	return history, &row
}

func TestStore_ConvergesUnderAnyInterleaving(t *testing.T) {
	for seed := uint64(1); seed <= 200; seed++ {
		r := rand.New(rand.NewPCG(seed, seed*7))

		var queues [][]delta
		var canonical []domain.Message
		for i := 0; i < 6; i++ {
			h, final := rowHistory(r, fmt.Sprintf("m%d", i))
			// Delivery is at-least-once: some deltas are repeated back to back.
			var withDupes []delta
			for _, d := range h {
				withDupes = append(withDupes, d)
				if r.IntN(4) == 0 {
					withDupes = append(withDupes, d)
				}
			}
			queues = append(queues, withDupes)
			if final != nil {
				canonical = append(canonical, *final)
			}
		}

		s := NewStore(nil)
		for {
			var live []int
			for i, q := range queues {
				if len(q) > 0 {
					live = append(live, i)
				}
			}
			if len(live) == 0 {
				break
			}
			pick := live[r.IntN(len(live))]
			d := queues[pick][0]
			queues[pick] = queues[pick][1:]
			switch d.op {
			case store.OpInsert:
				s.ApplyInsert(d.row)
			case store.OpUpdate:
				s.ApplyUpdate(d.row)
			case store.OpDelete:
				s.ApplyDelete(d.row.ID)
			}
		}

		refetched := NewStore(nil)
		refetched.Replace(canonical)
		require.Equal(t, refetched.Messages(), s.Messages(), "seed %d", seed)
	}
}
