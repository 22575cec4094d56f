package reactions

import (
	"context"
	"errors"
	"testing"

	"github.com/careerct/room-whisper-sync/internal/domain"
	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMutator struct {
	mock.Mock
}

func (m *mockMutator) InsertReaction(ctx context.Context, messageID, userID, emoji string) error {
	args := m.Called(messageID, userID, emoji)
	return args.Error(0)
}

func (m *mockMutator) DeleteReaction(ctx context.Context, messageID, userID, emoji string) error {
	args := m.Called(messageID, userID, emoji)
	return args.Error(0)
}

func TestAggregate_FirstSeenOrder(t *testing.T) {
	list := []domain.Reaction{
		{ID: "1", MessageID: "m1", UserID: "A", Emoji: "👍"},
		{ID: "2", MessageID: "m1", UserID: "B", Emoji: "👍"},
		{ID: "3", MessageID: "m1", UserID: "A", Emoji: "❤️"},
	}

	got := Aggregate(list, "A")

	assert.Equal(t, []domain.ReactionCount{
		{Emoji: "👍", Count: 2, ReactedByCurrentUser: true},
		{Emoji: "❤️", Count: 1, ReactedByCurrentUser: true},
	}, got)
}

func TestAggregate_NotAlphabetical(t *testing.T) {
	list := []domain.Reaction{
		{UserID: "B", Emoji: "🔥"},
		{UserID: "C", Emoji: "🎉"},
		{UserID: "D", Emoji: "🔥"},
	}

	got := Aggregate(list, "A")

	require.Len(t, got, 2)
	assert.Equal(t, "🔥", got[0].Emoji)
	assert.Equal(t, 2, got[0].Count)
	assert.False(t, got[0].ReactedByCurrentUser)
	assert.Equal(t, "🎉", got[1].Emoji)
}

func TestAggregate_DuplicateRowsCountOnce(t *testing.T) {
	list := []domain.Reaction{
		{ID: "1", UserID: "A", Emoji: "👍"},
		{ID: "1", UserID: "A", Emoji: "👍"},
	}
	got := Aggregate(list, "B")
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Count)
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate(nil, "A")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestReactedBy(t *testing.T) {
	counts := []domain.ReactionCount{{Emoji: "👍", Count: 2, ReactedByCurrentUser: true}, {Emoji: "🎉", Count: 1}}
	assert.True(t, ReactedBy(counts, "👍"))
	assert.False(t, ReactedBy(counts, "🎉"))
	assert.False(t, ReactedBy(counts, "🔥"))
}

func TestToggle_InsertThenDelete(t *testing.T) {
	m := &mockMutator{}
	m.On("InsertReaction", "m1", "A", "👍").Return(nil).Once()
	m.On("DeleteReaction", "m1", "A", "👍").Return(nil).Once()

	toggler := NewToggler(m)
	ctx := context.Background()

	action, err := toggler.Toggle(ctx, "m1", "A", "👍", false)
	require.NoError(t, err)
	assert.Equal(t, ActionAdded, action)

	// After the feed echo the aggregator reports the reaction as ours.
	echoed := Aggregate([]domain.Reaction{{MessageID: "m1", UserID: "A", Emoji: "👍"}}, "A")
	action, err = toggler.Toggle(ctx, "m1", "A", "👍", ReactedBy(echoed, "👍"))
	require.NoError(t, err)
	assert.Equal(t, ActionRemoved, action)

	m.AssertExpectations(t)
}

func TestAdd_ConflictIsSwallowed(t *testing.T) {
	m := &mockMutator{}
	m.On("InsertReaction", "m1", "A", "👍").
		Return(store.NewError(store.CodeConflict, "insert_reaction", errors.New("exists")))

	conflicts := 0
	toggler := NewToggler(m, WithConflictHook(func() { conflicts++ }))

	err := toggler.Add(context.Background(), "m1", "A", "👍")
	assert.NoError(t, err)
	assert.Equal(t, 1, conflicts)
}

func TestAdd_FailureIsSendError(t *testing.T) {
	m := &mockMutator{}
	cause := store.NewError(store.CodeUnavailable, "insert_reaction", errors.New("timeout"))
	m.On("InsertReaction", "m1", "A", "👍").Return(cause)

	err := NewToggler(m).Add(context.Background(), "m1", "A", "👍")

	var sendErr *domain.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "add_reaction", sendErr.Op)
	assert.Equal(t, Request{MessageID: "m1", UserID: "A", Emoji: "👍"}, sendErr.Input)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestRemove_MissingRowIsNotAnError(t *testing.T) {
	m := &mockMutator{}
	m.On("DeleteReaction", "m1", "A", "👍").Return(store.NewError(store.CodeNotFound, "delete_reaction", nil))

	assert.NoError(t, NewToggler(m).Remove(context.Background(), "m1", "A", "👍"))
}

func TestAdd_RejectsEmptyInput(t *testing.T) {
	m := &mockMutator{}
	err := NewToggler(m).Add(context.Background(), "m1", "A", "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	m.AssertNotCalled(t, "InsertReaction", mock.Anything, mock.Anything, mock.Anything)
}
