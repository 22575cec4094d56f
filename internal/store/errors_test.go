package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	cause := errors.New("duplicate key value violates unique constraint")
	err := NewError(CodeConflict, "insert_reaction", cause)

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, cause), "cause stays reachable")
	assert.True(t, IsConflict(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), "insert_reaction")
}

func TestError_CodeDecidesNotText(t *testing.T) {
	// A message mentioning "duplicate" is not a conflict unless the code says so.
	err := NewError(CodeUnavailable, "insert_member", errors.New("duplicate connection attempt"))
	assert.False(t, IsConflict(err))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFilter_Matches(t *testing.T) {
	f := Filter{RoomID: "general"}
	assert.True(t, f.Matches(Change{RoomID: "general"}))
	assert.False(t, f.Matches(Change{RoomID: "random"}))
	assert.True(t, f.Matches(Change{}), "unscoped changes are delivered")
	assert.True(t, Filter{}.Matches(Change{RoomID: "random"}))
}
