package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPruner struct {
	mock.Mock
}

func (m *mockPruner) PruneTyping(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(before)
	return args.Int(0), args.Error(1)
}

var now = time.Date(2024, 5, 1, 12, 3, 0, 0, time.UTC)

func clock() time.Time { return now }

func TestNew_ValidatesCron(t *testing.T) {
	_, err := New(&mockPruner{}, "not a cron", time.Hour)
	assert.Error(t, err)

	_, err = New(&mockPruner{}, "", 0)
	assert.Error(t, err)

	j, err := New(&mockPruner{}, "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, DefaultCron, j.cronExpr)
}

func TestRunOnce_UsesRetentionCutoff(t *testing.T) {
	p := &mockPruner{}
	p.On("PruneTyping", now.Add(-time.Hour)).Return(3, nil)

	j, err := New(p, DefaultCron, time.Hour, WithClock(clock))
	require.NoError(t, err)

	n, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	p.AssertExpectations(t)
}

func TestRunOnce_WrapsError(t *testing.T) {
	p := &mockPruner{}
	cause := errors.New("db down")
	p.On("PruneTyping", mock.Anything).Return(0, cause)

	j, err := New(p, DefaultCron, time.Hour, WithClock(clock))
	require.NoError(t, err)

	_, err = j.RunOnce(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestNext_FollowsCron(t *testing.T) {
	j, err := New(&mockPruner{}, "*/10 * * * *", time.Hour)
	require.NoError(t, err)

	next, err := j.Next(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC), next)
}

func TestRun_StopsOnCancel(t *testing.T) {
	j, err := New(&mockPruner{}, DefaultCron, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
