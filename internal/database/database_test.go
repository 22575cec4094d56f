package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/careerct/room-whisper-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestParseDateTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 0, 123000000, time.UTC)

	for _, in := range []string{"2024-03-01T12:30:00.123Z", "d'2024-03-01T12:30:00.123Z'", "2024-03-01T13:30:00.123+01:00"} {
		got, err := parseDateTime(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := parseDateTime("yesterday")
	assert.Error(t, err)
}

func TestMessageRecord_ToDomain(t *testing.T) {
	rec := messageRecord{ID: "m1", RoomID: "r1", UserID: "alice", Content: "hi", FileURL: "http://x/f.png", FileName: "f.png", CreatedAt: "2024-03-01T12:30:00Z"}

	m, err := rec.toDomain(&profileRecord{ID: "alice", Username: "Alice", AvatarURL: "http://x/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "alice", m.AuthorID)
	assert.Equal(t, "Alice", m.AuthorName)
	require.NotNil(t, m.Attachment)
	assert.Equal(t, "f.png", m.Attachment.Name)

	rec.FileURL = ""
	m, err = rec.toDomain(nil)
	require.NoError(t, err)
	assert.Nil(t, m.Attachment)
	assert.Empty(t, m.AuthorName)
}

func TestMemberRecord_ToDomain(t *testing.T) {
	m := memberRecord{RoomID: "r1", UserID: "bob"}.toDomain(nil)
	assert.Equal(t, "r1/bob", m.ID)
	assert.Equal(t, "bob", m.Username)
	assert.Equal(t, "offline", m.PresenceStatus)

	m = memberRecord{RoomID: "r1", UserID: "bob"}.toDomain(&profileRecord{Username: "Bobby", Status: "online"})
	assert.Equal(t, "Bobby", m.Username)
	assert.Equal(t, "online", m.PresenceStatus)
}

func TestChangeFromNotification(t *testing.T) {
	n := connection.Notification{
		Action: connection.CreateAction,
		Result: map[string]any{"id": models.NewRecordID("messages", "m1"), "room_id": "r1", "content": "hi"},
	}
	change, ok := changeFromNotification(store.TopicMessages, n)
	require.True(t, ok)
	assert.Equal(t, store.OpInsert, change.Op)
	assert.Equal(t, "m1", change.ID)
	assert.Equal(t, "r1", change.RoomID)
	assert.NotEmpty(t, change.Row)

	n = connection.Notification{
		Action: connection.DeleteAction,
		Result: map[string]any{"id": models.NewRecordID("message_reactions", []any{"m1", "alice", "👍"}), "room_id": "r1"},
	}
	change, ok = changeFromNotification(store.TopicReactions, n)
	require.True(t, ok)
	assert.Equal(t, store.OpDelete, change.Op)
	assert.Equal(t, "m1/alice/👍", change.ID)

	_, ok = changeFromNotification(store.TopicMessages, connection.Notification{Action: connection.CreateAction, Result: "not a row"})
	assert.False(t, ok)
}

func TestLiveQuery(t *testing.T) {
	q, params := liveQuery(store.TopicMembers, store.Filter{RoomID: "r1"})
	assert.Equal(t, "LIVE SELECT * FROM room_members WHERE room_id = $room_id", q)
	assert.Equal(t, "r1", params["room_id"])

	q, params = liveQuery(store.TopicTyping, store.Filter{})
	assert.Equal(t, "LIVE SELECT * FROM typing_indicators", q)
	assert.Empty(t, params)
}

func TestLiveQueryID(t *testing.T) {
	assert.Equal(t, "abc", liveQueryID("abc"))
	assert.Equal(t, "abc", liveQueryID(map[string]any{"id": "abc"}))
	assert.Empty(t, liveQueryID(42))
}

func TestMapError(t *testing.T) {
	conflict := store.NewError(store.CodeConflict, "insert_member", nil)
	assert.Same(t, conflict, mapError("x", conflict))

	err := mapError("list_messages", context.DeadlineExceeded)
	assert.ErrorIs(t, err, store.ErrUnavailable)

	err = mapError("list_messages", errors.New("parse error"))
	var storeErr *store.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, store.CodeUnknown, storeErr.Code)

	assert.NoError(t, mapError("x", nil))
}

func TestRetryer(t *testing.T) {
	r := &ExponentialBackoffRetryer{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond, multiplier: 2}

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = r.Retry(context.Background(), func() error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "after 4 attempts")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Retry(ctx, func() error { return nil }), context.Canceled)
}

func TestCalculateDelay_Capped(t *testing.T) {
	r := &ExponentialBackoffRetryer{baseDelay: 100 * time.Millisecond, maxDelay: time.Second, multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(0))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, time.Second, r.calculateDelay(10))
}

func TestRedactDBURL(t *testing.T) {
	assert.Equal(t, "ws://root:xxxxx@localhost:8000/rpc", redactDBURL("ws://root:secret@localhost:8000/rpc"))
	assert.Equal(t, "invalid-url", redactDBURL("://bad"))
}

func TestGetTimeoutFromContext(t *testing.T) {
	ctx, cancel := getTimeoutFromContext(context.Background(), time.Hour, ContextKeyQueryTimeout)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Minute)

	ctx, cancel = getTimeoutFromContext(WithQueryTimeout(context.Background(), time.Second), time.Hour, ContextKeyQueryTimeout)
	defer cancel()
	deadline, _ = ctx.Deadline()
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)

	ctx, cancel = getTimeoutFromContext(context.Background(), 0, ContextKeyExecuteTimeout)
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}
