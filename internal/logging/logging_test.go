package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "json", "warn")

	l.Info("dropped")
	l.Warn("kept", "room_id", "r1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "r1", rec["room_id"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "text", "debug")
	l.Debug("hello", "topic", "messages")
	assert.Contains(t, buf.String(), "topic=messages")
	assert.Contains(t, buf.String(), "source=")
}
