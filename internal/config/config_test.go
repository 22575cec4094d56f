package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("ROOMSYNC_BACKEND", "")
	t.Setenv("TYPING_POLL_INTERVAL", "")
	t.Setenv("TYPING_STALE_AFTER", "")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.TypingPollInterval)
	assert.Equal(t, 5*time.Second, cfg.TypingStaleAfter)
	assert.Equal(t, time.Hour, cfg.TypingRetention)
	assert.Equal(t, "*/10 * * * *", cfg.JanitorCron)
	assert.Equal(t, int64(10<<20), cfg.BlobMaxBytes)
}

func TestParse_SurrealRequiresConnection(t *testing.T) {
	t.Setenv("ROOMSYNC_BACKEND", BackendSurreal)
	t.Setenv("SURREAL_URL", "")
	t.Setenv("SURREAL_NS", "")
	t.Setenv("SURREAL_DB", "")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SURREAL_URL")
}

func TestParse_SurrealProvider(t *testing.T) {
	t.Setenv("ROOMSYNC_BACKEND", BackendSurreal)
	t.Setenv("SURREAL_URL", "ws://localhost:8000/rpc")
	t.Setenv("SURREAL_NS", "chat")
	t.Setenv("SURREAL_DB", "rooms")
	t.Setenv("SURREAL_USER", "root")
	t.Setenv("SURREAL_PASS", "secret")
	t.Setenv("DB_QUERY_TIMEOUT", "3s")

	cfg, err := Parse()
	require.NoError(t, err)

	var p Provider = cfg
	assert.Equal(t, "ws://localhost:8000/rpc", p.GetDBURL())
	assert.Equal(t, "chat", p.GetDBNs())
	assert.Equal(t, "rooms", p.GetDBDb())
	assert.Equal(t, "root", p.GetDBUser())
	assert.Equal(t, "secret", p.GetDBPass())
	assert.Equal(t, 3*time.Second, p.GetDBQueryTimeout())
	assert.Equal(t, 10*time.Second, p.GetDBExecuteTimeout())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Backend:            BackendMemory,
			TypingPollInterval: 2 * time.Second,
			TypingStaleAfter:   5 * time.Second,
			TypingRetention:    time.Hour,
			JanitorCron:        "*/10 * * * *",
			BlobMaxBytes:       1024,
			TypingMarkRate:     1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "poll equals window", mutate: func(c *Config) { c.TypingPollInterval = 5 * time.Second }, wantErr: "TYPING_POLL_INTERVAL"},
		{name: "retention too short", mutate: func(c *Config) { c.TypingRetention = time.Second }, wantErr: "TYPING_RETENTION"},
		{name: "bad cron", mutate: func(c *Config) { c.JanitorCron = "every minute" }, wantErr: "JANITOR_CRON"},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "mongo" }, wantErr: "ROOMSYNC_BACKEND"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Backend = BackendPostgres }, wantErr: "POSTGRES_DSN"},
		{name: "zero blob limit", mutate: func(c *Config) { c.BlobMaxBytes = 0 }, wantErr: "BLOB_MAX_BYTES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
