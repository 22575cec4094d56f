package pgstore

import (
	"context"
	"fmt"
	"slices"
)

// NotifyChannel is the LISTEN/NOTIFY channel every feed trigger writes to.
const NotifyChannel = "roomsync_changes"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id         TEXT PRIMARY KEY,
		username   TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'offline',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		file_url   TEXT,
		file_name  TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS message_reactions (
		id         TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages (id) ON DELETE CASCADE,
		room_id    TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		emoji      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		UNIQUE (message_id, user_id, emoji)
	)`,
	`CREATE INDEX IF NOT EXISTS message_reactions_room_idx ON message_reactions (room_id)`,
	`CREATE TABLE IF NOT EXISTS room_members (
		id                 TEXT PRIMARY KEY,
		room_id            TEXT NOT NULL,
		user_id            TEXT NOT NULL,
		joined_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		profile_updated_at TIMESTAMPTZ,
		UNIQUE (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS typing_indicators (
		room_id       TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		last_typed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE OR REPLACE FUNCTION roomsync_notify() RETURNS trigger AS $$
	DECLARE
		rec RECORD;
		row_key TEXT;
	BEGIN
		IF TG_OP = 'DELETE' THEN
			rec := OLD;
		ELSE
			rec := NEW;
		END IF;
		IF TG_TABLE_NAME = 'typing_indicators' THEN
			row_key := rec.room_id || ':' || rec.user_id;
		ELSE
			row_key := rec.id;
		END IF;
		PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
			'topic', TG_TABLE_NAME,
			'op', lower(TG_OP),
			'id', row_key,
			'room_id', rec.room_id
		)::text);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,
}

// feedTables are the tables whose row changes are published.
var feedTables = []string{"messages", "message_reactions", "room_members", "typing_indicators"}

func triggerStatements() []string {
	var out []string
	for _, table := range feedTables {
		name := table + "_notify"
		out = append(out,
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", name, table),
			fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION roomsync_notify()", name, table),
		)
	}
	return out
}

// EnsureSchema creates tables, indexes and notify triggers in one
// transaction. It is safe to run repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("ensure_schema", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range slices.Concat(schemaStatements, triggerStatements()) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return mapError("ensure_schema", fmt.Errorf("%s: %w", firstLine(stmt), err))
		}
	}
	if err := tx.Commit(); err != nil {
		return mapError("ensure_schema", err)
	}
	s.logger.InfoContext(ctx, "Schema applied")
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
