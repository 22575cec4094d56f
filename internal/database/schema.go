package database

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

// schemaStatements define the tables, lookup indexes and the cascade from
// messages to their reactions. Every statement is idempotent.
var schemaStatements = []string{
	"DEFINE TABLE IF NOT EXISTS messages SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS messages_room ON messages FIELDS room_id, created_at",
	"DEFINE TABLE IF NOT EXISTS message_reactions SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS message_reactions_room ON message_reactions FIELDS room_id",
	"DEFINE INDEX IF NOT EXISTS message_reactions_message ON message_reactions FIELDS message_id",
	"DEFINE TABLE IF NOT EXISTS room_members SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS room_members_room ON room_members FIELDS room_id",
	"DEFINE INDEX IF NOT EXISTS room_members_user ON room_members FIELDS user_id",
	"DEFINE TABLE IF NOT EXISTS profiles SCHEMALESS",
	"DEFINE TABLE IF NOT EXISTS typing_indicators SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS typing_indicators_room ON typing_indicators FIELDS room_id, last_typed_at",
	`DEFINE EVENT IF NOT EXISTS messages_cascade_reactions ON messages WHEN $event = "DELETE" THEN (
		DELETE message_reactions WHERE message_id = record::id($before.id)
	)`,
}

// EnsureSchema applies the schema statements in order.
func (s *SurrealStore) EnsureSchema(ctx context.Context) error {
	return s.write(ctx, "ensure_schema", func(ctx context.Context, db *surrealdb.DB) error {
		for _, stmt := range schemaStatements {
			if err := Execute(ctx, db, stmt, nil); err != nil {
				return fmt.Errorf("apply %q: %w", firstLine(stmt), err)
			}
		}
		s.logger.InfoContext(ctx, "Schema applied", "statements", len(schemaStatements))
		return nil
	})
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
