package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS room (
		id TEXT PRIMARY KEY,
		board TEXT NOT NULL,
		game_state INTEGER NOT NULL,
		turn INTEGER NOT NULL,
		is_full BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS player (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		room_id TEXT NOT NULL,
		online BOOLEAN NOT NULL DEFAULT FALSE,
		turn INTEGER NOT NULL,
		score INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS player_room_id_idx ON player (room_id)`,
}

// Init - creates the room and player tables. Statements are valid for both sqlite and postgres.
func Init(ctx context.Context, conn *sqlx.DB) error {
	for _, query := range schema {
		if _, err := conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("can't create table: %w", err)
		}
	}

	return nil
}
