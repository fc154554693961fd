package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; the slice index + 1 is the schema version.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS satellites (
			address INTEGER PRIMARY KEY,
			device_id TEXT NOT NULL,
			name TEXT NOT NULL,
			known INTEGER NOT NULL DEFAULT 0,
			last_heard_at INTEGER,
			rssi INTEGER NULL,
			snr INTEGER NULL,
			frames_received INTEGER NOT NULL DEFAULT 0,
			frames_published INTEGER NOT NULL DEFAULT 0,
			frames_discarded INTEGER NOT NULL DEFAULT 0,
			last_reason TEXT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS satellites_last_heard_at_idx ON satellites(last_heard_at DESC);`,
		`CREATE TABLE IF NOT EXISTS frames (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender INTEGER NOT NULL,
			device_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			rssi INTEGER NOT NULL,
			snr INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NULL,
			topic TEXT NULL,
			received_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS frames_received_at_idx ON frames(received_at);`,
	},
	{
		`CREATE INDEX IF NOT EXISTS frames_sender_idx ON frames(sender, received_at DESC);`,
	},
}

// SchemaVersion is the user_version of a fully migrated database.
func SchemaVersion() int {
	return len(migrations)
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, len(migrations))
	}

	for next := version; next < len(migrations); next++ {
		if err := applyMigration(ctx, db, next+1, migrations[next]); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, version)); err != nil {
		return fmt.Errorf("set schema version %d: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", version, err)
	}

	return nil
}
