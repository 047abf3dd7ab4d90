// Package db opens the wiserd SQLite database and migrates its schema.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// migrations are applied in order; the index+1 of the last applied one is stored in user_version
var migrations = []string{
	// 1: command ledger, append-only audit of hub commands and discovery passes
	`CREATE TABLE IF NOT EXISTS command_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		device_id TEXT,
		command TEXT,
		payload TEXT,
		source TEXT,
		idempotency_key TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_command_ledger_type_ts ON command_ledger(event_type, timestamp);
	CREATE INDEX IF NOT EXISTS idx_command_ledger_device ON command_ledger(device_id, timestamp);`,

	// 2: one command_completed per idempotency key, first writer wins
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_command_ledger_completed
	ON command_ledger(idempotency_key)
	WHERE idempotency_key IS NOT NULL AND idempotency_key != '' AND event_type = 'command_completed';`,
}

// Open opens the database at path and applies pending migrations
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	conn.SetMaxOpenConns(1)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{conn}, nil
}

// SchemaVersion returns the number of applied migrations
func (db *DB) SchemaVersion() (int, error) {
	return schemaVersion(db.DB)
}

func schemaVersion(conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func migrate(conn *sql.DB) error {
	current, err := schemaVersion(conn)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		log.Debug().Int("version", i+1).Msg("Applied database migration")
	}
	return nil
}
