// Package db provides the SQLite connection and schema for shadesd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Cycle ledger - append-only history of verification cycles and their
	// outcomes, for auditing and offline diagnosis of stuck shades.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cycle_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			group_name TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_ledger_cycle ON cycle_ledger(cycle_id);
		CREATE INDEX IF NOT EXISTS idx_cycle_ledger_group_ts ON cycle_ledger(group_name, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create cycle_ledger table: %w", err)
	}

	// Last verified group state - one row per group, overwritten on every
	// terminal verdict. Lets the webhook surface report state after restart.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS group_state (
			group_name TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			average_position REAL NOT NULL,
			verdict TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create group_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
