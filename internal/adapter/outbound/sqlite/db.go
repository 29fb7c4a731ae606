// Package sqlite persists the feedback log and the decision journal in a
// SQLite database (pure Go driver, no cgo).
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS feedback (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	verdict TEXT NOT NULL,
	outcome TEXT NOT NULL,
	weight REAL NOT NULL,
	context_json TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_category ON feedback(category);

CREATE TABLE IF NOT EXISTS decisions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	source TEXT NOT NULL,
	action_id TEXT NOT NULL,
	category TEXT NOT NULL,
	verdict TEXT NOT NULL,
	confidence REAL NOT NULL,
	record_json TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_recorded ON decisions(recorded_at);
CREATE INDEX IF NOT EXISTS idx_decisions_verdict ON decisions(verdict);
`

// timeLayout keeps timestamps lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Open opens (creating if needed) the database at path and applies the schema.
// The returned *sql.DB is shared by FeedbackStore and JournalStore.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
