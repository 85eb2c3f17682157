// Package sqlite provides SQLite-backed persistence for the extension host.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS repair_events (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	extension_id   TEXT NOT NULL,
	pattern        TEXT NOT NULL,
	risk           TEXT NOT NULL,
	original_error TEXT NOT NULL DEFAULT '',
	repair_action  TEXT NOT NULL DEFAULT '',
	success        INTEGER NOT NULL DEFAULT 0,
	timestamp_ms   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_repair_events_ext ON repair_events(extension_id, timestamp_ms);

CREATE TRIGGER IF NOT EXISTS repair_events_no_update
BEFORE UPDATE ON repair_events
BEGIN
	SELECT RAISE(ABORT, 'repair_events is append-only');
END;

CREATE TRIGGER IF NOT EXISTS repair_events_no_delete
BEFORE DELETE ON repair_events
BEGIN
	SELECT RAISE(ABORT, 'repair_events is append-only');
END;
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration. The parent directory is created if needed.
func NewDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		//nolint:gosec // G301: 0o755 is standard for user data directories
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; WAL still allows concurrent readers.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
