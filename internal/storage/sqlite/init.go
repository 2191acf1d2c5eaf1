package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS transfers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	direction TEXT NOT NULL,
	resource TEXT NOT NULL,
	remote_path TEXT NOT NULL,
	local_file TEXT,
	status TEXT NOT NULL,
	bytes INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	trace TEXT,
	instance_id TEXT,
	transferred_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS transfers_transferred_at ON transfers (transferred_at);`

// InitDB opens the SQLite database at path and creates the transfers table
// if it doesn't exist.
func InitDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
