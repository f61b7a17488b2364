package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens or creates a SQLite database at path in WAL mode and
// applies the snapshot schema.
func OpenSQLite(path string) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the store serializes through this connection.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return conn, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS player_snapshots (
	player_id  TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	saved_at   TEXT NOT NULL
);`
