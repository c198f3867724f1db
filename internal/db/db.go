// Package db opens and migrates the local SQLite database backing the run
// history. The database is an append-only audit trail of what the cleaner
// did; it is never consulted for device state, which always comes from the
// RustDesk server.
package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB connection to the audit database.
type DB struct {
	Conn *sql.DB
	path string
}

// Open opens (or creates) the audit database at the given path, creating the
// parent directory if needed and enabling WAL mode.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection is plenty for a one-shot tool and sidesteps SQLite
	// locking between the run writer and the history reader.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	log.Printf("[audit] database opened: %s", path)
	return &DB{Conn: conn, path: path}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.Conn.Close()
}
