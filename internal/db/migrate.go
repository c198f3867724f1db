package db

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies all pending SQL migration files in order. Migrations are
// embedded .sql files named with a numeric prefix (e.g., 001_runs.sql), each
// applied inside a transaction. A tracking table records which have run.
func (d *DB) Migrate() error {
	if _, err := d.Conn.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			name     TEXT    NOT NULL UNIQUE,
			applied  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	files, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migration dir: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() < files[j].Name()
	})

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}

		name := f.Name()

		var count int
		if err := d.Conn.QueryRow(
			"SELECT COUNT(*) FROM _migrations WHERE name = ?", name,
		).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if err := d.applyMigration(name, string(content)); err != nil {
			return err
		}

		log.Printf("[audit] migration applied: %s", name)
	}

	return nil
}

func (d *DB) applyMigration(name, sqlContent string) error {
	tx, err := d.Conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}
	defer tx.Rollback() //nolint: errcheck

	if _, err := tx.Exec(sqlContent); err != nil {
		return fmt.Errorf("exec migration %s: %w", name, err)
	}

	if _, err := tx.Exec(
		"INSERT INTO _migrations (name) VALUES (?)", name,
	); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}

	return tx.Commit()
}
