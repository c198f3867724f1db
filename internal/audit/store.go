// Package audit persists run reports to the local history database.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
)

// RunStore handles persistence for run reports.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by the given database connection.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// RunSummary is one persisted run, as listed by the history command.
type RunSummary struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Scanned    int       `json:"scanned"`
	Eligible   int       `json:"eligible"`
	Disabled   int       `json:"disabled"`
	Enabled    int       `json:"enabled"`
	Deleted    int       `json:"deleted"`
	Assigned   int       `json:"assigned"`
	Failed     int       `json:"failed"`
}

// RecordRun stores a completed run report and all its transition records in
// one transaction. Returns the generated run ID.
func (s *RunStore) RecordRun(report *models.RunReport) (string, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin run tx: %w", err)
	}
	defer tx.Rollback() //nolint: errcheck

	_, err = tx.Exec(`
		INSERT INTO runs (
			id, command, dry_run, started_at, finished_at,
			scanned, eligible, disabled, enabled, deleted, assigned, failed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, report.Command, report.DryRun, report.StartedAt, report.FinishedAt,
		report.Scanned, report.Eligible, report.Disabled, report.Enabled,
		report.Deleted, report.Assigned, report.Failed,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, rec := range report.Records {
		if _, err := tx.Exec(`
			INSERT INTO transitions (run_id, device_id, step, outcome, error)
			VALUES (?, ?, ?, ?, ?)`,
			id, rec.DeviceID, rec.Step, rec.Outcome, rec.Error,
		); err != nil {
			return "", fmt.Errorf("insert transition for %s: %w", rec.DeviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, command, dry_run, started_at, finished_at,
			scanned, eligible, disabled, enabled, deleted, assigned, failed
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(
			&r.ID, &r.Command, &r.DryRun, &r.StartedAt, &r.FinishedAt,
			&r.Scanned, &r.Eligible, &r.Disabled, &r.Enabled,
			&r.Deleted, &r.Assigned, &r.Failed,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Transitions returns the per-device records for one run, in insertion order.
func (s *RunStore) Transitions(runID string) ([]models.TransitionRecord, error) {
	rows, err := s.db.Query(`
		SELECT device_id, step, outcome, error
		FROM transitions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var recs []models.TransitionRecord
	for rows.Next() {
		var rec models.TransitionRecord
		if err := rows.Scan(&rec.DeviceID, &rec.Step, &rec.Outcome, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
