package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/db"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
)

func testStore(t *testing.T) *RunStore {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRunStore(database.Conn)
}

func sampleReport() *models.RunReport {
	r := &models.RunReport{
		Command:    "delete",
		DryRun:     false,
		StartedAt:  time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 1, 1, 0, 5, 0, time.UTC),
		Scanned:    10,
		Eligible:   2,
	}
	r.Add(models.TransitionRecord{DeviceID: "A1", Step: models.StepDisable, Outcome: models.OutcomeSuccess})
	r.Add(models.TransitionRecord{DeviceID: "A1", Step: models.StepDelete, Outcome: models.OutcomeSuccess})
	r.Add(models.TransitionRecord{DeviceID: "B2", Step: models.StepDisable, Outcome: models.OutcomeFailed, Error: "forbidden"})
	return r
}

func TestRecordAndListRuns(t *testing.T) {
	t.Parallel()
	store := testStore(t)

	id, err := store.RecordRun(sampleReport())
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if id == "" {
		t.Fatal("empty run id")
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}

	r := runs[0]
	if r.ID != id || r.Command != "delete" || r.Scanned != 10 || r.Deleted != 1 || r.Failed != 1 {
		t.Errorf("run summary = %+v", r)
	}
}

func TestTransitionsRoundTrip(t *testing.T) {
	t.Parallel()
	store := testStore(t)

	id, err := store.RecordRun(sampleReport())
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	recs, err := store.Transitions(id)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d transitions, want 3", len(recs))
	}
	if recs[2].DeviceID != "B2" || !recs[2].Failed() || recs[2].Error != "forbidden" {
		t.Errorf("third transition = %+v", recs[2])
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()
	store := testStore(t)

	older := sampleReport()
	newer := sampleReport()
	newer.StartedAt = newer.StartedAt.Add(time.Hour)
	newer.Command = "disable"

	if _, err := store.RecordRun(older); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if _, err := store.RecordRun(newer); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Command != "disable" {
		t.Errorf("runs = %+v, want disable run first", runs)
	}
}
