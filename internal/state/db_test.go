package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/flowline/pkg/models"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func sampleSnapshot(runID string, started time.Time) *models.RunSnapshot {
	finished := started.Add(2 * time.Second)
	return &models.RunSnapshot{
		RunID:      runID,
		State:      models.RunStateCompleted,
		StartedAt:  started,
		FinishedAt: &finished,
		Tasks: []models.TaskRecord{
			{TaskID: "a", Outcome: "success", Attempts: 1, Duration: time.Second},
			{TaskID: "b", Outcome: "failure", Error: "boom", Attempts: 3, Duration: 500 * time.Millisecond},
		},
	}
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c", "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directories not created: %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := setupTestDB(t)
	// A second migration pass must be a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	snap := sampleSnapshot("run1", started)

	if err := db.SaveRun(snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := db.LoadRun("run1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.RunID != "run1" || loaded.State != models.RunStateCompleted {
		t.Errorf("unexpected snapshot: %+v", loaded)
	}
	if !loaded.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", loaded.StartedAt, started)
	}
	if loaded.FinishedAt == nil || !loaded.FinishedAt.Equal(started.Add(2*time.Second)) {
		t.Errorf("unexpected FinishedAt: %v", loaded.FinishedAt)
	}
	if len(loaded.Tasks) != 2 {
		t.Fatalf("expected 2 task records, got %d", len(loaded.Tasks))
	}
	if loaded.Tasks[1].Error != "boom" || loaded.Tasks[1].Attempts != 3 {
		t.Errorf("unexpected task record: %+v", loaded.Tasks[1])
	}
}

func TestSaveRunUpserts(t *testing.T) {
	db := setupTestDB(t)
	started := time.Now().UTC().Truncate(time.Second)

	snap := &models.RunSnapshot{
		RunID:     "run1",
		State:     models.RunStateRunning,
		StartedAt: started,
		Tasks:     []models.TaskRecord{},
	}
	if err := db.SaveRun(snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	finished := started.Add(time.Second)
	snap.State = models.RunStateCompleted
	snap.FinishedAt = &finished
	if err := db.SaveRun(snap); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	loaded, err := db.LoadRun("run1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.State != models.RunStateCompleted || loaded.FinishedAt == nil {
		t.Errorf("expected updated snapshot, got %+v", loaded)
	}
}

func TestLoadRunNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.LoadRun("missing")
	if err == nil {
		t.Fatal("expected error for missing run")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %T: %v", err, err)
	}
	if nf.RunID != "missing" {
		t.Errorf("expected run id in error, got %q", nf.RunID)
	}
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		snap := sampleSnapshot(id, base.Add(time.Duration(i)*time.Minute))
		if err := db.SaveRun(snap); err != nil {
			t.Fatalf("save %s failed: %v", id, err)
		}
	}

	snaps, err := db.ListRuns(0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(snaps))
	}
	// Newest first.
	if snaps[0].RunID != "new" || snaps[2].RunID != "old" {
		t.Errorf("unexpected order: %s, %s, %s", snaps[0].RunID, snaps[1].RunID, snaps[2].RunID)
	}

	limited, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("limited list failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 runs with limit, got %d", len(limited))
	}
}

func TestDeleteRun(t *testing.T) {
	db := setupTestDB(t)
	snap := sampleSnapshot("run1", time.Now().UTC())
	if err := db.SaveRun(snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := db.DeleteRun("run1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := db.LoadRun("run1"); err == nil {
		t.Error("expected run to be gone")
	}
	// Deleting an unknown run is not an error.
	if err := db.DeleteRun("missing"); err != nil {
		t.Errorf("delete of unknown run failed: %v", err)
	}
}
