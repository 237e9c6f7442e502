// Package state provides SQLite-based persistence for run snapshots.
// The default database lives under the XDG data directory
// (~/.local/share/flowline/flowline.db).
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/flowline/internal/orchestrator"
	"github.com/ShayCichocki/flowline/pkg/models"
)

// Verify DB implements the engine's snapshot store at compile time.
var _ orchestrator.SnapshotStore = (*DB)(nil)

// DB wraps an SQLite database connection holding run snapshots.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the default snapshot database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "flowline", "flowline.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Runs},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	tasks TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// NotFoundError indicates the requested run has no persisted snapshot.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("run %s: no snapshot found", e.RunID)
}

// SaveRun upserts a run snapshot. Task records are stored as JSON.
func (db *DB) SaveRun(snapshot *models.RunSnapshot) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tasks, err := json.Marshal(snapshot.Tasks)
	if err != nil {
		return fmt.Errorf("marshal task records: %w", err)
	}

	var finished sql.NullString
	if snapshot.FinishedAt != nil {
		finished = sql.NullString{String: formatTime(*snapshot.FinishedAt), Valid: true}
	}

	_, err = db.conn.Exec(`
		INSERT INTO runs (id, state, started_at, finished_at, tasks)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			finished_at = excluded.finished_at,
			tasks = excluded.tasks
	`, snapshot.RunID, string(snapshot.State), formatTime(snapshot.StartedAt), finished, string(tasks))
	if err != nil {
		return fmt.Errorf("save run %s: %w", snapshot.RunID, err)
	}
	return nil
}

// LoadRun loads a run snapshot by ID.
func (db *DB) LoadRun(runID string) (*models.RunSnapshot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		state    string
		started  string
		finished sql.NullString
		tasks    string
	)
	row := db.conn.QueryRow("SELECT state, started_at, finished_at, tasks FROM runs WHERE id = ?", runID)
	if err := row.Scan(&state, &started, &finished, &tasks); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	return scanSnapshot(runID, state, started, finished, tasks)
}

// scanSnapshot rebuilds a snapshot from its stored columns.
func scanSnapshot(id, state, started string, finished sql.NullString, tasks string) (*models.RunSnapshot, error) {
	snap := &models.RunSnapshot{
		RunID: id,
		State: models.RunState(state),
	}
	startedAt, err := parseTime(started)
	if err != nil {
		return nil, fmt.Errorf("run %s: parse started_at: %w", id, err)
	}
	snap.StartedAt = startedAt
	snap.FinishedAt = parseNullableTime(finished)

	if err := json.Unmarshal([]byte(tasks), &snap.Tasks); err != nil {
		return nil, fmt.Errorf("run %s: unmarshal task records: %w", id, err)
	}
	return snap, nil
}

// ListRuns returns snapshots ordered by start time, newest first. A limit
// of zero or less means no limit.
func (db *DB) ListRuns(limit int) ([]*models.RunSnapshot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := "SELECT id, state, started_at, finished_at, tasks FROM runs ORDER BY started_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var snaps []*models.RunSnapshot
	for rows.Next() {
		var (
			id       string
			state    string
			started  string
			finished sql.NullString
			tasks    string
		)
		if err := rows.Scan(&id, &state, &started, &finished, &tasks); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		snap, err := scanSnapshot(id, state, started, finished, tasks)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return snaps, nil
}

// DeleteRun removes a run snapshot. Deleting an unknown run is not an
// error.
func (db *DB) DeleteRun(runID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.Exec("DELETE FROM runs WHERE id = ?", runID); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
