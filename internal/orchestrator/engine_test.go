package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/flowline/internal/graph"
	"github.com/ShayCichocki/flowline/pkg/models"
)

func newTestEngine(t *testing.T, store SnapshotStore) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		MaxConcurrency: 4,
		Registry:       testRegistry(),
		Store:          store,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func TestEngineSubmitAndWait(t *testing.T) {
	e := newTestEngine(t, nil)

	runID, err := e.Submit([]*models.Task{
		{ID: "a", Capability: "ok"},
		{ID: "b", Capability: "ok", DependsOn: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if runID == "" {
		t.Fatal("expected non-empty run id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := e.Wait(ctx, runID)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	status, err := e.Status(runID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.State != models.RunStateCompleted {
		t.Errorf("expected completed, got %s", status.State)
	}
	if status.Progress.Terminal != 2 {
		t.Errorf("expected 2 terminal, got %d", status.Progress.Terminal)
	}
}

func TestEngineSubmitRejectsCycle(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Submit([]*models.Task{
		{ID: "a", Capability: "ok", DependsOn: []string{"b"}},
		{ID: "b", Capability: "ok", DependsOn: []string{"a"}},
	})
	var cerr *graph.CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CycleError at submit, got %v", err)
	}
}

func TestEngineSubmitRejectsEmpty(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.Submit(nil); err == nil {
		t.Fatal("expected error for empty submission")
	}
}

func TestEngineRunStateFailed(t *testing.T) {
	e := newTestEngine(t, nil)

	runID, err := e.Submit([]*models.Task{{ID: "a", Capability: "fail"}})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.Wait(ctx, runID); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	status, _ := e.Status(runID)
	if status.State != models.RunStateFailed {
		t.Errorf("expected failed, got %s", status.State)
	}
}

func TestEngineCancel(t *testing.T) {
	e := newTestEngine(t, nil)

	runID, err := e.Submit([]*models.Task{
		{ID: "slow", Capability: "hang", Timeout: 30 * time.Second},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Give the run a moment to start.
	time.Sleep(30 * time.Millisecond)
	if !e.Cancel(runID) {
		t.Fatal("expected cancel to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := e.Wait(ctx, runID)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if results["slow"].Outcome != models.OutcomeCancelled {
		t.Errorf("expected cancelled, got %s", results["slow"].Outcome)
	}

	status, _ := e.Status(runID)
	if status.State != models.RunStateCancelled {
		t.Errorf("expected cancelled run state, got %s", status.State)
	}

	// Cancelling a terminal run is a no-op.
	if e.Cancel(runID) {
		t.Error("expected cancel of terminal run to return false")
	}
}

func TestEngineCancelUnknown(t *testing.T) {
	e := newTestEngine(t, nil)
	if e.Cancel("nope") {
		t.Error("expected cancel of unknown run to return false")
	}
}

func TestEngineCancelDoesNotAffectOtherRuns(t *testing.T) {
	e := newTestEngine(t, nil)

	slowID, err := e.Submit([]*models.Task{
		{ID: "slow", Capability: "hang", Timeout: 30 * time.Second},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	okID, err := e.Submit([]*models.Task{{ID: "fine", Capability: "ok"}})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	e.Cancel(slowID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := e.Wait(ctx, okID)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if results["fine"].Outcome != models.OutcomeSuccess {
		t.Errorf("sibling run affected by cancel: %s", results["fine"].Outcome)
	}
}

func TestEngineStatusUnknownRun(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.Status("missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestEngineStats(t *testing.T) {
	e := newTestEngine(t, nil)

	runID, err := e.Submit([]*models.Task{
		{ID: "a", Capability: "ok"},
		{ID: "b", Capability: "fail"},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.Wait(ctx, runID); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	stats := e.Stats()
	if stats.Runs != 1 {
		t.Errorf("expected 1 run, got %d", stats.Runs)
	}
	if stats.Tasks != 2 {
		t.Errorf("expected 2 tasks, got %d", stats.Tasks)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("expected success rate 0.5, got %f", stats.SuccessRate)
	}
}

// memoryStore is an in-memory SnapshotStore for tests.
type memoryStore struct {
	mu    sync.Mutex
	saved map[string]*models.RunSnapshot
}

func (s *memoryStore) SaveRun(snapshot *models.RunSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]*models.RunSnapshot)
	}
	s.saved[snapshot.RunID] = snapshot
	return nil
}

func (s *memoryStore) LoadRun(runID string) (*models.RunSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.saved[runID]
	if !ok {
		return nil, errors.New("not found")
	}
	return snap, nil
}

func TestEnginePersistsSnapshot(t *testing.T) {
	store := &memoryStore{}
	e := newTestEngine(t, store)

	runID, err := e.Submit([]*models.Task{{ID: "a", Capability: "ok"}})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.Wait(ctx, runID); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	snap, err := store.LoadRun(runID)
	if err != nil {
		t.Fatalf("expected snapshot to be saved: %v", err)
	}
	if snap.State != models.RunStateCompleted {
		t.Errorf("expected completed snapshot, got %s", snap.State)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Outcome != "success" {
		t.Errorf("unexpected snapshot tasks: %+v", snap.Tasks)
	}
	if snap.FinishedAt == nil {
		t.Error("expected finished timestamp in snapshot")
	}
}
