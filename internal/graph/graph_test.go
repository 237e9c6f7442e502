package graph

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/flowline/pkg/models"
)

func addAll(t *testing.T, g *TaskGraph, tasks ...*models.Task) {
	t.Helper()
	for _, task := range tasks {
		if err := g.Add(task); err != nil {
			t.Fatalf("failed to add task %s: %v", task.ID, err)
		}
	}
}

func TestAddDuplicate(t *testing.T) {
	g := New()
	if err := g.Add(&models.Task{ID: "task-1"}); err != nil {
		t.Fatalf("first add failed: %v", err)
	}

	err := g.Add(&models.Task{ID: "task-1"})
	var dup *DuplicateTaskError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateTaskError, got %v", err)
	}
	if dup.ID != "task-1" {
		t.Errorf("expected duplicate id task-1, got %s", dup.ID)
	}
}

func TestAddEmptyID(t *testing.T) {
	g := New()
	if err := g.Add(&models.Task{}); err == nil {
		t.Fatal("expected error for empty task id")
	}
}

func TestBuildSingleBatch(t *testing.T) {
	g := New()
	addAll(t, g,
		&models.Task{ID: "a"},
		&models.Task{ID: "b"},
		&models.Task{ID: "c"},
	)

	batches, err := g.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if len(batches[0].Tasks) != 3 {
		t.Errorf("expected 3 tasks in batch, got %d", len(batches[0].Tasks))
	}
}

func TestBuildTopologicalOrder(t *testing.T) {
	g := New()
	addAll(t, g,
		&models.Task{ID: "d", DependsOn: []string{"b", "c"}},
		&models.Task{ID: "b", DependsOn: []string{"a"}},
		&models.Task{ID: "c", DependsOn: []string{"a"}},
		&models.Task{ID: "a"},
	)

	batches, err := g.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// Concatenated batches must be a valid topological order: every
	// dependency appears strictly earlier.
	position := make(map[string]int)
	pos := 0
	for _, batch := range batches {
		for _, task := range batch.Tasks {
			position[task.ID] = pos
			pos++
		}
	}
	for _, batch := range batches {
		for _, task := range batch.Tasks {
			for _, dep := range task.DependsOn {
				if position[dep] >= position[task.ID] {
					t.Errorf("dependency %s of %s does not appear earlier", dep, task.ID)
				}
			}
		}
	}

	if len(batches) != 3 {
		t.Errorf("expected 3 batches, got %d", len(batches))
	}
}

func TestBuildPriorityTieBreak(t *testing.T) {
	// Scenario: A (no deps, prio 1), B (no deps, prio 5), C (deps A,B).
	// Batch 1 must be [B, A], batch 2 must be [C].
	g := New()
	addAll(t, g,
		&models.Task{ID: "A", Priority: 1},
		&models.Task{ID: "B", Priority: 5},
		&models.Task{ID: "C", DependsOn: []string{"A", "B"}},
	)

	batches, err := g.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}

	first := batches[0].IDs()
	if len(first) != 2 || first[0] != "B" || first[1] != "A" {
		t.Errorf("expected batch 1 = [B, A], got %v", first)
	}
	second := batches[1].IDs()
	if len(second) != 1 || second[0] != "C" {
		t.Errorf("expected batch 2 = [C], got %v", second)
	}
}

func TestBuildSubmissionOrderOnEqualPriority(t *testing.T) {
	g := New()
	addAll(t, g,
		&models.Task{ID: "first", Priority: 3},
		&models.Task{ID: "second", Priority: 3},
		&models.Task{ID: "third", Priority: 3},
	)

	batches, err := g.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	got := batches[0].IDs()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected submission order %v, got %v", want, got)
		}
	}
}

func TestBuildCycle(t *testing.T) {
	// Scenario: A depends on B, B depends on A.
	g := New()
	addAll(t, g,
		&models.Task{ID: "A", DependsOn: []string{"B"}},
		&models.Task{ID: "B", DependsOn: []string{"A"}},
	)

	batches, err := g.Build()
	if batches != nil {
		t.Error("expected no partial batches on cycle")
	}

	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cerr.IDs) != 2 {
		t.Fatalf("expected 2 offending ids, got %v", cerr.IDs)
	}
	if cerr.IDs[0] != "A" || cerr.IDs[1] != "B" {
		t.Errorf("expected CycleError naming A and B, got %v", cerr.IDs)
	}
}

func TestBuildCycleWithDownstream(t *testing.T) {
	// A task depending on a cycle is unsatisfiable and must be named too.
	g := New()
	addAll(t, g,
		&models.Task{ID: "x", DependsOn: []string{"y"}},
		&models.Task{ID: "y", DependsOn: []string{"x"}},
		&models.Task{ID: "z", DependsOn: []string{"x"}},
		&models.Task{ID: "ok"},
	)

	_, err := g.Build()
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cerr.IDs) != 3 {
		t.Errorf("expected 3 offending ids (x, y, z), got %v", cerr.IDs)
	}
}

func TestBuildUnknownDependency(t *testing.T) {
	g := New()
	addAll(t, g, &models.Task{ID: "a", DependsOn: []string{"ghost"}})

	_, err := g.Build()
	var uerr *UnknownDependencyError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnknownDependencyError, got %v", err)
	}
	if uerr.TaskID != "a" || uerr.DepID != "ghost" {
		t.Errorf("unexpected error fields: %+v", uerr)
	}
}

func TestBuildEmptyGraph(t *testing.T) {
	g := New()
	batches, err := g.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("expected 0 batches, got %d", len(batches))
	}
}

func TestHasCycle(t *testing.T) {
	g := New()
	addAll(t, g,
		&models.Task{ID: "a", DependsOn: []string{"b"}},
		&models.Task{ID: "b", DependsOn: []string{"c"}},
		&models.Task{ID: "c", DependsOn: []string{"a"}},
	)

	if !g.HasCycle() {
		t.Error("expected cycle to be detected")
	}
}

func TestHasCycleAcyclic(t *testing.T) {
	g := New()
	addAll(t, g,
		&models.Task{ID: "a"},
		&models.Task{ID: "b", DependsOn: []string{"a"}},
	)

	if g.HasCycle() {
		t.Error("expected no cycle")
	}
}

func TestDependents(t *testing.T) {
	g := New()
	addAll(t, g,
		&models.Task{ID: "a"},
		&models.Task{ID: "b", DependsOn: []string{"a"}},
		&models.Task{ID: "c", DependsOn: []string{"a"}},
		&models.Task{ID: "d", DependsOn: []string{"b"}},
	)

	deps := g.Dependents("a")
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependents of a, got %v", deps)
	}
	if deps[0] != "b" || deps[1] != "c" {
		t.Errorf("expected dependents [b, c], got %v", deps)
	}
}

func TestTaskLookup(t *testing.T) {
	g := New()
	task := &models.Task{ID: "a", Capability: "echo"}
	addAll(t, g, task)

	if got := g.Task("a"); got != task {
		t.Error("expected to get back the same task")
	}
	if got := g.Task("missing"); got != nil {
		t.Error("expected nil for missing task")
	}
	if g.Size() != 1 {
		t.Errorf("expected size 1, got %d", g.Size())
	}
}
