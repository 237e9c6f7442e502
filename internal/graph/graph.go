// Package graph provides the dependency graph that levels tasks into
// batches for scheduling.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/flowline/pkg/models"
)

// DuplicateTaskError indicates a task ID was added more than once.
type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task id %q", e.ID)
}

// CycleError indicates the graph contains a circular or otherwise
// unsatisfiable dependency. IDs names every task that could not be placed
// into a batch.
type CycleError struct {
	IDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected among tasks %v", e.IDs)
}

// UnknownDependencyError indicates a task depends on an ID that was never
// added to the graph.
type UnknownDependencyError struct {
	TaskID string
	DepID  string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown task %s", e.TaskID, e.DepID)
}

// Batch holds tasks at one topological depth. All tasks in a batch are
// mutually independent and every dependency resolves to an earlier batch.
type Batch struct {
	// Level is the zero-based topological depth.
	Level int
	// Tasks are ordered by descending priority, then submission order.
	Tasks []*models.Task
}

// IDs returns the task IDs of the batch in order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Tasks))
	for i, t := range b.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// TaskGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
type TaskGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// order records submission order for deterministic tie-breaking.
	order []string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty task graph.
func New() *TaskGraph {
	return &TaskGraph{
		nodes:    make(map[string]*models.Task),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *TaskGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Add registers a task as a node. It fails with DuplicateTaskError if the
// ID is already present.
func (g *TaskGraph) Add(task *models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task has empty id")
	}
	if _, exists := g.nodes[task.ID]; exists {
		return &DuplicateTaskError{ID: task.ID}
	}

	g.debugLog("[graph.Add] adding task: id=%s capability=%s depends_on=%v", task.ID, task.Capability, task.DependsOn)
	g.nodes[task.ID] = task
	g.order = append(g.order, task.ID)
	return nil
}

// Size returns the number of tasks in the graph.
func (g *TaskGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Task returns the task for a given ID, or nil if not found.
func (g *TaskGraph) Task(id string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *TaskGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, candidate := range g.order {
		for _, depID := range g.nodes[candidate].DependsOn {
			if depID == id {
				dependents = append(dependents, candidate)
				break
			}
		}
	}
	return dependents
}

// Build levels the graph into ordered batches. Each iteration collects the
// tasks whose dependencies are all in earlier batches; if an iteration adds
// nothing, the remainder is cyclic and Build fails with CycleError naming
// the offending IDs. No partial batches are returned on error.
func (g *TaskGraph) Build() ([]Batch, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Validate dependency references before leveling.
	for _, id := range g.order {
		for _, depID := range g.nodes[id].DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return nil, &UnknownDependencyError{TaskID: id, DepID: depID}
			}
		}
	}

	placed := make(map[string]bool, len(g.nodes))
	var batches []Batch

	for len(placed) < len(g.nodes) {
		var ready []*models.Task
		for _, id := range g.order {
			if placed[id] {
				continue
			}
			task := g.nodes[id]
			satisfied := true
			for _, depID := range task.DependsOn {
				if !placed[depID] {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, task)
			}
		}

		if len(ready) == 0 {
			// Stalled: everything unplaced is cyclic or depends on the cycle.
			var remaining []string
			for _, id := range g.order {
				if !placed[id] {
					remaining = append(remaining, id)
				}
			}
			sort.Strings(remaining)
			g.debugLog("[graph.Build] stalled with %d unplaced tasks: %v", len(remaining), remaining)
			return nil, &CycleError{IDs: remaining}
		}

		// Descending priority; stable sort preserves submission order on ties.
		sort.SliceStable(ready, func(i, j int) bool {
			return ready[i].Priority > ready[j].Priority
		})

		for _, task := range ready {
			placed[task.ID] = true
		}
		batches = append(batches, Batch{Level: len(batches), Tasks: ready})
		g.debugLog("[graph.Build] batch %d: %v", len(batches)-1, Batch{Tasks: ready}.IDs())
	}

	return batches, nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *TaskGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1 // Mark as in progress.

		for _, depID := range g.nodes[id].DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				continue
			}
			switch colors[depID] {
			case 1:
				// Found a back edge.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2 // Mark as done.
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}
