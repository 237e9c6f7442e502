package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/flowline/pkg/models"
)

// InvalidTransitionError indicates a state transition was attempted from a
// state other than the recorded one. It is the optimistic guard against
// double-transition races.
type InvalidTransitionError struct {
	ID   string
	From models.TaskState
	To   models.TaskState
	Have models.TaskState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot transition %s -> %s, recorded state is %s",
		e.ID, e.From, e.To, e.Have)
}

// Progress summarizes how far a run has advanced.
type Progress struct {
	// Total is the number of tasks in the run.
	Total int
	// Terminal is the number of tasks in a terminal state.
	Terminal int
	// ByState counts tasks per state.
	ByState map[models.TaskState]int
}

// Fraction returns completion as a value in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Terminal) / float64(p.Total)
}

// Stats are aggregate run statistics, computed on read rather than
// maintained incrementally so they can never drift from the results.
type Stats struct {
	// SuccessRate is succeeded / terminal, in [0, 1].
	SuccessRate float64
	// AvgDuration is the mean task duration across terminal results.
	AvgDuration time.Duration
	// Throughput is terminal tasks per second since tracking began.
	Throughput float64
}

// StatusRegistry tracks lifecycle state transitions for the tasks of one
// run. It guarantees a task never records two terminal states.
type StatusRegistry struct {
	mu      sync.RWMutex
	states  map[string]models.TaskState
	results map[string]models.TaskResult
	started time.Time
}

// NewStatusRegistry creates a registry seeded with every task in pending
// state.
func NewStatusRegistry(taskIDs []string) *StatusRegistry {
	states := make(map[string]models.TaskState, len(taskIDs))
	for _, id := range taskIDs {
		states[id] = models.TaskStatePending
	}
	return &StatusRegistry{
		states:  states,
		results: make(map[string]models.TaskResult, len(taskIDs)),
		started: time.Now(),
	}
}

// Transition moves a task from one state to another. It fails with
// InvalidTransitionError if the recorded state differs from the expected
// one, or if the recorded state is already terminal.
func (r *StatusRegistry) Transition(id string, from, to models.TaskState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	have, ok := r.states[id]
	if !ok {
		return fmt.Errorf("task %s not tracked", id)
	}
	if have != from || have.Terminal() {
		return &InvalidTransitionError{ID: id, From: from, To: to, Have: have}
	}
	r.states[id] = to
	return nil
}

// State returns the recorded state for a task, or empty string if the task
// is not tracked.
func (r *StatusRegistry) State(id string) models.TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[id]
}

// Record finalizes a task with its terminal result. A task can be recorded
// exactly once; recording over a terminal state fails with
// InvalidTransitionError.
func (r *StatusRegistry) Record(res models.TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	have, ok := r.states[res.TaskID]
	if !ok {
		return fmt.Errorf("task %s not tracked", res.TaskID)
	}
	to := res.Outcome.State()
	if have.Terminal() {
		return &InvalidTransitionError{ID: res.TaskID, From: have, To: to, Have: have}
	}
	r.states[res.TaskID] = to
	r.results[res.TaskID] = res
	return nil
}

// Result returns the recorded result for a task.
func (r *StatusRegistry) Result(id string) (models.TaskResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.results[id]
	return res, ok
}

// Results returns a copy of all recorded results keyed by task ID.
func (r *StatusRegistry) Results() map[string]models.TaskResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.TaskResult, len(r.results))
	for id, res := range r.results {
		out[id] = res
	}
	return out
}

// Progress computes run progress from the recorded states.
func (r *StatusRegistry) Progress() Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p := Progress{
		Total:   len(r.states),
		ByState: make(map[models.TaskState]int),
	}
	for _, state := range r.states {
		p.ByState[state]++
		if state.Terminal() {
			p.Terminal++
		}
	}
	return p
}

// Stats computes aggregate statistics from the recorded results.
func (r *StatusRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	if len(r.results) == 0 {
		return s
	}

	var succeeded int
	var total time.Duration
	for _, res := range r.results {
		if res.Outcome == models.OutcomeSuccess {
			succeeded++
		}
		total += res.Duration
	}

	s.SuccessRate = float64(succeeded) / float64(len(r.results))
	s.AvgDuration = total / time.Duration(len(r.results))
	if elapsed := time.Since(r.started).Seconds(); elapsed > 0 {
		s.Throughput = float64(len(r.results)) / elapsed
	}
	return s
}
