package models

import "time"

// Outcome represents the terminal outcome of a task execution.
// Expected conditions (timeout, missing handler, handler error) are reported
// through outcomes rather than escaping as errors; one bad handler can never
// abort unrelated work.
type Outcome int

const (
	// OutcomeSuccess indicates the handler returned without error.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure indicates the handler returned an error or panicked.
	OutcomeFailure
	// OutcomeTimeout indicates the attempt exceeded the task timeout.
	OutcomeTimeout
	// OutcomeSkipped indicates the task was never attempted because a
	// dependency failed terminally.
	OutcomeSkipped
	// OutcomeCancelled indicates the task was cancelled by its run.
	OutcomeCancelled
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// State maps an outcome to the corresponding terminal task state.
func (o Outcome) State() TaskState {
	switch o {
	case OutcomeSuccess:
		return TaskStateSucceeded
	case OutcomeTimeout:
		return TaskStateTimedOut
	case OutcomeSkipped:
		return TaskStateSkipped
	case OutcomeCancelled:
		return TaskStateCancelled
	default:
		return TaskStateFailed
	}
}

// TaskResult is the terminal result of a task. It is created exactly once,
// written by the executor and read by the orchestrator and status registry.
type TaskResult struct {
	// TaskID is the ID of the task this result belongs to.
	TaskID string
	// Outcome is the terminal outcome.
	Outcome Outcome
	// Value is the handler output on success, nil otherwise.
	Value map[string]any
	// Err describes the failure, nil on success and skip.
	Err error
	// Attempts is the total number of execution attempts.
	Attempts int
	// Duration is the wall-clock time spent across all attempts.
	Duration time.Duration
}

// TaskRecord is the serializable form of a TaskResult, used in snapshots.
type TaskRecord struct {
	TaskID   string        `json:"task_id"`
	Outcome  string        `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Record converts a TaskResult into its serializable form.
func (r TaskResult) Record() TaskRecord {
	rec := TaskRecord{
		TaskID:   r.TaskID,
		Outcome:  r.Outcome.String(),
		Attempts: r.Attempts,
		Duration: r.Duration,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// RunSnapshot is the persisted form of a run: identity, state, timestamps,
// and per-task records. Snapshots are best-effort and never authoritative.
type RunSnapshot struct {
	RunID      string       `json:"run_id"`
	State      RunState     `json:"state"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Tasks      []TaskRecord `json:"tasks"`
}
