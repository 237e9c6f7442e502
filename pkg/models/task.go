package models

import "time"

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	// TaskStatePending indicates the task has not started.
	TaskStatePending TaskState = "pending"
	// TaskStateRunning indicates the task is executing.
	TaskStateRunning TaskState = "running"
	// TaskStateSucceeded indicates the task completed successfully.
	TaskStateSucceeded TaskState = "succeeded"
	// TaskStateFailed indicates the task failed terminally.
	TaskStateFailed TaskState = "failed"
	// TaskStateSkipped indicates the task was never attempted because a
	// dependency failed terminally.
	TaskStateSkipped TaskState = "skipped"
	// TaskStateCancelled indicates the task was cancelled.
	TaskStateCancelled TaskState = "cancelled"
	// TaskStateTimedOut indicates the task exceeded its timeout.
	TaskStateTimedOut TaskState = "timed_out"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateRunning, TaskStateSucceeded,
		TaskStateFailed, TaskStateSkipped, TaskStateCancelled, TaskStateTimedOut:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from this state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateSkipped,
		TaskStateCancelled, TaskStateTimedOut:
		return true
	default:
		return false
	}
}

// Task represents a schedulable unit of work.
// A task is immutable once submitted; the orchestrator owns it exclusively
// for the duration of its run.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Capability names the handler that executes this task. The engine
	// never inspects what a handler does, only resolves it by name.
	Capability string `json:"capability" yaml:"handler"`
	// Input is the opaque payload passed to the handler.
	Input map[string]any `json:"input,omitempty" yaml:"input"`
	// Priority orders tasks within a batch; higher runs sooner.
	Priority int `json:"priority,omitempty" yaml:"priority"`
	// DependsOn lists task IDs that must succeed before this task runs.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on"`
	// Timeout bounds a single execution attempt. Zero means the engine
	// default applies.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	// MaxRetries is the number of additional attempts allowed after the
	// first failure.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries"`
}

// RunState represents the lifecycle state of a run (a submitted task set or
// a composed workflow).
type RunState string

const (
	// RunStatePending indicates the run has been created but not started.
	RunStatePending RunState = "pending"
	// RunStateRunning indicates the run is executing.
	RunStateRunning RunState = "running"
	// RunStateCompleted indicates every task reached a terminal state and
	// none failed.
	RunStateCompleted RunState = "completed"
	// RunStateFailed indicates at least one task failed terminally.
	RunStateFailed RunState = "failed"
	// RunStateCancelled indicates the run was cancelled.
	RunStateCancelled RunState = "cancelled"
)

// Valid returns true if the state is a known value.
func (s RunState) Valid() bool {
	switch s {
	case RunStatePending, RunStateRunning, RunStateCompleted,
		RunStateFailed, RunStateCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the run state allows no further transitions.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	default:
		return false
	}
}
