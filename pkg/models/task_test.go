package models

import "testing"

func TestTaskStateValid(t *testing.T) {
	tests := []struct {
		name  string
		state TaskState
		want  bool
	}{
		{"pending", TaskStatePending, true},
		{"running", TaskStateRunning, true},
		{"succeeded", TaskStateSucceeded, true},
		{"failed", TaskStateFailed, true},
		{"skipped", TaskStateSkipped, true},
		{"cancelled", TaskStateCancelled, true},
		{"timed_out", TaskStateTimedOut, true},
		{"empty", TaskState(""), false},
		{"unknown", TaskState("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Valid(); got != tt.want {
				t.Errorf("TaskState(%q).Valid() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestTaskStateTerminal(t *testing.T) {
	tests := []struct {
		name  string
		state TaskState
		want  bool
	}{
		{"pending", TaskStatePending, false},
		{"running", TaskStateRunning, false},
		{"succeeded", TaskStateSucceeded, true},
		{"failed", TaskStateFailed, true},
		{"skipped", TaskStateSkipped, true},
		{"cancelled", TaskStateCancelled, true},
		{"timed_out", TaskStateTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.want {
				t.Errorf("TaskState(%q).Terminal() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestRunStateTerminal(t *testing.T) {
	tests := []struct {
		name  string
		state RunState
		want  bool
	}{
		{"pending", RunStatePending, false},
		{"running", RunStateRunning, false},
		{"completed", RunStateCompleted, true},
		{"failed", RunStateFailed, true},
		{"cancelled", RunStateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.want {
				t.Errorf("RunState(%q).Terminal() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestRunStateValid(t *testing.T) {
	if !RunStateRunning.Valid() {
		t.Error("expected running to be valid")
	}
	if RunState("nope").Valid() {
		t.Error("expected unknown state to be invalid")
	}
}
