// Package handlers provides the built-in task handlers shipped with the
// engine: shell command execution, echo, and sleep.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ShayCichocki/flowline/internal/registry"
	"github.com/ShayCichocki/flowline/internal/retry"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)
}

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns combined stdout/stderr output.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

// RunShell executes a shell command through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)

// ShellHandler runs a shell command taken from the task input.
//
// Input keys:
//
//	command  (string, required) the command passed to "sh -c"
//	work_dir (string, optional) working directory for the command
//
// Output keys:
//
//	output    combined stdout/stderr, trailing whitespace trimmed
//	exit_code 0 on success, the command's exit code otherwise
type ShellHandler struct {
	runner CommandRunner
}

// NewShellHandler creates a shell handler backed by the given runner.
func NewShellHandler(runner CommandRunner) *ShellHandler {
	return &ShellHandler{runner: runner}
}

// Name returns the capability name.
func (h *ShellHandler) Name() string { return "shell" }

// Execute runs the command and captures its output.
func (h *ShellHandler) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	command, _ := input["command"].(string)
	if command == "" {
		return nil, retry.NonRetryable(fmt.Errorf("shell handler requires a command input"))
	}
	workDir, _ := input["work_dir"].(string)

	out, err := h.runner.RunShell(ctx, workDir, command)
	result := map[string]any{
		"output":    strings.TrimRight(string(out), "\n\t "),
		"exit_code": 0,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result["exit_code"] = exitErr.ExitCode()
		}
		return result, fmt.Errorf("command failed: %w", err)
	}
	return result, nil
}

// EchoHandler copies its input to its output. Useful for smoke tests and
// for seeding workflow context values from YAML.
type EchoHandler struct{}

// Name returns the capability name.
func (h *EchoHandler) Name() string { return "echo" }

// Execute returns the input unchanged.
func (h *EchoHandler) Execute(_ context.Context, input map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out, nil
}

// SleepHandler blocks for the duration named in the "duration" input,
// respecting cancellation. Useful for testing timeout and concurrency
// behavior with real workflow files.
type SleepHandler struct{}

// Name returns the capability name.
func (h *SleepHandler) Name() string { return "sleep" }

// Execute sleeps for the requested duration.
func (h *SleepHandler) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	raw, _ := input["duration"].(string)
	if raw == "" {
		return nil, retry.NonRetryable(fmt.Errorf("sleep handler requires a duration input"))
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, retry.NonRetryable(fmt.Errorf("invalid duration %q: %w", raw, err))
	}

	select {
	case <-time.After(d):
		return map[string]any{"slept": raw}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RegisterBuiltins registers the built-in handlers on a registry.
func RegisterBuiltins(r *registry.Registry, runner CommandRunner) {
	if runner == nil {
		runner = NewRunner()
	}
	r.Register(NewShellHandler(runner))
	r.Register(&EchoHandler{})
	r.Register(&SleepHandler{})
}
