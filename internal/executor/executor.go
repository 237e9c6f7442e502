// Package executor runs individual task attempts under a global
// concurrency cap with per-task timeouts and failure isolation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/flowline/internal/registry"
	"github.com/ShayCichocki/flowline/internal/retry"
	"github.com/ShayCichocki/flowline/pkg/models"
)

// DefaultTimeout applies when a task carries no timeout of its own.
const DefaultTimeout = 5 * time.Minute

// TimeoutError indicates a task attempt exceeded its timeout.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %v", e.TaskID, e.Timeout)
}

// HandlerError wraps an error or recovered panic raised by a handler.
type HandlerError struct {
	Capability string
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q: %v", e.Capability, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// BoundedExecutor runs one task attempt at a time per call, bounded
// globally by a counting semaphore. Every expected failure mode (missing
// handler, handler error, panic, timeout, cancellation) is normalized into
// a TaskResult; the executor never lets a single task's failure escape.
//
// The concurrency cap counts attempts the executor is waiting on. A timed
// out attempt releases its slot when its result is returned; a handler
// that ignores the cancelled context keeps its goroutine running outside
// the cap until it returns.
type BoundedExecutor struct {
	// sem caps the number of concurrently executing handlers.
	sem *semaphore.Weighted
	// registry resolves capability names to handlers.
	registry *registry.Registry
	// defaultTimeout applies to tasks without an explicit timeout.
	defaultTimeout time.Duration
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// Option configures a BoundedExecutor.
type Option func(*BoundedExecutor)

// WithDefaultTimeout sets the timeout used for tasks that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *BoundedExecutor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(e *BoundedExecutor) {
		if fn != nil {
			e.debugLog = fn
		}
	}
}

// New creates a BoundedExecutor with the given concurrency cap.
// A cap below 1 is treated as 1.
func New(maxConcurrency int, reg *registry.Registry, opts ...Option) *BoundedExecutor {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	e := &BoundedExecutor{
		sem:            semaphore.NewWeighted(int64(maxConcurrency)),
		registry:       reg,
		defaultTimeout: DefaultTimeout,
		debugLog:       func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// attemptOutcome carries a handler's return values across the goroutine
// boundary.
type attemptOutcome struct {
	value map[string]any
	err   error
}

// Run executes one attempt of a task and returns its result. The attempt
// argument is zero-based; the returned result reports attempt+1 attempts.
//
// A semaphore slot is acquired before the handler is invoked and released
// on every exit path. The handler runs in its own goroutine under a
// deadline context; on timeout the context is cancelled and a timeout
// result is returned without waiting for a stuck handler. Handlers that
// ignore cancellation leak their goroutine, not a slot.
func (e *BoundedExecutor) Run(ctx context.Context, task *models.Task, attempt int) models.TaskResult {
	start := time.Now()
	result := models.TaskResult{TaskID: task.ID, Attempts: attempt + 1}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		// Parent context cancelled while waiting for a slot.
		result.Outcome = models.OutcomeCancelled
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	defer e.sem.Release(1)

	handler, err := e.registry.Lookup(task.Capability)
	if err != nil {
		e.debugLog("[executor] task %s: %v", task.ID, err)
		result.Outcome = models.OutcomeFailure
		result.Err = retry.NonRetryable(err)
		result.Duration = time.Since(start)
		return result
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptOutcome{err: &HandlerError{
					Capability: task.Capability,
					Err:        fmt.Errorf("panic: %v", r),
				}}
			}
		}()
		value, err := handler.Execute(runCtx, task.Input)
		done <- attemptOutcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		result.Duration = time.Since(start)
		if out.err != nil {
			e.debugLog("[executor] task %s attempt %d failed: %v", task.ID, attempt+1, out.err)
			result.Outcome = models.OutcomeFailure
			result.Err = e.wrapHandlerErr(task.Capability, out.err)
			return result
		}
		result.Outcome = models.OutcomeSuccess
		result.Value = out.value
		return result

	case <-runCtx.Done():
		result.Duration = time.Since(start)
		if ctx.Err() != nil {
			// The run itself was cancelled, not just this attempt.
			e.debugLog("[executor] task %s cancelled", task.ID)
			result.Outcome = models.OutcomeCancelled
			result.Err = ctx.Err()
			return result
		}
		e.debugLog("[executor] task %s timed out after %v", task.ID, timeout)
		result.Outcome = models.OutcomeTimeout
		result.Err = &TimeoutError{TaskID: task.ID, Timeout: timeout}
		return result
	}
}

// wrapHandlerErr normalizes a handler error into a HandlerError while
// preserving non-retryable and already-wrapped markers.
func (e *BoundedExecutor) wrapHandlerErr(capability string, err error) error {
	var he *HandlerError
	if errors.As(err, &he) {
		return err
	}
	if retry.IsNonRetryable(err) {
		return err
	}
	return &HandlerError{Capability: capability, Err: err}
}
