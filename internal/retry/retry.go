// Package retry decides whether and when a failed task should be retried.
package retry

import (
	"errors"
	"fmt"
	"time"
)

// DefaultBaseDelay is the initial backoff delay when none is configured.
const DefaultBaseDelay = 100 * time.Millisecond

// DefaultMaxDelay caps the exponential backoff.
const DefaultMaxDelay = 30 * time.Second

// MaxRetriesExceededError marks a terminal failure after the retry budget
// was exhausted. It wraps the error from the final attempt.
type MaxRetriesExceededError struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempts: %v", e.TaskID, e.Attempts, e.Err)
}

func (e *MaxRetriesExceededError) Unwrap() error {
	return e.Err
}

// nonRetryableError wraps an error that must never be retried.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string {
	return e.err.Error()
}

func (e *nonRetryableError) Unwrap() error {
	return e.err
}

// NonRetryable marks an error so the policy never retries it, regardless of
// remaining budget. Handlers use this for invalid input and other conditions
// that cannot be fixed by trying again.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err is marked non-retryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}

// Policy is a pure, stateless retry decision function with exponential
// backoff. The zero value uses the package defaults.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
}

// Default returns the default policy.
func Default() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

// ShouldRetry decides whether a task that failed on the given zero-based
// attempt should be retried, and after what delay. The delay doubles with
// each attempt: base * 2^attempt, capped at MaxDelay. Errors marked
// non-retryable are never retried.
func (p Policy) ShouldRetry(attempt, maxRetries int, err error) (bool, time.Duration) {
	if attempt >= maxRetries {
		return false, 0
	}
	if IsNonRetryable(err) {
		return false, 0
	}
	return true, p.Delay(attempt)
}

// Delay returns the backoff delay for the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	max := p.MaxDelay
	if max <= 0 {
		max = DefaultMaxDelay
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
