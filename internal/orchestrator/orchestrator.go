package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/flowline/internal/executor"
	"github.com/ShayCichocki/flowline/internal/graph"
	"github.com/ShayCichocki/flowline/internal/retry"
	"github.com/ShayCichocki/flowline/pkg/models"
)

// Orchestrator consumes a task graph and drives its batches through the
// bounded executor. Batches are strict barriers: every task of a batch
// reaches a terminal outcome before the next batch is dispatched, so no
// task ever observes a same-level sibling mid-flight.
type Orchestrator struct {
	// executor runs individual task attempts under the concurrency cap.
	executor *executor.BoundedExecutor
	// policy decides whether and when failed tasks are retried.
	policy retry.Policy
	// status records lifecycle transitions; optional.
	status *StatusRegistry
	// emitter publishes progress events; optional.
	emitter *EventEmitter
	// runID tags emitted events; optional.
	runID string
	// logger is the debug logger.
	logger *DebugLogger
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*Orchestrator)

// WithStatusRegistry sets the registry receiving state transitions.
func WithStatusRegistry(r *StatusRegistry) Option {
	return func(o *Orchestrator) { o.status = r }
}

// WithEmitter sets the event emitter.
func WithEmitter(e *EventEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithRunID sets the run ID carried on emitted events.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator on top of a bounded executor.
func New(exec *executor.BoundedExecutor, policy retry.Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executor: exec,
		policy:   policy,
		logger:   NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run builds the dependency graph for the given tasks and executes it
// batch by batch. The returned map enumerates every submitted task ID with
// exactly one terminal result; it is nil only when graph construction
// fails (duplicate ID, unknown dependency, or cycle).
func (o *Orchestrator) Run(ctx context.Context, tasks []*models.Task) (map[string]models.TaskResult, error) {
	g := graph.New()
	g.SetDebugLog(o.logger.Log)
	for _, task := range tasks {
		if err := g.Add(task); err != nil {
			return nil, err
		}
	}

	batches, err := g.Build()
	if err != nil {
		return nil, err
	}

	o.logger.Log("[orchestrator] running %d tasks in %d batches", len(tasks), len(batches))

	results := make(map[string]models.TaskResult, len(tasks))
	var mu sync.Mutex

	for _, batch := range batches {
		o.logger.Log("[orchestrator] batch %d: %v", batch.Level, batch.IDs())

		// Dependencies always live in earlier batches, so the skip check
		// reads a snapshot taken at the barrier; sibling goroutines write
		// this batch's results concurrently.
		mu.Lock()
		prior := make(map[string]models.TaskResult, len(results))
		for id, res := range results {
			prior[id] = res
		}
		mu.Unlock()

		var wg sync.WaitGroup
		for _, task := range batch.Tasks {
			// A task whose dependency did not succeed is skipped, never
			// attempted. Retries of the dependency have already been
			// exhausted by the time its batch drained.
			if failedDep := o.failedDependency(task, prior); failedDep != "" {
				res := models.TaskResult{
					TaskID:  task.ID,
					Outcome: models.OutcomeSkipped,
					Err:     fmt.Errorf("dependency %s did not succeed", failedDep),
				}
				mu.Lock()
				results[task.ID] = res
				mu.Unlock()
				o.finalize(res)
				o.emit(Event{Type: EventTaskSkipped, TaskID: task.ID, Outcome: models.OutcomeSkipped,
					Message: fmt.Sprintf("skipped: dependency %s did not succeed", failedDep)})
				continue
			}

			o.emit(Event{Type: EventTaskQueued, TaskID: task.ID})

			wg.Add(1)
			go func(t *models.Task) {
				defer wg.Done()
				res := o.runWithRetry(ctx, t)
				mu.Lock()
				results[t.ID] = res
				mu.Unlock()
			}(task)
		}
		// Barrier: the whole batch drains before its results become
		// visible downstream.
		wg.Wait()
	}

	return results, nil
}

// failedDependency returns the ID of the first dependency that did not
// reach a success outcome, or empty string if all succeeded.
func (o *Orchestrator) failedDependency(task *models.Task, results map[string]models.TaskResult) string {
	for _, dep := range task.DependsOn {
		res, ok := results[dep]
		if !ok || res.Outcome != models.OutcomeSuccess {
			return dep
		}
	}
	return ""
}

// runWithRetry executes a task until it succeeds, its retry budget is
// exhausted, or the run is cancelled. Retries happen within the task's own
// batch with an incremented attempt counter.
func (o *Orchestrator) runWithRetry(ctx context.Context, task *models.Task) models.TaskResult {
	o.transitionRunning(task.ID)
	o.emit(Event{Type: EventTaskStarted, TaskID: task.ID, Attempt: 1})

	start := time.Now()
	var res models.TaskResult
	for attempt := 0; ; attempt++ {
		res = o.executor.Run(ctx, task, attempt)
		if res.Outcome == models.OutcomeSuccess || res.Outcome == models.OutcomeCancelled {
			break
		}

		ok, delay := o.policy.ShouldRetry(attempt, task.MaxRetries, res.Err)
		if !ok {
			if task.MaxRetries > 0 && attempt >= task.MaxRetries && !retry.IsNonRetryable(res.Err) {
				res.Err = &retry.MaxRetriesExceededError{
					TaskID:   task.ID,
					Attempts: res.Attempts,
					Err:      res.Err,
				}
			}
			break
		}

		o.logger.Log("[orchestrator] task %s attempt %d failed (%v), retrying in %v",
			task.ID, attempt+1, res.Err, delay)
		o.emit(Event{Type: EventTaskRetrying, TaskID: task.ID, Attempt: attempt + 2,
			Message: fmt.Sprintf("retrying in %v", delay)})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			res = models.TaskResult{
				TaskID:   task.ID,
				Outcome:  models.OutcomeCancelled,
				Err:      ctx.Err(),
				Attempts: res.Attempts,
				Duration: time.Since(start),
			}
			o.finalizeAndEmit(res)
			return res
		}
	}

	// Duration covers all attempts including backoff delays.
	res.Duration = time.Since(start)
	o.finalizeAndEmit(res)
	return res
}

// transitionRunning records the pending -> running transition.
func (o *Orchestrator) transitionRunning(id string) {
	if o.status == nil {
		return
	}
	if err := o.status.Transition(id, models.TaskStatePending, models.TaskStateRunning); err != nil {
		o.logger.Log("[orchestrator] transition warning: %v", err)
	}
}

// finalize records a terminal result in the status registry.
func (o *Orchestrator) finalize(res models.TaskResult) {
	if o.status == nil {
		return
	}
	if err := o.status.Record(res); err != nil {
		o.logger.Log("[orchestrator] record warning: %v", err)
	}
}

func (o *Orchestrator) finalizeAndEmit(res models.TaskResult) {
	o.finalize(res)
	o.logger.Log("[orchestrator] task %s finished: outcome=%s attempts=%d", res.TaskID, res.Outcome, res.Attempts)
	o.emit(Event{Type: EventTaskFinished, TaskID: res.TaskID, Outcome: res.Outcome, Attempt: res.Attempts})
}

// emit publishes an event if an emitter is attached.
func (o *Orchestrator) emit(ev Event) {
	if o.emitter == nil {
		return
	}
	ev.RunID = o.runID
	ev.Timestamp = time.Now()
	o.emitter.Emit(ev)
}
