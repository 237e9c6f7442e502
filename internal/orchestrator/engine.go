package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/flowline/internal/executor"
	"github.com/ShayCichocki/flowline/internal/graph"
	"github.com/ShayCichocki/flowline/internal/registry"
	"github.com/ShayCichocki/flowline/internal/retry"
	"github.com/ShayCichocki/flowline/pkg/models"
)

// SnapshotStore persists run snapshots. It is best-effort and never
// authoritative: the engine logs and continues when a store call fails.
type SnapshotStore interface {
	SaveRun(snapshot *models.RunSnapshot) error
	LoadRun(runID string) (*models.RunSnapshot, error)
}

// EngineConfig contains configuration for an Engine.
type EngineConfig struct {
	// MaxConcurrency caps simultaneously executing handlers across all runs.
	MaxConcurrency int
	// DefaultTimeout applies to tasks without an explicit timeout.
	DefaultTimeout time.Duration
	// RetryPolicy decides retry behavior; zero value uses defaults.
	RetryPolicy retry.Policy
	// Registry resolves capability names to handlers. Required.
	Registry *registry.Registry
	// Store receives run snapshots; optional.
	Store SnapshotStore
	// Logger is the debug logger; optional.
	Logger *DebugLogger
	// EventBuffer sizes the event channel; defaults to 100.
	EventBuffer int
}

// RunStatus is the externally visible status of a run.
type RunStatus struct {
	RunID    string
	State    models.RunState
	Progress Progress
	Results  map[string]models.TaskResult
}

// engineRun tracks one submitted run.
type engineRun struct {
	id         string
	cancel     context.CancelFunc
	status     *StatusRegistry
	done       chan struct{}
	startedAt  time.Time
	finishedAt time.Time

	mu    sync.Mutex
	state models.RunState
	err   error
}

func (r *engineRun) setState(s models.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = s
}

func (r *engineRun) getState() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Engine exposes the orchestration core as four operations: Submit,
// Status, Cancel, and Stats. Runs execute asynchronously; cancelling one
// run never affects another.
type Engine struct {
	cfg     EngineConfig
	exec    *executor.BoundedExecutor
	emitter *EventEmitter
	logger  *DebugLogger

	mu      sync.RWMutex
	runs    map[string]*engineRun
	started time.Time

	// ctx and cancel bound the engine lifecycle.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an Engine from the given configuration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}

	execOpts := []executor.Option{executor.WithDebugLog(logger.Log)}
	if cfg.DefaultTimeout > 0 {
		execOpts = append(execOpts, executor.WithDefaultTimeout(cfg.DefaultTimeout))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		exec:    executor.New(cfg.MaxConcurrency, cfg.Registry, execOpts...),
		emitter: NewEventEmitter(cfg.EventBuffer),
		logger:  logger,
		runs:    make(map[string]*engineRun),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Events returns the channel for receiving engine events.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}

// Submit validates the task set, assigns a run ID, and starts executing
// asynchronously. Graph errors (duplicate IDs, unknown dependencies,
// cycles) are reported synchronously and no run is created.
func (e *Engine) Submit(tasks []*models.Task) (string, error) {
	if len(tasks) == 0 {
		return "", fmt.Errorf("no tasks submitted")
	}

	// Fail fast on graph errors before accepting the run.
	if err := validateGraph(tasks); err != nil {
		return "", err
	}

	runID := uuid.New().String()[:8]

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}

	runCtx, runCancel := context.WithCancel(e.ctx)
	run := &engineRun{
		id:        runID,
		cancel:    runCancel,
		status:    NewStatusRegistry(ids),
		done:      make(chan struct{}),
		startedAt: time.Now(),
		state:     models.RunStatePending,
	}

	e.mu.Lock()
	e.runs[runID] = run
	e.mu.Unlock()

	orch := New(e.exec, e.cfg.RetryPolicy,
		WithStatusRegistry(run.status),
		WithEmitter(e.emitter),
		WithRunID(runID),
		WithLogger(e.logger),
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(run.done)
		defer runCancel()

		run.setState(models.RunStateRunning)
		e.emitter.Emit(Event{Type: EventRunStarted, RunID: runID, Timestamp: time.Now()})

		results, err := orch.Run(runCtx, tasks)
		run.finishedAt = time.Now()

		run.mu.Lock()
		run.err = err
		run.mu.Unlock()
		run.setState(finalRunState(runCtx, results))

		e.emitter.Emit(Event{
			Type:      EventRunFinished,
			RunID:     runID,
			Message:   string(run.getState()),
			Timestamp: time.Now(),
		})
		e.logger.Log("[engine] run %s finished: %s", runID, run.getState())

		e.persist(run)
	}()

	return runID, nil
}

// validateGraph builds a throwaway graph to surface construction errors
// before a run is accepted.
func validateGraph(tasks []*models.Task) error {
	g := graph.New()
	for _, t := range tasks {
		if err := g.Add(t); err != nil {
			return err
		}
	}
	_, err := g.Build()
	return err
}

// finalRunState derives the run state from its context and task results.
func finalRunState(ctx context.Context, results map[string]models.TaskResult) models.RunState {
	if ctx.Err() != nil {
		return models.RunStateCancelled
	}
	for _, res := range results {
		switch res.Outcome {
		case models.OutcomeCancelled:
			return models.RunStateCancelled
		case models.OutcomeFailure, models.OutcomeTimeout, models.OutcomeSkipped:
			return models.RunStateFailed
		}
	}
	return models.RunStateCompleted
}

// Status returns the current state, progress, and per-task results of a run.
func (e *Engine) Status(runID string) (*RunStatus, error) {
	e.mu.RLock()
	run, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown run %s", runID)
	}

	return &RunStatus{
		RunID:    runID,
		State:    run.getState(),
		Progress: run.status.Progress(),
		Results:  run.status.Results(),
	}, nil
}

// Cancel cancels a run's in-flight tasks. Returns false if the run is
// unknown or already terminal. Completed tasks are never rolled back.
func (e *Engine) Cancel(runID string) bool {
	e.mu.RLock()
	run, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	if run.getState().Terminal() {
		return false
	}
	e.logger.Log("[engine] cancelling run %s", runID)
	run.cancel()
	return true
}

// Wait blocks until the run reaches a terminal state or ctx expires, then
// returns its final results.
func (e *Engine) Wait(ctx context.Context, runID string) (map[string]models.TaskResult, error) {
	e.mu.RLock()
	run, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown run %s", runID)
	}

	select {
	case <-run.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run.mu.Lock()
	err := run.err
	run.mu.Unlock()
	return run.status.Results(), err
}

// EngineStats aggregates statistics across every run of the engine.
type EngineStats struct {
	// Runs is the number of submitted runs.
	Runs int
	// Tasks is the number of terminal task results.
	Tasks int
	// SuccessRate is succeeded / terminal across all runs.
	SuccessRate float64
	// AvgDuration is the mean task duration across all runs.
	AvgDuration time.Duration
	// Throughput is terminal tasks per second since the engine started.
	Throughput float64
}

// Stats computes aggregate statistics on read.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := EngineStats{Runs: len(e.runs)}
	var succeeded int
	var total time.Duration
	for _, run := range e.runs {
		for _, res := range run.status.Results() {
			stats.Tasks++
			if res.Outcome == models.OutcomeSuccess {
				succeeded++
			}
			total += res.Duration
		}
	}
	if stats.Tasks > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.Tasks)
		stats.AvgDuration = total / time.Duration(stats.Tasks)
	}
	if elapsed := time.Since(e.started).Seconds(); elapsed > 0 {
		stats.Throughput = float64(stats.Tasks) / elapsed
	}
	return stats
}

// Stop cancels all runs and waits for them to finish.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.emitter.Close()
}

// persist writes a best-effort snapshot of a finished run.
func (e *Engine) persist(run *engineRun) {
	if e.cfg.Store == nil {
		return
	}

	results := run.status.Results()
	snapshot := &models.RunSnapshot{
		RunID:     run.id,
		State:     run.getState(),
		StartedAt: run.startedAt,
		Tasks:     make([]models.TaskRecord, 0, len(results)),
	}
	if !run.finishedAt.IsZero() {
		finished := run.finishedAt
		snapshot.FinishedAt = &finished
	}
	for _, res := range results {
		snapshot.Tasks = append(snapshot.Tasks, res.Record())
	}

	if err := e.cfg.Store.SaveRun(snapshot); err != nil {
		e.logger.Log("[engine] warning: failed to persist run %s: %v", run.id, err)
	}
}
