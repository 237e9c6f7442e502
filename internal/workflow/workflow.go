// Package workflow composes sequential, parallel, conditional, and
// bounded-loop pipelines on top of the orchestration primitives.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/flowline/internal/executor"
	"github.com/ShayCichocki/flowline/internal/orchestrator"
	"github.com/ShayCichocki/flowline/internal/retry"
	"github.com/ShayCichocki/flowline/pkg/models"
)

// StopKey is the reserved context key a step sets to true to stop an
// enclosing loop early.
const StopKey = "__stop"

// StepKind identifies how a step composes its children.
type StepKind int

const (
	// KindTask runs a single task through the executor.
	KindTask StepKind = iota
	// KindSequence runs children one after another, each child's output
	// visible to later children.
	KindSequence
	// KindParallel runs children together as one batch-equivalent;
	// dependency declarations on task children are ignored.
	KindParallel
	// KindConditional selects at most one branch by predicate.
	KindConditional
	// KindLoop repeats its children up to MaxIterations.
	KindLoop
)

// String returns a human-readable kind name.
func (k StepKind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindSequence:
		return "sequence"
	case KindParallel:
		return "parallel"
	case KindConditional:
		return "conditional"
	case KindLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// Branch pairs a predicate with the step to run when it matches.
type Branch struct {
	When Predicate
	Step Step
}

// Step is one node of a workflow. Steps are plain values built with the
// constructor functions below; unbounded loops cannot be expressed.
type Step struct {
	// Name identifies the step in results.
	Name string
	// Kind selects the composition mode.
	Kind StepKind
	// Task is the payload for KindTask.
	Task *models.Task
	// Steps are the children for sequence, parallel, and loop steps.
	Steps []Step
	// Branches are the conditional branches for KindConditional.
	Branches []Branch
	// Required marks a conditional as failing the run when no branch
	// matches, instead of reporting skipped.
	Required bool
	// MaxIterations bounds a loop. Loops with no positive bound fail
	// validation.
	MaxIterations int
	// Until stops a loop early when it evaluates true after an iteration.
	Until Predicate
}

// TaskStep wraps a single task as a step.
func TaskStep(task *models.Task) Step {
	return Step{Name: task.ID, Kind: KindTask, Task: task}
}

// Sequence runs steps one after another.
func Sequence(name string, steps ...Step) Step {
	return Step{Name: name, Kind: KindSequence, Steps: steps}
}

// Parallel runs steps together, awaited as one barrier.
func Parallel(name string, steps ...Step) Step {
	return Step{Name: name, Kind: KindParallel, Steps: steps}
}

// Conditional selects at most one branch. With required set, a run fails
// when no branch matches; otherwise the step reports skipped.
func Conditional(name string, required bool, branches ...Branch) Step {
	return Step{Name: name, Kind: KindConditional, Branches: branches, Required: required}
}

// Loop repeats steps until a child sets StopKey, until evaluates true, or
// maxIterations is reached.
func Loop(name string, maxIterations int, until Predicate, steps ...Step) Step {
	return Step{Name: name, Kind: KindLoop, Steps: steps, MaxIterations: maxIterations, Until: until}
}

// Validate checks a step tree for structural problems before launch.
func (s Step) Validate() error {
	switch s.Kind {
	case KindTask:
		if s.Task == nil {
			return fmt.Errorf("step %s: task step without task", s.Name)
		}
	case KindSequence, KindParallel:
		if len(s.Steps) == 0 {
			return fmt.Errorf("step %s: %s step without children", s.Name, s.Kind)
		}
	case KindConditional:
		if len(s.Branches) == 0 {
			return fmt.Errorf("step %s: conditional without branches", s.Name)
		}
		for _, b := range s.Branches {
			if b.When == nil {
				return fmt.Errorf("step %s: branch without predicate", s.Name)
			}
			if err := b.Step.Validate(); err != nil {
				return err
			}
		}
	case KindLoop:
		if s.MaxIterations <= 0 {
			return fmt.Errorf("step %s: loop requires a positive max iterations bound", s.Name)
		}
		if len(s.Steps) == 0 {
			return fmt.Errorf("step %s: loop without children", s.Name)
		}
	default:
		return fmt.Errorf("step %s: unknown kind %d", s.Name, s.Kind)
	}
	for _, child := range s.Steps {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StepStatus is the terminal status of one executed step.
type StepStatus string

const (
	// StepSucceeded indicates the step completed.
	StepSucceeded StepStatus = "succeeded"
	// StepFailed indicates the step failed.
	StepFailed StepStatus = "failed"
	// StepSkipped indicates an unmatched conditional branch.
	StepSkipped StepStatus = "skipped"
	// StepCancelled indicates the run was cancelled mid-step.
	StepCancelled StepStatus = "cancelled"
)

// StepResult records the outcome of one step execution.
type StepResult struct {
	// Name is the step name; loop iterations append #n.
	Name string
	// Kind is the step's composition mode.
	Kind StepKind
	// Status is the terminal step status.
	Status StepStatus
	// TaskResults holds per-task results for task and parallel steps.
	TaskResults map[string]models.TaskResult
	// Err describes a failure, nil otherwise.
	Err error
}

// Run is a launched workflow. Its state machine is
// pending -> running -> {completed, failed, cancelled}; completed steps
// are never rolled back.
type Run struct {
	// ID is the unique run identifier.
	ID string

	mu         sync.Mutex
	state      models.RunState
	results    []StepResult
	finalCtx   Context
	err        error
	startedAt  time.Time
	finishedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// State returns the current run state.
func (r *Run) State() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Results returns a copy of the accumulated step results.
func (r *Run) Results() []StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StepResult, len(r.results))
	copy(out, r.results)
	return out
}

// FinalContext returns the context after the last completed step.
func (r *Run) FinalContext() Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalCtx.Clone()
}

// Err returns the run error, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Cancel cancels the run's in-flight tasks. Returns false if the run is
// already terminal.
func (r *Run) Cancel() bool {
	r.mu.Lock()
	terminal := r.state.Terminal()
	r.mu.Unlock()
	if terminal {
		return false
	}
	r.cancel()
	return true
}

// Wait blocks until the run is terminal or ctx expires.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) setState(s models.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = s
}

func (r *Run) appendResult(res StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Composer builds and runs workflows from the orchestration primitives.
type Composer struct {
	exec   *executor.BoundedExecutor
	policy retry.Policy
	logger *orchestrator.DebugLogger

	mu   sync.Mutex
	runs map[string]*Run
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithLogger sets the debug logger.
func WithLogger(l *orchestrator.DebugLogger) ComposerOption {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewComposer creates a Composer sharing the given executor, so workflow
// tasks obey the same global concurrency cap as everything else.
func NewComposer(exec *executor.BoundedExecutor, policy retry.Policy, opts ...ComposerOption) *Composer {
	c := &Composer{
		exec:   exec,
		policy: policy,
		logger: orchestrator.NopLogger(),
		runs:   make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a launched run by ID.
func (c *Composer) Get(runID string) (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[runID]
	return run, ok
}

// Launch validates the step tree and starts executing it asynchronously
// with an initial context.
func (c *Composer) Launch(root Step, initial Context) (*Run, error) {
	if err := root.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:        uuid.New().String()[:8],
		state:     models.RunStatePending,
		finalCtx:  Context{},
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.runs[run.ID] = run
	c.mu.Unlock()

	go func() {
		defer close(run.done)
		defer cancel()

		run.setState(models.RunStateRunning)
		c.logger.Log("[workflow] run %s started", run.ID)

		wctx := Context{}
		if initial != nil {
			wctx = initial.Clone()
		}

		out, err := c.runStep(ctx, run, root, wctx)
		wctx.Merge(out)

		run.mu.Lock()
		run.finalCtx = wctx
		run.err = err
		run.finishedAt = time.Now()
		run.mu.Unlock()

		switch {
		case ctx.Err() != nil:
			run.setState(models.RunStateCancelled)
		case err != nil:
			run.setState(models.RunStateFailed)
		default:
			run.setState(models.RunStateCompleted)
		}
		c.logger.Log("[workflow] run %s finished: %s", run.ID, run.State())
	}()

	return run, nil
}

// Execute launches a workflow and waits for it to finish.
func (c *Composer) Execute(ctx context.Context, root Step, initial Context) (*Run, error) {
	run, err := c.Launch(root, initial)
	if err != nil {
		return nil, err
	}
	if err := run.Wait(ctx); err != nil {
		return run, err
	}
	return run, nil
}

// runStep executes one step and returns the output context it produced.
// The input context is read-only from the step's perspective.
func (c *Composer) runStep(ctx context.Context, run *Run, step Step, wctx Context) (map[string]any, error) {
	if ctx.Err() != nil {
		run.appendResult(StepResult{Name: step.Name, Kind: step.Kind, Status: StepCancelled, Err: ctx.Err()})
		return nil, ctx.Err()
	}

	switch step.Kind {
	case KindTask:
		return c.runTaskStep(ctx, run, step, wctx)
	case KindSequence:
		return c.runSequence(ctx, run, step, wctx)
	case KindParallel:
		return c.runParallel(ctx, run, step, wctx)
	case KindConditional:
		return c.runConditional(ctx, run, step, wctx)
	case KindLoop:
		return c.runLoop(ctx, run, step, wctx)
	default:
		err := fmt.Errorf("step %s: unknown kind %d", step.Name, step.Kind)
		run.appendResult(StepResult{Name: step.Name, Kind: step.Kind, Status: StepFailed, Err: err})
		return nil, err
	}
}

// runTaskStep executes a single task through the orchestrator so retry
// and status semantics match DAG runs. The current workflow context is
// exposed to the handler under the task's input.
func (c *Composer) runTaskStep(ctx context.Context, run *Run, step Step, wctx Context) (map[string]any, error) {
	task := *step.Task
	// Context values are visible to the handler without mutating the
	// submitted task: input wins over context on key collisions.
	merged := make(map[string]any, len(wctx)+len(task.Input))
	for k, v := range wctx {
		merged[k] = v
	}
	for k, v := range task.Input {
		merged[k] = v
	}
	task.Input = merged
	task.DependsOn = nil

	orch := orchestrator.New(c.exec, c.policy,
		orchestrator.WithRunID(run.ID),
		orchestrator.WithLogger(c.logger),
	)
	results, err := orch.Run(ctx, []*models.Task{&task})
	if err != nil {
		run.appendResult(StepResult{Name: step.Name, Kind: step.Kind, Status: StepFailed, Err: err})
		return nil, err
	}

	res := results[task.ID]
	sr := StepResult{
		Name:        step.Name,
		Kind:        step.Kind,
		TaskResults: results,
	}
	switch res.Outcome {
	case models.OutcomeSuccess:
		sr.Status = StepSucceeded
	case models.OutcomeCancelled:
		sr.Status = StepCancelled
		sr.Err = res.Err
	default:
		sr.Status = StepFailed
		sr.Err = res.Err
	}
	run.appendResult(sr)

	if sr.Status != StepSucceeded {
		return nil, fmt.Errorf("step %s: task %s %s: %w", step.Name, task.ID, res.Outcome, res.Err)
	}
	return res.Value, nil
}

// runSequence runs children in order, each child seeing the outputs of
// the ones before it.
func (c *Composer) runSequence(ctx context.Context, run *Run, step Step, wctx Context) (map[string]any, error) {
	local := wctx.Clone()
	out := Context{}
	for _, child := range step.Steps {
		childOut, err := c.runStep(ctx, run, child, local)
		if err != nil {
			return out, err
		}
		local.Merge(childOut)
		out.Merge(childOut)
	}
	return out, nil
}

// runParallel dispatches every child at once and awaits all of them
// before merging outputs in declaration order. When every child is a
// task step the whole group is submitted as one batch through the
// orchestrator, with dependency declarations ignored.
func (c *Composer) runParallel(ctx context.Context, run *Run, step Step, wctx Context) (map[string]any, error) {
	if tasks := taskChildren(step); tasks != nil {
		return c.runParallelBatch(ctx, run, step, tasks, wctx)
	}

	outs := make([]map[string]any, len(step.Steps))
	snapshot := wctx.Clone()

	// Plain errgroup, not WithContext: a failing child must not cancel its
	// siblings, the group is a barrier.
	var g errgroup.Group
	for i, child := range step.Steps {
		i, child := i, child
		g.Go(func() error {
			out, err := c.runStep(ctx, run, child, snapshot)
			outs[i] = out
			return err
		})
	}
	err := g.Wait()

	out := Context{}
	for _, childOut := range outs {
		out.Merge(childOut)
	}
	return out, err
}

// taskChildren returns the tasks of a parallel step whose children are
// all plain task steps, or nil otherwise.
func taskChildren(step Step) []*models.Task {
	tasks := make([]*models.Task, 0, len(step.Steps))
	for _, child := range step.Steps {
		if child.Kind != KindTask {
			return nil
		}
		tasks = append(tasks, child.Task)
	}
	return tasks
}

// runParallelBatch submits task children as one dependency-free batch.
func (c *Composer) runParallelBatch(ctx context.Context, run *Run, step Step, tasks []*models.Task, wctx Context) (map[string]any, error) {
	batch := make([]*models.Task, len(tasks))
	for i, t := range tasks {
		copied := *t
		copied.DependsOn = nil // dependency declarations are ignored in parallel mode
		batch[i] = &copied
	}

	orch := orchestrator.New(c.exec, c.policy,
		orchestrator.WithRunID(run.ID),
		orchestrator.WithLogger(c.logger),
	)
	results, err := orch.Run(ctx, batch)
	if err != nil {
		run.appendResult(StepResult{Name: step.Name, Kind: step.Kind, Status: StepFailed, Err: err})
		return nil, err
	}

	sr := StepResult{Name: step.Name, Kind: step.Kind, TaskResults: results, Status: StepSucceeded}
	out := Context{}
	var firstErr error
	// Merge in declaration order for determinism.
	for _, t := range batch {
		res := results[t.ID]
		switch res.Outcome {
		case models.OutcomeSuccess:
			out.Merge(res.Value)
		case models.OutcomeCancelled:
			sr.Status = StepCancelled
			if firstErr == nil {
				firstErr = fmt.Errorf("step %s: task %s cancelled: %w", step.Name, t.ID, res.Err)
			}
		default:
			sr.Status = StepFailed
			if firstErr == nil {
				firstErr = fmt.Errorf("step %s: task %s %s: %w", step.Name, t.ID, res.Outcome, res.Err)
			}
		}
	}
	sr.Err = firstErr
	run.appendResult(sr)
	return out, firstErr
}

// runConditional evaluates branches in order and runs at most one. An
// unmatched conditional reports skipped rather than failed unless the
// step is marked required.
func (c *Composer) runConditional(ctx context.Context, run *Run, step Step, wctx Context) (map[string]any, error) {
	for _, branch := range step.Branches {
		matched, err := branch.When.Eval(wctx)
		if err != nil {
			err = fmt.Errorf("step %s: predicate %s: %w", step.Name, branch.When, err)
			run.appendResult(StepResult{Name: step.Name, Kind: step.Kind, Status: StepFailed, Err: err})
			return nil, err
		}
		if matched {
			c.logger.Log("[workflow] run %s conditional %s matched branch %s", run.ID, step.Name, branch.When)
			return c.runStep(ctx, run, branch.Step, wctx)
		}
	}

	if step.Required {
		err := fmt.Errorf("step %s: no branch matched and step is required", step.Name)
		run.appendResult(StepResult{Name: step.Name, Kind: step.Kind, Status: StepFailed, Err: err})
		return nil, err
	}
	run.appendResult(StepResult{Name: step.Name, Kind: step.Kind, Status: StepSkipped})
	return nil, nil
}

// runLoop repeats the body until a child sets StopKey, the until
// predicate holds, or the iteration bound is reached.
func (c *Composer) runLoop(ctx context.Context, run *Run, step Step, wctx Context) (map[string]any, error) {
	local := wctx.Clone()
	out := Context{}

	for i := 0; i < step.MaxIterations; i++ {
		for _, child := range step.Steps {
			iter := child
			iter.Name = fmt.Sprintf("%s#%d", child.Name, i+1)
			childOut, err := c.runStep(ctx, run, iter, local)
			if err != nil {
				return out, err
			}
			local.Merge(childOut)
			out.Merge(childOut)
		}

		if local.GetBool(StopKey) {
			c.logger.Log("[workflow] run %s loop %s stopped by step signal after iteration %d", run.ID, step.Name, i+1)
			break
		}
		if step.Until != nil {
			stop, err := step.Until.Eval(local)
			if err != nil {
				err = fmt.Errorf("step %s: until predicate %s: %w", step.Name, step.Until, err)
				run.appendResult(StepResult{Name: step.Name, Kind: step.Kind, Status: StepFailed, Err: err})
				return out, err
			}
			if stop {
				c.logger.Log("[workflow] run %s loop %s stopped by predicate after iteration %d", run.ID, step.Name, i+1)
				break
			}
		}
	}
	return out, nil
}
