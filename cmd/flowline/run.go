package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/flowline/internal/config"
	"github.com/ShayCichocki/flowline/internal/handlers"
	"github.com/ShayCichocki/flowline/internal/orchestrator"
	"github.com/ShayCichocki/flowline/internal/registry"
	"github.com/ShayCichocki/flowline/internal/retry"
	"github.com/ShayCichocki/flowline/internal/state"
	"github.com/ShayCichocki/flowline/internal/workflow"
	"github.com/ShayCichocki/flowline/pkg/models"
)

var (
	runMaxConcurrency int
	runNoPersist      bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Run a workflow file",
	Long: `Run the tasks declared in a YAML workflow file.

Tasks execute in dependency order with bounded concurrency. Within a
batch, higher-priority tasks are dispatched first. Failed tasks retry
with exponential backoff up to their max_retries; tasks whose
dependencies stay failed are skipped.

Press Ctrl-C to cancel the run. In-flight tasks are interrupted;
completed tasks are never rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().IntVarP(&runMaxConcurrency, "max-concurrency", "c", 0, "Override the configured concurrency cap")
	runCmd.Flags().BoolVar(&runNoPersist, "no-persist", false, "Skip writing the run snapshot to the state database")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runMaxConcurrency > 0 {
		cfg.Engine.MaxConcurrency = runMaxConcurrency
	}

	wf, err := workflow.LoadFile(args[0])
	if err != nil {
		return err
	}

	logger := orchestrator.NopLogger()
	if cfg.Debug.LogFile != "" {
		logger, err = orchestrator.NewDebugLogger(cfg.Debug.LogFile)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer logger.Close()
	}

	reg := registry.New()
	handlers.RegisterBuiltins(reg, nil)

	engineCfg := orchestrator.EngineConfig{
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		DefaultTimeout: cfg.Engine.DefaultTimeout,
		RetryPolicy: retry.Policy{
			BaseDelay: cfg.Retry.BaseDelay,
			MaxDelay:  cfg.Retry.MaxDelay,
		},
		Registry:    reg,
		Logger:      logger,
		EventBuffer: cfg.Engine.EventBuffer,
	}

	if cfg.State.Enabled && !runNoPersist {
		dbPath := cfg.State.Path
		if dbPath == "" {
			dbPath = state.DefaultDBPath()
		}
		db, err := state.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate state database: %w", err)
		}
		engineCfg.Store = db
	}

	engine, err := orchestrator.NewEngine(engineCfg)
	if err != nil {
		return err
	}
	defer engine.Stop()

	tasks := wf.BuildTasks(cfg.Retry.MaxRetries)
	runID, err := engine.Submit(tasks)
	if err != nil {
		return err
	}

	name := wf.Name
	if name == "" {
		name = args[0]
	}
	fmt.Printf("Run %s: %s (%d tasks, max concurrency %d)\n",
		runID, name, len(tasks), cfg.Engine.MaxConcurrency)

	// Drain events for progress output while the run executes.
	go printEvents(engine.Events())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, runErr := engine.Wait(ctx, runID)
	if ctx.Err() != nil {
		fmt.Println("\nInterrupted, cancelling run...")
		engine.Cancel(runID)
		results, runErr = engine.Wait(context.Background(), runID)
	}

	printResults(results)

	status, err := engine.Status(runID)
	if err == nil {
		fmt.Printf("\nRun %s: %s\n", runID, colorState(status.State))
	}
	return runErr
}

// printEvents streams per-task progress lines until the channel closes.
func printEvents(events <-chan orchestrator.Event) {
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventTaskStarted:
			fmt.Printf("  → %s\n", ev.TaskID)
		case orchestrator.EventTaskRetrying:
			fmt.Printf("  ↻ %s (%s)\n", ev.TaskID, ev.Message)
		}
	}
}

func printResults(results map[string]models.TaskResult) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		res := results[id]
		line := fmt.Sprintf("%s (%d attempt(s), %s)", id, res.Attempts, res.Duration.Round(time.Millisecond))
		switch res.Outcome {
		case models.OutcomeSuccess:
			printStatus("✓", line, color.FgGreen)
		case models.OutcomeSkipped:
			printStatus("−", line, color.FgYellow)
		case models.OutcomeCancelled:
			printStatus("⊘", line, color.FgYellow)
		default:
			printStatus("✗", fmt.Sprintf("%s: %v", line, res.Err), color.FgRed)
		}
	}
}

func colorState(s models.RunState) string {
	switch s {
	case models.RunStateCompleted:
		return color.GreenString(string(s))
	case models.RunStateFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
