package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/flowline/internal/config"
	"github.com/ShayCichocki/flowline/internal/state"
	"github.com/ShayCichocki/flowline/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show persisted run snapshots",
	Long: `Display persisted run snapshots from the state database.

With no arguments, lists recent runs newest first. With a run ID,
shows the per-task records of that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Maximum number of runs to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.State.Path
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No runs recorded. Run 'flowline run <workflow.yaml>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	if len(args) == 1 {
		return displayRun(db, args[0])
	}
	return displayRecentRuns(db)
}

func displayRun(db *state.DB, runID string) error {
	snap, err := db.LoadRun(runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %s\n", snap.RunID, colorState(snap.State))
	fmt.Printf("  Started: %s\n", snap.StartedAt.Local().Format(time.RFC1123))
	if snap.FinishedAt != nil {
		fmt.Printf("  Duration: %s\n", snap.FinishedAt.Sub(snap.StartedAt).Round(time.Millisecond))
	}
	fmt.Printf("  Tasks: %d\n\n", len(snap.Tasks))

	for _, rec := range snap.Tasks {
		line := fmt.Sprintf("%s (%d attempt(s), %s)", rec.TaskID, rec.Attempts, rec.Duration.Round(time.Millisecond))
		switch rec.Outcome {
		case "success":
			printStatus("✓", line, color.FgGreen)
		case "skipped":
			printStatus("−", line, color.FgYellow)
		case "cancelled":
			printStatus("⊘", line, color.FgYellow)
		default:
			if rec.Error != "" {
				line = fmt.Sprintf("%s: %s", line, rec.Error)
			}
			printStatus("✗", line, color.FgRed)
		}
	}
	return nil
}

func displayRecentRuns(db *state.DB) error {
	snaps, err := db.ListRuns(statusLimit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("No runs recorded. Run 'flowline run <workflow.yaml>' to start.")
		return nil
	}

	fmt.Println("Recent Runs:")
	for _, snap := range snaps {
		succeeded := 0
		for _, rec := range snap.Tasks {
			if rec.Outcome == models.OutcomeSuccess.String() {
				succeeded++
			}
		}
		elapsed := formatAge(time.Since(snap.StartedAt))
		fmt.Printf("  %s: %s, %d/%d tasks succeeded (%s ago)\n",
			snap.RunID, colorState(snap.State), succeeded, len(snap.Tasks), elapsed)
	}
	return nil
}

// formatAge formats a duration in a human-readable way.
func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
