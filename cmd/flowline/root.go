package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowline",
	Short: "Dependency-aware task orchestration",
	Long: `Flowline runs dependency graphs of tasks with bounded concurrency.

Tasks are declared in a YAML workflow file with handlers, inputs,
priorities, dependencies, timeouts, and retry limits. Flowline levels
the graph into batches, runs each batch under a global concurrency cap,
retries failures with exponential backoff, and skips tasks whose
dependencies could not be recovered.

Run snapshots are persisted to a local SQLite database so finished runs
can be inspected later with 'flowline status'.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
