// Package cli wires the operator-facing cobra commands: serve (run the
// Scheduler until shutdown), enqueue (create a task), status (live queue
// dashboard), and lock-status. This is not an ingress adapter — ingress
// adapters talk to the Queue API directly, not through this CLI.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/pablasso/taskd/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "taskd",
	Short:   "Durable task-queue daemon for an external coding agent",
	Long:    "taskd accepts natural-language tasks, persists them across restarts, and executes them one at a time by iteratively driving an external coding agent to completion.",
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(lockStatusCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
