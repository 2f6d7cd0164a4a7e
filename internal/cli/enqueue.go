package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pablasso/taskd/internal/queue"
	"github.com/pablasso/taskd/internal/task"
)

var (
	enqueueProjectPath   string
	enqueuePriority      string
	enqueueMaxIterations int
	enqueueMaxRetries    int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <prompt>",
	Short: "Create a new task",
	Long:  "Thin wrapper over the Queue API's create operation, for local operator testing. Not a chat ingress adapter.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueProjectPath, "project-path", "", "working directory override")
	enqueueCmd.Flags().StringVar(&enqueuePriority, "priority", string(task.PriorityMedium), "urgent|high|medium|low")
	enqueueCmd.Flags().IntVar(&enqueueMaxIterations, "max-iterations", 0, "override default max iterations")
	enqueueCmd.Flags().IntVar(&enqueueMaxRetries, "max-retries", -1, "override default max retries")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	q, cfg, closeFn, err := openQueue()
	if err != nil {
		return err
	}
	defer closeFn()

	maxIterations := enqueueMaxIterations
	if !cmd.Flags().Changed("max-iterations") {
		maxIterations = cfg.MaxIterations
	}
	maxRetries := enqueueMaxRetries
	if !cmd.Flags().Changed("max-retries") {
		maxRetries = cfg.MaxRetries
	}

	prompt := strings.Join(args, " ")
	t, err := q.Create(cmd.Context(), queue.CreateParams{
		Prompt:        prompt,
		ProjectPath:   enqueueProjectPath,
		Priority:      task.Priority(enqueuePriority),
		Source:        task.SourceCLI,
		MaxIterations: maxIterations,
		MaxRetries:    maxRetries,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued task #%d (%s priority)\n", t.ID, t.Priority)
	return nil
}
