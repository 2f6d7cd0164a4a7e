package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pablasso/taskd/internal/queue"
	"github.com/pablasso/taskd/internal/store"
	"github.com/pablasso/taskd/internal/task"
)

func TestRunEnqueue_CreatesTaskWithDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("MAX_ITERATIONS", "")
	t.Setenv("MAX_RETRIES", "")

	rootCmd.SetArgs([]string{"enqueue", "fix", "the", "bug"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s, err := store.Open(filepath.Join(dataDir, "taskd.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	tasks, err := queue.New(s).List(context.Background(), task.StatusPending, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(tasks))
	}
	if tasks[0].MaxIterations != task.DefaultMaxIters || tasks[0].MaxRetries != task.DefaultMaxRetries {
		t.Errorf("expected default max iterations/retries, got %d/%d", tasks[0].MaxIterations, tasks[0].MaxRetries)
	}
}

func TestRunEnqueue_UsesMaxIterationsAndMaxRetriesFromEnv(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("MAX_ITERATIONS", "20")
	t.Setenv("MAX_RETRIES", "7")

	rootCmd.SetArgs([]string{"enqueue", "fix", "the", "other", "bug"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s, err := store.Open(filepath.Join(dataDir, "taskd.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	q := queue.New(s)

	tasks, err := q.List(context.Background(), task.StatusPending, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(tasks))
	}
	if tasks[0].MaxIterations != 20 {
		t.Errorf("expected MAX_ITERATIONS env var to set default max iterations, got %d", tasks[0].MaxIterations)
	}
	if tasks[0].MaxRetries != 7 {
		t.Errorf("expected MAX_RETRIES env var to set default max retries, got %d", tasks[0].MaxRetries)
	}
}

func TestRunEnqueue_ExplicitFlagOverridesEnvDefault(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("MAX_ITERATIONS", "20")

	rootCmd.SetArgs([]string{"enqueue", "--max-iterations", "3", "fix", "the", "bug"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s, err := store.Open(filepath.Join(dataDir, "taskd.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	q := queue.New(s)

	tasks, err := q.List(context.Background(), task.StatusPending, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(tasks))
	}
	if tasks[0].MaxIterations != 3 {
		t.Errorf("expected explicit --max-iterations flag to override env default, got %d", tasks[0].MaxIterations)
	}
}
