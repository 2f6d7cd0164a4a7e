package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pablasso/taskd/internal/config"
	"github.com/pablasso/taskd/internal/executor"
	"github.com/pablasso/taskd/internal/lifecycle"
	"github.com/pablasso/taskd/internal/logging"
	"github.com/pablasso/taskd/internal/queue"
	"github.com/pablasso/taskd/internal/runner"
	"github.com/pablasso/taskd/internal/scheduler"
	"github.com/pablasso/taskd/internal/sink"
	"github.com/pablasso/taskd/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Scheduler loop until shutdown",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.New("taskd")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lock := lifecycle.NewLock(cfg.DataDir)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	s, err := store.Open(filepath.Join(cfg.DataDir, "taskd.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	q := queue.New(s)
	r := runner.NewSubprocessRunner()

	ev := sink.New(func(err error) {
		log.Warn("observer error: %v", err)
	})
	ev.Register(func(ctx context.Context, e sink.Event) error {
		switch e.Kind {
		case sink.KindStarted:
			log.Info("task %d started", e.Task.ID)
		case sink.KindCompleted:
			log.Info("task %d completed", e.Task.ID)
		case sink.KindFailed:
			log.Warn("task %d failed: %s", e.Task.ID, e.Error)
		}
		return nil
	})

	ex := executor.New(r, q, cfg.Agent, nil).WithIterationTimeout(cfg.IterationTimeout).WithWorkspace(cfg.Workspace)
	sched := scheduler.New(q, ex, r, ev, cfg.PollInterval)

	shutdown := lifecycle.NewShutdown()
	ctx, cancel := shutdown.WithGraceful(cmd.Context(), cfg.ShutdownTimeout)
	defer cancel()

	go func() {
		<-shutdown.Graceful()
		log.Info("graceful shutdown requested, in-flight task has %s to finish", cfg.ShutdownTimeout)
	}()
	go func() {
		<-shutdown.Force()
		log.Warn("force shutdown requested, exiting immediately")
	}()

	log.Info("starting, poll interval %s, data dir %s", cfg.PollInterval, cfg.DataDir)
	return sched.Run(ctx, shutdown.Graceful())
}
