// Package scheduler drives the single worker loop: orphan recovery, then
// repeatedly pick the next eligible task and hand it to the Executor,
// generalized from the teacher's Executor.Run sequential-task loop
// (lock acquisition, first-pending-task scan, resume-on-restart) from a
// single in-process plan to the durable cross-process queue.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pablasso/taskd/internal/classify"
	"github.com/pablasso/taskd/internal/logging"
	"github.com/pablasso/taskd/internal/queue"
	"github.com/pablasso/taskd/internal/runner"
	"github.com/pablasso/taskd/internal/sink"
	"github.com/pablasso/taskd/internal/task"
)

// Executor is the contract the Scheduler drives; satisfied by
// *executor.Executor.
type Executor interface {
	RunTask(ctx context.Context, t *task.Task) (string, error)
}

// Scheduler is the single polling loop that feeds the Executor from the
// durable Queue, classifying failures and emitting lifecycle events.
type Scheduler struct {
	queue        *queue.Queue
	executor     Executor
	runner       runner.Runner
	sink         *sink.Sink
	pollInterval time.Duration
	log          *logging.Logger
}

// New builds a Scheduler. r is used for the tool_result_missing one-shot
// recovery path; s may be nil (observers become a no-op then).
func New(q *queue.Queue, ex Executor, r runner.Runner, s *sink.Sink, pollInterval time.Duration) *Scheduler {
	if s == nil {
		s = sink.New(nil)
	}
	return &Scheduler{
		queue:        q,
		executor:     ex,
		runner:       r,
		sink:         s,
		pollInterval: pollInterval,
		log:          logging.New("scheduler"),
	}
}

// Run recovers orphaned tasks, then loops picking and executing tasks until
// graceful is closed. On graceful shutdown, it finishes any in-flight task
// (by simply not starting a new one on the next iteration) and returns.
func (s *Scheduler) Run(ctx context.Context, graceful <-chan struct{}) error {
	n, err := s.queue.ResetOrphanedRunning(ctx)
	if err != nil {
		return fmt.Errorf("reset orphaned running tasks: %w", err)
	}
	if n > 0 {
		s.log.Warn("reset %d orphaned running task(s) to pending", n)
	}

	for {
		select {
		case <-graceful:
			s.log.Info("graceful shutdown: no new tasks will be picked")
			return nil
		default:
		}

		running, err := s.queue.GetRunning(ctx)
		if err != nil {
			return fmt.Errorf("check running task: %w", err)
		}
		if running != nil {
			s.log.Warn("found task %d already running; this should not happen outside a crash window", running.ID)
			s.sleep(ctx, graceful)
			continue
		}

		next, err := s.queue.GetNextRetryable(ctx)
		if err != nil {
			return fmt.Errorf("get next retryable task: %w", err)
		}
		if next == nil {
			s.sleep(ctx, graceful)
			continue
		}

		s.processOne(ctx, next)
	}
}

func (s *Scheduler) sleep(ctx context.Context, graceful <-chan struct{}) {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-graceful:
	case <-ctx.Done():
	}
}

// processOne runs one task to completion or failure and persists the
// outcome, per spec.md §4.5/§7: classify, attempt one tool_result_missing
// recovery, otherwise scheduleRetry or setFailed, always emitting started
// then completed/failed.
func (s *Scheduler) processOne(ctx context.Context, t *task.Task) {
	s.sink.Emit(ctx, sink.Event{Kind: sink.KindStarted, Task: *t})

	output, err := s.executor.RunTask(ctx, t)
	if err == nil {
		if setErr := s.queue.SetDone(ctx, t.ID, output); setErr != nil {
			s.log.Error("task %d: failed to persist done state: %v", t.ID, setErr)
			return
		}
		s.sink.Emit(ctx, sink.Event{Kind: sink.KindCompleted, Task: *t, Result: output})
		return
	}

	errType := classify.Classify(err)

	if classify.NeedsToolResultRecovery(errType) && s.runner != nil {
		// t was fetched by GetNextRetryable before RunTask ran, so
		// t.SessionID is stale (empty, for any freshly-picked task) as soon
		// as RunTask creates a session. Re-fetch the persisted row to get
		// the session id the agent is actually stuck on.
		current, getErr := s.queue.Get(ctx, t.ID)
		if getErr != nil {
			s.log.Error("task %d: failed to refetch session id for recovery: %v", t.ID, getErr)
		} else if recErr := s.runner.InjectToolResults(ctx, current.SessionID, current.ProjectPath, nil); recErr == nil {
			s.log.Warn("task %d: recovered from tool_result_missing, will resume session without counting against retry budget", t.ID)
			if resumeErr := s.queue.ResumePending(ctx, t.ID); resumeErr != nil {
				s.log.Error("task %d: failed to resume after recovery: %v", t.ID, resumeErr)
			}
			return
		}
	}

	s.fail(ctx, t, err, errType)
}

func (s *Scheduler) fail(ctx context.Context, t *task.Task, err error, errType task.ErrorType) {
	if !classify.IsPermanent(errType) {
		delay := classify.Backoff(t.RetryCount)
		scheduled, retryErr := s.queue.ScheduleRetry(ctx, t.ID, delay)
		if retryErr != nil {
			s.log.Error("task %d: failed to schedule retry: %v", t.ID, retryErr)
			return
		}
		if scheduled {
			s.log.Warn("task %d: scheduled retry in %s after %s: %v", t.ID, delay, errType, err)
			s.sink.Emit(ctx, sink.Event{Kind: sink.KindFailed, Task: *t, Error: err.Error()})
			return
		}
	}

	if setErr := s.queue.SetFailed(ctx, t.ID, err.Error(), errType); setErr != nil {
		s.log.Error("task %d: failed to persist failed state: %v", t.ID, setErr)
		return
	}
	if depErr := s.queue.FailDependentTasks(ctx, t.ID, "dependency_failed"); depErr != nil {
		s.log.Error("task %d: failed to cascade-fail dependents: %v", t.ID, depErr)
	}
	s.sink.Emit(ctx, sink.Event{Kind: sink.KindFailed, Task: *t, Error: err.Error()})
}
