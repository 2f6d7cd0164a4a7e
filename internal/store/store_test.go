package store

import (
	"context"
	"testing"
	"time"

	"github.com/pablasso/taskd/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTask(t *testing.T, s *Store, prompt string, priority task.Priority) *task.Task {
	t.Helper()
	tk, err := s.Insert(context.Background(), &task.Task{
		Prompt:        prompt,
		Priority:      priority,
		MaxIterations: task.DefaultMaxIters,
		MaxRetries:    task.DefaultMaxRetries,
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     "tester",
		Source:        task.SourceCLI,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return tk
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	tk := insertTask(t, s, "do the thing", task.PriorityMedium)

	got, err := s.Get(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Prompt != "do the thing" {
		t.Fatalf("prompt = %q, want %q", got.Prompt, "do the thing")
	}
	if got.Status != task.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
}

func TestNextEligiblePriorityOrdering(t *testing.T) {
	s := newTestStore(t)
	insertTask(t, s, "Low", task.PriorityLow)
	insertTask(t, s, "Urgent", task.PriorityUrgent)
	insertTask(t, s, "High", task.PriorityHigh)

	got, err := s.NextEligible(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("NextEligible: %v", err)
	}
	if got == nil || got.Prompt != "Urgent" {
		t.Fatalf("NextEligible = %+v, want Urgent", got)
	}
}

func TestNextEligibleRespectsRetryAfter(t *testing.T) {
	s := newTestStore(t)
	tk := insertTask(t, s, "later", task.PriorityUrgent)
	future := time.Now().Add(time.Hour)
	if _, err := s.ScheduleRetry(context.Background(), tk.ID, time.Hour, time.Now().UTC()); err != nil {
		t.Fatalf("ScheduleRetry: %v", err)
	}
	_ = future

	got, err := s.NextEligible(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("NextEligible: %v", err)
	}
	if got != nil {
		t.Fatalf("NextEligible = %+v, want nil (task not yet eligible)", got)
	}
}

func TestDependencyGating(t *testing.T) {
	s := newTestStore(t)
	parent := insertTask(t, s, "parent", task.PriorityMedium)
	child, err := s.Insert(context.Background(), &task.Task{
		Prompt:        "child",
		Priority:      task.PriorityMedium,
		MaxIterations: task.DefaultMaxIters,
		MaxRetries:    task.DefaultMaxRetries,
		CreatedAt:     time.Now().UTC(),
		DependsOn:     &parent.ID,
	})
	if err != nil {
		t.Fatalf("Insert child: %v", err)
	}

	got, err := s.NextEligible(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("NextEligible: %v", err)
	}
	if got == nil || got.ID != parent.ID {
		t.Fatalf("NextEligible = %+v, want parent", got)
	}

	if err := s.SetDone(context.Background(), parent.ID, "ok", time.Now().UTC()); err != nil {
		t.Fatalf("SetDone: %v", err)
	}

	got, err = s.NextEligible(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("NextEligible: %v", err)
	}
	if got == nil || got.ID != child.ID {
		t.Fatalf("NextEligible = %+v, want child", got)
	}
}

func TestFailDependentsCascades(t *testing.T) {
	s := newTestStore(t)
	parent := insertTask(t, s, "parent", task.PriorityMedium)
	child, err := s.Insert(context.Background(), &task.Task{
		Prompt:        "child",
		Priority:      task.PriorityMedium,
		MaxIterations: task.DefaultMaxIters,
		MaxRetries:    task.DefaultMaxRetries,
		CreatedAt:     time.Now().UTC(),
		DependsOn:     &parent.ID,
	})
	if err != nil {
		t.Fatalf("Insert child: %v", err)
	}

	now := time.Now().UTC()
	if err := s.SetFailed(context.Background(), parent.ID, "boom", task.ErrorUnknown, now); err != nil {
		t.Fatalf("SetFailed: %v", err)
	}
	if err := s.FailDependents(context.Background(), parent.ID, "parent failed", now); err != nil {
		t.Fatalf("FailDependents: %v", err)
	}

	got, err := s.Get(context.Background(), child.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusFailed || got.ErrorType != task.ErrorDependencyFailed {
		t.Fatalf("child = %+v, want failed/dependency_failed", got)
	}
}

func TestScheduleRetryBackoffExhaustion(t *testing.T) {
	s := newTestStore(t)
	tk, err := s.Insert(context.Background(), &task.Task{
		Prompt:        "retry me",
		Priority:      task.PriorityMedium,
		MaxIterations: task.DefaultMaxIters,
		MaxRetries:    3,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		ok, err := s.ScheduleRetry(context.Background(), tk.ID, 30*time.Second, now)
		if err != nil {
			t.Fatalf("ScheduleRetry #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("ScheduleRetry #%d returned false, want true", i)
		}
	}

	ok, err := s.ScheduleRetry(context.Background(), tk.ID, 30*time.Second, now)
	if err != nil {
		t.Fatalf("ScheduleRetry #4: %v", err)
	}
	if ok {
		t.Fatalf("ScheduleRetry #4 returned true, want false (retry budget exhausted)")
	}
}

func TestCancelIdempotence(t *testing.T) {
	s := newTestStore(t)
	tk := insertTask(t, s, "cancel me", task.PriorityMedium)

	ok, err := s.CancelIfPending(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("CancelIfPending: %v", err)
	}
	if !ok {
		t.Fatalf("CancelIfPending = false, want true")
	}

	ok, err = s.CancelIfPending(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("CancelIfPending (second): %v", err)
	}
	if ok {
		t.Fatalf("CancelIfPending (second) = true, want false (already cancelled)")
	}
}

func TestResetAllRunningOrphanRecovery(t *testing.T) {
	s := newTestStore(t)
	tk := insertTask(t, s, "orphan", task.PriorityMedium)
	if err := s.SetRunning(context.Background(), tk.ID, "sess-1", time.Now().UTC()); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}

	n, err := s.ResetAllRunning(context.Background())
	if err != nil {
		t.Fatalf("ResetAllRunning: %v", err)
	}
	if n != 1 {
		t.Fatalf("ResetAllRunning reset %d rows, want 1", n)
	}

	got, err := s.Get(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusPending || got.SessionID != "" {
		t.Fatalf("got = %+v, want pending with cleared session", got)
	}

	running, err := s.Running(context.Background())
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if running != nil {
		t.Fatalf("Running = %+v, want nil", running)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := t.TempDir() + "/idempotent.db"
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open #1: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Open #2 (re-migrate existing db): %v", err)
	}
	s2.Close()
}
