// Package queue exposes the pure operations ingress adapters and the
// Scheduler use to drive tasks through the Store: enqueue, pick-next, state
// transitions, retry scheduling, dependency resolution, and stats.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pablasso/taskd/internal/store"
	"github.com/pablasso/taskd/internal/task"
)

// Queue is the narrow API ingress adapters and the Scheduler call into.
type Queue struct {
	store *store.Store
	now   func() time.Time
}

// New wraps a Store with validation and ordering rules.
func New(s *store.Store) *Queue {
	return &Queue{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// CreateParams are the fields an ingress adapter supplies for a new task.
type CreateParams struct {
	Prompt        string
	ProjectPath   string
	Priority      task.Priority
	CreatedBy     string
	Source        task.Source
	DependsOn     *int64
	MaxIterations int
	MaxRetries    int
}

// forbiddenPathPrefixes are project_path prefixes rejected outright, except
// for the /root/projects carve-out.
var forbiddenPathPrefixes = []string{"/etc", "/var/log", "/proc", "/sys", "/root"}

const allowedRootProjectsPrefix = "/root/projects"
const maxProjectPathLen = 500

// ValidatePath guards project_path per spec: no "..", no forbidden system
// prefixes (with /root/projects allowed), and a length cap.
func ValidatePath(path string) error {
	if path == "" {
		return nil
	}
	if len(path) > maxProjectPathLen {
		return fmt.Errorf("project_path exceeds %d characters", maxProjectPathLen)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("project_path must not contain '..'")
	}
	for _, prefix := range forbiddenPathPrefixes {
		if prefix == "/root" && strings.HasPrefix(path, allowedRootProjectsPrefix) {
			continue
		}
		if strings.HasPrefix(path, prefix) {
			return fmt.Errorf("project_path must not begin with %q", prefix)
		}
	}
	return nil
}

// ValidatePrompt guards prompt length and blankness per spec.
func ValidatePrompt(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return fmt.Errorf("prompt must not be blank")
	}
	if len(prompt) > task.MaxPromptLen {
		return fmt.Errorf("prompt exceeds %d characters", task.MaxPromptLen)
	}
	return nil
}

// Create validates and inserts a new task.
func (q *Queue) Create(ctx context.Context, p CreateParams) (*task.Task, error) {
	if err := ValidatePrompt(p.Prompt); err != nil {
		return nil, err
	}
	if err := ValidatePath(p.ProjectPath); err != nil {
		return nil, err
	}
	if p.DependsOn != nil {
		parent, err := q.store.Get(ctx, *p.DependsOn)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("depends_on references a task that does not exist: %d", *p.DependsOn)
		}
	}

	priority := p.Priority
	if priority == "" {
		priority = task.PriorityMedium
	}
	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = task.DefaultMaxIters
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = task.DefaultMaxRetries
	}

	t := &task.Task{
		Prompt:        strings.TrimSpace(p.Prompt),
		ProjectPath:   p.ProjectPath,
		Priority:      priority,
		MaxIterations: maxIter,
		MaxRetries:    maxRetries,
		CreatedAt:     q.now(),
		CreatedBy:     p.CreatedBy,
		Source:        p.Source,
		DependsOn:     p.DependsOn,
	}
	return q.store.Insert(ctx, t)
}

// Get returns a task by id, or nil if absent.
func (q *Queue) Get(ctx context.Context, id int64) (*task.Task, error) {
	return q.store.Get(ctx, id)
}

// GetNextRetryable returns the best eligible pending task, or nil.
func (q *Queue) GetNextRetryable(ctx context.Context) (*task.Task, error) {
	return q.store.NextEligible(ctx, q.now())
}

// GetRunning returns the currently running task, if any. At most one task
// is ever running at a time.
func (q *Queue) GetRunning(ctx context.Context) (*task.Task, error) {
	return q.store.Running(ctx)
}

// SetRunning transitions id to running.
func (q *Queue) SetRunning(ctx context.Context, id int64, sessionID string) error {
	return q.store.SetRunning(ctx, id, sessionID, q.now())
}

// SetDone marks id done with result.
func (q *Queue) SetDone(ctx context.Context, id int64, result string) error {
	return q.store.SetDone(ctx, id, result, q.now())
}

// SetFailed marks id failed with error/error_type.
func (q *Queue) SetFailed(ctx context.Context, id int64, errMsg string, errType task.ErrorType) error {
	return q.store.SetFailed(ctx, id, errMsg, errType, q.now())
}

// Cancel cancels id iff it is pending; a no-op (false) otherwise.
func (q *Queue) Cancel(ctx context.Context, id int64) (bool, error) {
	return q.store.CancelIfPending(ctx, id)
}

// ResetToPending is the recovery operation used for orphaned running tasks.
// It clears session_id/started_at/iteration, starting the task over from
// scratch next pick.
func (q *Queue) ResetToPending(ctx context.Context, id int64) error {
	return q.store.ResetToPending(ctx, id)
}

// ResumePending returns id to pending after a successful in-place
// tool_result_missing recovery, preserving session_id and iteration so the
// next pick resumes the repaired session instead of starting a new one.
func (q *Queue) ResumePending(ctx context.Context, id int64) error {
	return q.store.ResumePending(ctx, id)
}

// ResetOrphanedRunning resets every running task to pending; call once at
// startup before the Scheduler begins polling.
func (q *Queue) ResetOrphanedRunning(ctx context.Context) (int64, error) {
	return q.store.ResetAllRunning(ctx)
}

// ScheduleRetry schedules id for retry after delay, incrementing
// retry_count, iff the retry budget is not exhausted.
func (q *Queue) ScheduleRetry(ctx context.Context, id int64, delay time.Duration) (bool, error) {
	return q.store.ScheduleRetry(ctx, id, delay, q.now())
}

// IncrementIteration bumps the iteration counter and returns the new value.
func (q *Queue) IncrementIteration(ctx context.Context, id int64) (int, error) {
	return q.store.IncrementIteration(ctx, id)
}

// UpdateSessionID persists a session id discovered mid-execution.
func (q *Queue) UpdateSessionID(ctx context.Context, id int64, sessionID string) error {
	return q.store.UpdateSessionID(ctx, id, sessionID)
}

// ProgressUpdate is the observational progress snapshot recorded on each
// busy poll.
type ProgressUpdate struct {
	ToolCalls   int
	LastTool    string
	LastMessage string
}

// UpdateProgress truncates LastMessage to task.ProgressMsgMaxLen and
// persists it alongside the other progress counters.
func (q *Queue) UpdateProgress(ctx context.Context, id int64, p ProgressUpdate) error {
	msg := p.LastMessage
	if len(msg) > task.ProgressMsgMaxLen {
		msg = msg[:task.ProgressMsgMaxLen]
	}
	return q.store.UpdateProgress(ctx, id, p.ToolCalls, p.LastTool, msg, q.now())
}

// GetDependentTasks returns the pending children of parentID.
func (q *Queue) GetDependentTasks(ctx context.Context, parentID int64) ([]*task.Task, error) {
	return q.store.DependentsOf(ctx, parentID)
}

// FailDependentTasks atomically fails every pending child of parentID.
func (q *Queue) FailDependentTasks(ctx context.Context, parentID int64, reason string) error {
	return q.store.FailDependents(ctx, parentID, reason, q.now())
}

// List returns up to limit tasks (0 = unlimited), optionally filtered by
// status, newest first.
func (q *Queue) List(ctx context.Context, status task.Status, limit int) ([]*task.Task, error) {
	return q.store.List(ctx, status, limit)
}

// Stats returns current counts by status.
func (q *Queue) Stats(ctx context.Context) (store.Stats, error) {
	return q.store.Stats(ctx)
}
