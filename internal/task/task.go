// Package task defines the durable Task entity shared by the store, queue,
// executor, and scheduler.
package task

import "time"

// Status is the task's position in its state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Priority is the ordering key used by Queue.GetNextRetryable.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort key for a priority; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// ErrorType is the closed classification taxonomy from the error classifier.
type ErrorType string

const (
	ErrorRateLimit        ErrorType = "rate_limit"
	ErrorContextExceeded  ErrorType = "context_exceeded"
	ErrorAgentNotFound    ErrorType = "agent_not_found"
	ErrorToolResultMissing ErrorType = "tool_result_missing"
	ErrorThinkingBlock    ErrorType = "thinking_block_error"
	ErrorTimeout          ErrorType = "timeout"
	ErrorDependencyFailed ErrorType = "dependency_failed"
	ErrorUnknown          ErrorType = "unknown"
)

// Source identifies the ingress adapter that created a task.
type Source string

const (
	SourceDiscord Source = "discord"
	SourceSlack   Source = "slack"
	SourceCLI     Source = "cli"
)

const (
	MaxPromptLen      = 10000
	DefaultMaxIters   = 10
	DefaultMaxRetries = 3
	ProgressMsgMaxLen = 1000
)

// Task is the single durable entity tracked end-to-end by the daemon.
type Task struct {
	ID          int64
	Prompt      string
	ProjectPath string
	Status      Status
	Priority    Priority
	Result      string
	Error       string
	ErrorType   ErrorType
	SessionID   string

	Iteration    int
	MaxIterations int
	RetryCount   int
	MaxRetries   int
	RetryAfter   *time.Time

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	CreatedBy string
	Source    Source

	DependsOn *int64

	ProgressToolCalls    int
	ProgressLastTool     string
	ProgressLastMessage  string
	ProgressUpdatedAt    *time.Time
}

// IsTerminal reports whether status cannot transition further without an
// explicit recovery operation (resetToPending, scheduleRetry).
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
