// Package runner abstracts over the external conversational coding agent.
// The Executor never knows which concrete implementation it is driving.
package runner

import "context"

// Status is the agent's reported activity state for a session.
type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

// PartKind enumerates the minimal set of message part kinds the Executor
// understands. Additional kinds returned by a Runner are ignored.
type PartKind string

const (
	PartText       PartKind = "text"
	PartReasoning  PartKind = "reasoning"
	PartToolUse    PartKind = "tool_use"
	PartToolResult PartKind = "tool_result"
)

// Part is one piece of a Message's content.
type Part struct {
	Kind PartKind

	// Text holds content for PartText and PartReasoning.
	Text string

	// ToolUse fields, set when Kind == PartToolUse.
	ToolUseID   string
	ToolName    string
	ToolTarget  string

	// ToolResult fields, set when Kind == PartToolResult.
	ToolUseRefID string
	Content      string
}

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a session's transcript.
type Message struct {
	Role  Role
	Parts []Part
}

// TodoStatus is a flat status field; any value other than Completed or
// Cancelled is considered non-terminal (pending/in-progress work remains).
type TodoStatus string

const (
	TodoPending    TodoStatus = "todo"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

// Todo is one entry of the agent's flat todo list.
type Todo struct {
	ID     string
	Title  string
	Status TodoStatus
}

// Runner is the contract the Executor drives. Two implementations exist: a
// subprocess runner that shells out to the external agent CLI, and an
// in-process fake used in tests. Neither is inspected by the Executor.
type Runner interface {
	CreateSession(ctx context.Context, workDir, title string) (sessionID string, err error)
	SendPrompt(ctx context.Context, sessionID, workDir, agent, text string) error
	GetStatus(ctx context.Context, sessionID, workDir string) (Status, error)
	GetMessages(ctx context.Context, sessionID, workDir string) ([]Message, error)
	GetTodos(ctx context.Context, sessionID string) ([]Todo, error)

	// InjectToolResults is the tool_result_missing recovery path: it asks
	// the runner to move the session past the given pending tool_use calls
	// so the agent's conversation is no longer stuck awaiting them.
	InjectToolResults(ctx context.Context, sessionID, workDir string, pendingToolIDs []string) error
}

// NonTerminal reports whether a todo still needs work.
func (t Todo) NonTerminal() bool {
	return t.Status != TodoCompleted && t.Status != TodoCancelled
}
