package executor

import (
	"strings"

	"github.com/pablasso/taskd/internal/runner"
)

const noOutputSentinel = "Task completed (no output captured)"

// extractOutput concatenates every assistant text part, blank-line
// separated, across messages in order.
func extractOutput(messages []runner.Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role != runner.RoleAssistant {
			continue
		}
		for _, p := range m.Parts {
			if p.Kind == runner.PartText && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
	}
	if len(parts) == 0 {
		return noOutputSentinel
	}
	return strings.Join(parts, "\n\n")
}

// hasRealOutput reports whether messages contain at least one message with
// role assistant or tool carrying a non-empty text/reasoning part, or any
// tool_use/tool_result part.
func hasRealOutput(messages []runner.Message) bool {
	for _, m := range messages {
		if m.Role != runner.RoleAssistant && m.Role != runner.RoleTool {
			continue
		}
		for _, p := range m.Parts {
			switch p.Kind {
			case runner.PartText, runner.PartReasoning:
				if p.Text != "" {
					return true
				}
			case runner.PartToolUse, runner.PartToolResult:
				return true
			}
		}
	}
	return false
}

// hasToolActivity reports whether any tool_use or tool_result part occurred
// anywhere in messages.
func hasToolActivity(messages []runner.Message) bool {
	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Kind == runner.PartToolUse || p.Kind == runner.PartToolResult {
				return true
			}
		}
	}
	return false
}

// progress is the observational snapshot recorded on every busy poll.
type progress struct {
	ToolCalls   int
	LastTool    string
	LastMessage string
}

// computeProgress counts tool_use parts across assistant messages and
// reports the most recently seen tool name and assistant text.
func computeProgress(messages []runner.Message) progress {
	var p progress
	for _, m := range messages {
		if m.Role != runner.RoleAssistant {
			continue
		}
		for _, part := range m.Parts {
			switch part.Kind {
			case runner.PartToolUse:
				p.ToolCalls++
				p.LastTool = part.ToolName
			case runner.PartText:
				if part.Text != "" {
					p.LastMessage = part.Text
				}
			}
		}
	}
	return p
}

// anyTodoIncomplete reports whether any todo is not in a terminal state.
func anyTodoIncomplete(todos []runner.Todo) bool {
	for _, t := range todos {
		if t.NonTerminal() {
			return true
		}
	}
	return false
}
