package executor

import "strings"

// strongSignals, if present anywhere in the output, deterministically mark
// a task complete regardless of what follows.
var strongSignals = []string{
	"[task_complete]",
	"todos completed:",
	"all todos completed",
}

// weakSignals only mark completion if no planning phrase appears after the
// last occurrence of "complete" in the output.
var weakSignals = []string{
	"task complete",
	"task completed",
	"successfully completed",
	"all done",
	"finished successfully",
	"completed successfully",
	"nothing left to do",
	"all steps completed",
}

// planningPhrases appearing after the last "complete" indicate the agent
// resumed work after claiming completion, overriding a weak signal.
var planningPhrases = []string{
	"i will",
	"i'll",
	"let me",
	"next i",
	"then i",
}

// stoppingPhrases mean the task is blocked on the user, not abandoned.
var stoppingPhrases = []string{
	"waiting for",
	"need more information",
	"please provide",
	"could you clarify",
	"what would you like",
	"should i proceed",
}

// planningWorkPhrases, like tool activity (either one suffices), signal more
// work is still underway and the task-level loop should continue.
var planningWorkPhrases = []string{
	"i will",
	"i'll",
	"let me",
	"first,",
	"next,",
	"then,",
	"step 1",
	"step 2",
	"here's my plan",
	"i need to",
	"working on",
	"processing",
	"executing",
	"creating",
	"todo",
	"in_progress",
	"pending",
}

// IsComplete applies the textual completion signal table to output,
// preserving the order-sensitive planning-phrase override (spec-mandated:
// a strong signal always wins; a weak signal is overridden only when a
// planning phrase appears strictly after the last "complete").
func IsComplete(output string) bool {
	lower := strings.ToLower(output)

	for _, s := range strongSignals {
		if strings.Contains(lower, s) {
			return true
		}
	}

	weakHit := false
	for _, s := range weakSignals {
		if strings.Contains(lower, s) {
			weakHit = true
			break
		}
	}
	if !weakHit {
		return false
	}

	idx := strings.LastIndex(lower, "complete")
	if idx == -1 {
		return true
	}
	after := lower[idx+len("complete"):]
	for _, p := range planningPhrases {
		if strings.Contains(after, p) {
			return false
		}
	}
	return true
}

// NeedsContinuation decides whether the task-level loop should send another
// continuation prompt. hasToolActivity reports whether any tool_use/
// tool_result part appeared in the iteration's messages.
func NeedsContinuation(output string, hasToolActivity bool, isComplete bool) bool {
	if isComplete {
		return false
	}
	lower := strings.ToLower(output)
	for _, s := range stoppingPhrases {
		if strings.Contains(lower, s) {
			return false
		}
	}
	if hasToolActivity {
		return true
	}
	for _, p := range planningWorkPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
