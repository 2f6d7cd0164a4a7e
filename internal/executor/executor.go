// Package executor drives one task through potentially multiple
// continuation iterations sharing a single external-agent session, until
// genuine completion, a blocking question, or an error.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pablasso/taskd/internal/queue"
	"github.com/pablasso/taskd/internal/runner"
	"github.com/pablasso/taskd/internal/task"
)

const (
	pollInterval           = 2 * time.Second
	prematureIdleGuard     = 5 * time.Second
	stabilityElapsedFloor  = 10 * time.Second
	stabilityPollThreshold = 3
	defaultIterationTimeout = 600 * time.Second
)

// Executor is the iterative per-task loop: it sends prompts, polls the
// Runner for status, and decides completion/continuation from the agent's
// output and todo list.
type Executor struct {
	runner           runner.Runner
	queue            *queue.Queue
	agent            string
	availableAgents  []string
	iterationTimeout time.Duration
	clock            Clock
	workspace        string
}

// New builds an Executor bound to r and q. agent is the logical agent name
// passed to every SendPrompt call; availableAgents, if non-empty, is
// advertised to the agent in the initial prompt as callable specialists.
func New(r runner.Runner, q *queue.Queue, agent string, availableAgents []string) *Executor {
	return &Executor{
		runner:           r,
		queue:            q,
		agent:            agent,
		availableAgents:  availableAgents,
		iterationTimeout: defaultIterationTimeout,
		clock:            realClock{},
	}
}

// WithIterationTimeout overrides the per-iteration stability-poll deadline.
func (e *Executor) WithIterationTimeout(d time.Duration) *Executor {
	e.iterationTimeout = d
	return e
}

// WithClock overrides the clock used for sleeps and elapsed-time checks.
// Used by tests to drive the premature-idle guard and stability heuristic
// without waiting in real time.
func (e *Executor) WithClock(c Clock) *Executor {
	e.clock = c
	return e
}

// WithWorkspace sets the default working directory used for tasks created
// without an explicit project path.
func (e *Executor) WithWorkspace(dir string) *Executor {
	e.workspace = dir
	return e
}

// iterResult is the outcome of one runIteration call.
type iterResult struct {
	Output            string
	SessionID         string
	IsComplete        bool
	NeedsContinuation bool
}

// RunTask drives t to completion: a sequence of prompt/poll iterations
// sharing one session, bounded by t.MaxIterations. Returns the final
// output text. The caller (Scheduler) is responsible for classifying any
// returned error and deciding retry vs. permanent failure.
func (e *Executor) RunTask(ctx context.Context, t *task.Task) (string, error) {
	if err := e.queue.SetRunning(ctx, t.ID, t.SessionID); err != nil {
		return "", fmt.Errorf("set running: %w", err)
	}

	workDir := t.ProjectPath
	if workDir == "" {
		workDir = e.workspace
	}

	sessionID := t.SessionID
	var lastOutput string

	for {
		n, err := e.queue.IncrementIteration(ctx, t.ID)
		if err != nil {
			return "", fmt.Errorf("increment iteration: %w", err)
		}
		if n > t.MaxIterations {
			return fmt.Sprintf("Max iterations reached. Last output:\n%s", lastOutput), nil
		}

		var prompt string
		if sessionID == "" {
			sessionID, err = e.runner.CreateSession(ctx, workDir, fmt.Sprintf("Task #%d", t.ID))
			if err != nil {
				return "", fmt.Errorf("create session: %w", err)
			}
			// Persist immediately: if a later step this iteration fails, the
			// Scheduler's recovery path needs the real session id the agent
			// is stuck on, not the empty one t was fetched with.
			if err := e.queue.UpdateSessionID(ctx, t.ID, sessionID); err != nil {
				return "", fmt.Errorf("persist session id: %w", err)
			}
			prompt = e.initialPrompt(t.Prompt)
		} else {
			prompt = e.continuationPrompt()
		}

		iterStart := e.clock.Now()
		if err := e.runner.SendPrompt(ctx, sessionID, workDir, e.agent, prompt); err != nil {
			return "", fmt.Errorf("send prompt: %w", err)
		}

		result, err := e.runIteration(ctx, sessionID, workDir, t.ID, iterStart)
		if err != nil {
			return "", err
		}

		lastOutput = result.Output
		if result.SessionID != "" {
			sessionID = result.SessionID
		}
		if err := e.queue.UpdateSessionID(ctx, t.ID, sessionID); err != nil {
			return "", fmt.Errorf("persist session id: %w", err)
		}

		if result.IsComplete || !result.NeedsContinuation {
			return result.Output, nil
		}
		e.clock.Sleep(pollInterval)
	}
}

// runIteration is the stability poll loop for a single prompt/response
// round: sleep, poll status, branch on idle vs. busy, and corroborate
// completion via output validation and the todo list before returning.
func (e *Executor) runIteration(ctx context.Context, sessionID, workDir string, taskID int64, iterStart time.Time) (iterResult, error) {
	deadline := iterStart.Add(e.iterationTimeout)
	prevMessageCount := -1
	stablePolls := 0

	for {
		if e.clock.Now().After(deadline) {
			return iterResult{}, fmt.Errorf("iteration timed out after %s", e.iterationTimeout)
		}
		e.clock.Sleep(pollInterval)

		status, err := e.runner.GetStatus(ctx, sessionID, workDir)
		if err != nil {
			return iterResult{}, fmt.Errorf("get status: %w", err)
		}

		if status == runner.StatusIdle {
			if e.clock.Now().Sub(iterStart) < prematureIdleGuard {
				continue
			}
			result, settled, err := e.tryFinalize(ctx, sessionID, workDir)
			if err != nil {
				return iterResult{}, err
			}
			if !settled {
				continue
			}
			return result, nil
		}

		messages, err := e.runner.GetMessages(ctx, sessionID, workDir)
		if err != nil {
			return iterResult{}, fmt.Errorf("get messages: %w", err)
		}
		p := computeProgress(messages)
		if err := e.queue.UpdateProgress(ctx, taskID, queue.ProgressUpdate{
			ToolCalls:   p.ToolCalls,
			LastTool:    p.LastTool,
			LastMessage: p.LastMessage,
		}); err != nil {
			return iterResult{}, fmt.Errorf("update progress: %w", err)
		}

		messageCount := len(messages)
		if e.clock.Now().Sub(iterStart) >= stabilityElapsedFloor && messageCount == prevMessageCount {
			stablePolls++
		} else {
			stablePolls = 0
		}
		prevMessageCount = messageCount

		if stablePolls >= stabilityPollThreshold {
			result, settled, err := e.tryFinalize(ctx, sessionID, workDir)
			if err != nil {
				return iterResult{}, err
			}
			if !settled {
				continue
			}
			return result, nil
		}
	}
}

// tryFinalize applies the corroborating output-validation and todo checks
// shared by the idle branch and the stability-heuristic's implicit-idle
// branch. settled is false when polling should continue.
func (e *Executor) tryFinalize(ctx context.Context, sessionID, workDir string) (iterResult, bool, error) {
	messages, err := e.runner.GetMessages(ctx, sessionID, workDir)
	if err != nil {
		return iterResult{}, false, fmt.Errorf("get messages: %w", err)
	}
	if !hasRealOutput(messages) {
		return iterResult{}, false, nil
	}

	todos, err := e.runner.GetTodos(ctx, sessionID)
	if err != nil {
		return iterResult{}, false, fmt.Errorf("get todos: %w", err)
	}
	output := extractOutput(messages)
	if anyTodoIncomplete(todos) {
		return iterResult{Output: output, SessionID: sessionID, IsComplete: false, NeedsContinuation: true}, true, nil
	}

	isComplete := IsComplete(output)
	needsContinuation := NeedsContinuation(output, hasToolActivity(messages), isComplete)
	return iterResult{
		Output:            output,
		SessionID:         sessionID,
		IsComplete:        isComplete,
		NeedsContinuation: needsContinuation,
	}, true, nil
}

// initialPrompt wraps the user's request with instructions to track work
// via a todo list, proceed without asking permission, and emit the
// completion marker when every objective is met.
func (e *Executor) initialPrompt(userPrompt string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(userPrompt))
	sb.WriteString("\n\n---\n")
	sb.WriteString("Use a todo list to track your progress on this task. ")
	sb.WriteString("Do not stop to ask for permission before taking action; proceed autonomously. ")
	sb.WriteString("When every objective is met, emit the literal marker [TASK_COMPLETE] followed by a brief summary of what you did.\n")
	if len(e.availableAgents) > 0 {
		sb.WriteString("Specialist agents available to delegate to: ")
		sb.WriteString(strings.Join(e.availableAgents, ", "))
		sb.WriteString(".\n")
	}
	return sb.String()
}

// continuationPrompt is sent on iterations after the first, reminding the
// agent to resume its own pending todos.
func (e *Executor) continuationPrompt() string {
	return "Continue working through your pending todos without asking for permission. " +
		"When every objective is met, emit the literal marker [TASK_COMPLETE] followed by a brief summary."
}
