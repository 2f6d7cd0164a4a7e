package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pablasso/taskd/internal/util"
)

// CommandContext creates the exec.Cmd used to invoke the external agent.
// Replaced in tests to avoid shelling out to a real binary.
var CommandContext = exec.CommandContext

// AgentBinary is the external agent CLI invoked by SubprocessRunner.
const AgentBinary = "claude"

// SubprocessRunner drives the external agent CLI as a subprocess per
// invocation, resuming the same underlying conversation across iterations
// via the CLI's own session-resume flag.
type SubprocessRunner struct {
	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu             sync.Mutex
	workDir        string
	title          string
	realSessionID  string // the CLI's own session id, used for --resume
	status         Status
	messages       []Message
	current        *Message
	todos          []Todo
	err            error
}

// NewSubprocessRunner returns a Runner backed by the external agent CLI.
func NewSubprocessRunner() *SubprocessRunner {
	return &SubprocessRunner{sessions: map[string]*session{}}
}

func (r *SubprocessRunner) session(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// CreateSession allocates a local session handle. The external CLI itself
// only learns of a session on the first SendPrompt call (its session id is
// captured from the stream and used for --resume on later calls).
func (r *SubprocessRunner) CreateSession(ctx context.Context, workDir, title string) (string, error) {
	id, err := util.GenerateShortID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	r.mu.Lock()
	r.sessions[id] = &session{workDir: workDir, title: title, status: StatusIdle}
	r.mu.Unlock()
	return id, nil
}

// SendPrompt spawns (or resumes) the external agent and streams its
// response asynchronously; GetStatus reports busy until the process exits.
func (r *SubprocessRunner) SendPrompt(ctx context.Context, sessionID, workDir, agent, text string) error {
	s, ok := r.session(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}

	args := []string{
		"-p", text,
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--dangerously-skip-permissions",
	}
	if agent != "" {
		args = append(args, "--agent", agent)
	}

	s.mu.Lock()
	if s.realSessionID != "" {
		args = append(args, "--resume", s.realSessionID)
	}
	s.status = StatusBusy
	s.mu.Unlock()

	cmd := CommandContext(ctx, AgentBinary, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Lock()
		s.status = StatusIdle
		s.err = err
		s.mu.Unlock()
		return err
	}
	if err := cmd.Start(); err != nil {
		s.mu.Lock()
		s.status = StatusIdle
		s.err = err
		s.mu.Unlock()
		return err
	}

	go r.consume(s, cmd, stdout)
	return nil
}

func (r *SubprocessRunner) consume(s *session, cmd *exec.Cmd, stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		ev := parseAgentLine(scanner.Text())
		if ev.kind == "" {
			continue
		}
		s.mu.Lock()
		if ev.sessionID != "" {
			s.realSessionID = ev.sessionID
		}
		s.apply(ev)
		s.mu.Unlock()
	}

	waitErr := cmd.Wait()

	s.mu.Lock()
	s.flushCurrent()
	s.status = StatusIdle
	if waitErr != nil {
		s.err = waitErr
	}
	s.mu.Unlock()
}

// apply folds a parsed stream event into the session's accumulating
// transcript and todo state. Must be called with s.mu held.
func (s *session) apply(ev agentEvent) {
	switch ev.kind {
	case "text", "reasoning":
		s.ensureAssistant()
		kind := PartText
		if ev.kind == "reasoning" {
			kind = PartReasoning
		}
		s.current.Parts = append(s.current.Parts, Part{Kind: kind, Text: ev.text})
	case "tool_use":
		s.ensureAssistant()
		s.current.Parts = append(s.current.Parts, Part{
			Kind: PartToolUse, ToolUseID: ev.toolUseID, ToolName: ev.toolName, ToolTarget: ev.toolTarget,
		})
		if ev.toolName == "TodoWrite" && ev.todos != nil {
			s.todos = ev.todos
		}
	case "tool_result":
		s.flushCurrent()
		s.messages = append(s.messages, Message{
			Role:  RoleTool,
			Parts: []Part{{Kind: PartToolResult, ToolUseRefID: ev.toolUseID, Content: ev.text}},
		})
	case "result":
		if ev.isError {
			s.err = errors.New(ev.text)
		}
	}
}

func (s *session) ensureAssistant() {
	if s.current == nil {
		s.current = &Message{Role: RoleAssistant}
	}
}

func (s *session) flushCurrent() {
	if s.current != nil && len(s.current.Parts) > 0 {
		s.messages = append(s.messages, *s.current)
	}
	s.current = nil
}

func (r *SubprocessRunner) GetStatus(ctx context.Context, sessionID, workDir string) (Status, error) {
	s, ok := r.session(sessionID)
	if !ok {
		return "", fmt.Errorf("unknown session %q", sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.status, s.err
	}
	return s.status, nil
}

func (r *SubprocessRunner) GetMessages(ctx context.Context, sessionID, workDir string) ([]Message, error) {
	s, ok := r.session(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	if s.current != nil && len(s.current.Parts) > 0 {
		out = append(out, *s.current)
	}
	return out, nil
}

func (r *SubprocessRunner) GetTodos(ctx context.Context, sessionID string) ([]Todo, error) {
	s, ok := r.session(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Todo, len(s.todos))
	copy(out, s.todos)
	return out, nil
}

// InjectToolResults is the tool_result_missing recovery path. It resumes the
// underlying conversation with a short system-style nudge so the agent's
// next turn can proceed past the dangling tool_use calls. It does not look
// up pending tool calls itself: with an empty pendingToolIDs it returns nil
// without contacting the agent.
func (r *SubprocessRunner) InjectToolResults(ctx context.Context, sessionID, workDir string, pendingToolIDs []string) error {
	if len(pendingToolIDs) == 0 {
		return nil
	}
	nudge := "The results for the following tool calls were lost: " +
		strings.Join(pendingToolIDs, ", ") +
		". Please retry them and continue the task."
	return r.SendPrompt(ctx, sessionID, workDir, "", nudge)
}

// agentEvent is the normalized shape of one stream-json line.
type agentEvent struct {
	kind       string
	text       string
	toolUseID  string
	toolName   string
	toolTarget string
	sessionID  string
	todos      []Todo
	isError    bool
}

// parseAgentLine mirrors the external agent's stream-json line shapes:
// system/init carries the session id; assistant carries text deltas and
// tool_use blocks; user carries tool_result blocks; the terminal result
// envelope (mirroring the teacher's claudeResponse{Type, Result, IsError})
// carries is_error/result, the only place the CLI surfaces its own
// rate-limit/context-exceeded/agent-not-found failures.
func parseAgentLine(line string) agentEvent {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return agentEvent{}
	}
	kind, _ := raw["type"].(string)
	switch kind {
	case "system":
		if subtype, _ := raw["subtype"].(string); subtype == "init" {
			sid, _ := raw["session_id"].(string)
			return agentEvent{kind: "init", sessionID: sid}
		}
	case "stream_event":
		return parseStreamDelta(raw)
	case "assistant":
		return parseAssistant(raw)
	case "user":
		return parseUser(raw)
	case "result":
		result, _ := raw["result"].(string)
		isError, _ := raw["is_error"].(bool)
		return agentEvent{kind: "result", text: result, isError: isError}
	}
	return agentEvent{}
}

func parseStreamDelta(raw map[string]any) agentEvent {
	event, ok := raw["event"].(map[string]any)
	if !ok {
		return agentEvent{}
	}
	if t, _ := event["type"].(string); t == "content_block_delta" {
		delta, _ := event["delta"].(map[string]any)
		switch delta["type"] {
		case "text_delta":
			text, _ := delta["text"].(string)
			return agentEvent{kind: "text", text: text}
		case "thinking_delta":
			text, _ := delta["thinking"].(string)
			return agentEvent{kind: "reasoning", text: text}
		}
	}
	return agentEvent{}
}

func parseAssistant(raw map[string]any) agentEvent {
	sessionID, _ := raw["session_id"].(string)
	message, ok := raw["message"].(map[string]any)
	if !ok {
		return agentEvent{sessionID: sessionID}
	}
	content, ok := message["content"].([]any)
	if !ok {
		return agentEvent{sessionID: sessionID}
	}
	for _, c := range content {
		block, _ := c.(map[string]any)
		blockType, _ := block["type"].(string)
		switch blockType {
		case "text":
			text, _ := block["text"].(string)
			if text != "" {
				return agentEvent{kind: "text", text: text, sessionID: sessionID}
			}
		case "tool_use":
			name, _ := block["name"].(string)
			id, _ := block["id"].(string)
			input, _ := block["input"].(map[string]any)
			ev := agentEvent{kind: "tool_use", toolName: name, toolUseID: id, sessionID: sessionID}
			ev.toolTarget = extractToolTarget(name, input)
			if name == "TodoWrite" {
				ev.todos = extractTodos(input)
			}
			return ev
		}
	}
	return agentEvent{sessionID: sessionID}
}

func parseUser(raw map[string]any) agentEvent {
	message, ok := raw["message"].(map[string]any)
	if !ok {
		return agentEvent{}
	}
	content, ok := message["content"].([]any)
	if !ok {
		return agentEvent{}
	}
	for _, c := range content {
		block, _ := c.(map[string]any)
		if blockType, _ := block["type"].(string); blockType == "tool_result" {
			id, _ := block["tool_use_id"].(string)
			text, _ := block["content"].(string)
			return agentEvent{kind: "tool_result", toolUseID: id, text: text}
		}
	}
	return agentEvent{}
}

func extractToolTarget(toolName string, input map[string]any) string {
	switch toolName {
	case "Read", "Write", "Edit":
		if path, ok := input["file_path"].(string); ok {
			return path
		}
	case "Glob", "Grep":
		if pattern, ok := input["pattern"].(string); ok {
			return pattern
		}
	case "Bash":
		if command, ok := input["command"].(string); ok {
			return command
		}
	case "WebFetch":
		if url, ok := input["url"].(string); ok {
			return url
		}
	}
	return ""
}

func extractTodos(input map[string]any) []Todo {
	raw, ok := input["todos"].([]any)
	if !ok {
		return nil
	}
	out := make([]Todo, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		title, _ := m["content"].(string)
		status, _ := m["status"].(string)
		out = append(out, Todo{ID: id, Title: title, Status: TodoStatus(status)})
	}
	return out
}
