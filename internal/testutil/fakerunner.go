// Package testutil provides in-process fakes used by executor and scheduler
// tests, mirroring the teacher's WithRunner/test-double style.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/pablasso/taskd/internal/runner"
)

// FakeRunner is the in-process Runner implementation: a deterministic
// stand-in for the external agent, driven entirely by scripted responses.
type FakeRunner struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	nextID   int

	// SendPromptErr, if set, is returned by every SendPrompt call.
	SendPromptErr error
}

type fakeSession struct {
	workDir string
	title   string

	// script is consumed one entry per GetStatus call; the final entry
	// repeats once exhausted.
	script  []FakeStep
	cursor  int
	lastIdx int

	injectedResults []string
}

// FakeStep describes one poll's worth of scripted Runner behavior.
type FakeStep struct {
	Status   runner.Status
	Messages []runner.Message
	Todos    []runner.Todo
}

// NewFakeRunner returns an empty FakeRunner; configure sessions via Script.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{sessions: map[string]*fakeSession{}}
}

func (f *FakeRunner) CreateSession(ctx context.Context, workDir, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake-session-%d", f.nextID)
	if s, ok := f.sessions[id]; ok {
		// Keep a script installed before the session was created.
		s.workDir = workDir
		s.title = title
		return id, nil
	}
	f.sessions[id] = &fakeSession{workDir: workDir, title: title}
	return id, nil
}

// Script installs the sequence of poll responses for sessionID. It may be
// called after CreateSession, or before it for an id CreateSession will
// return next (fake-session-1, fake-session-2, ...).
func (f *FakeRunner) Script(sessionID string, steps ...FakeStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		s = &fakeSession{}
		f.sessions[sessionID] = s
	}
	s.script = steps
	s.cursor = 0
}

func (f *FakeRunner) SendPrompt(ctx context.Context, sessionID, workDir, agent, text string) error {
	if f.SendPromptErr != nil {
		return f.SendPromptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	return nil
}

func (f *FakeRunner) GetStatus(ctx context.Context, sessionID, workDir string) (runner.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("unknown session %q", sessionID)
	}
	if len(s.script) == 0 {
		return runner.StatusIdle, nil
	}
	step := s.script[s.cursor]
	s.lastIdx = s.cursor
	if s.cursor < len(s.script)-1 {
		s.cursor++
	}
	return step.Status, nil
}

func (f *FakeRunner) GetMessages(ctx context.Context, sessionID, workDir string) ([]runner.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	if len(s.script) == 0 {
		return nil, nil
	}
	return s.script[s.lastIdx].Messages, nil
}

func (f *FakeRunner) GetTodos(ctx context.Context, sessionID string) ([]runner.Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	if len(s.script) == 0 {
		return nil, nil
	}
	return s.script[s.lastIdx].Todos, nil
}

func (f *FakeRunner) InjectToolResults(ctx context.Context, sessionID, workDir string, pendingToolIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	s.injectedResults = append(s.injectedResults, pendingToolIDs...)
	return nil
}

// Injected returns the tool ids ever passed to InjectToolResults for sessionID.
func (f *FakeRunner) Injected(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		return append([]string(nil), s.injectedResults...)
	}
	return nil
}

// WorkDir returns the workDir CreateSession was called with for sessionID.
func (f *FakeRunner) WorkDir(sessionID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		return s.workDir
	}
	return ""
}
