package queue

import (
	"context"
	"strings"
	"testing"

	"github.com/pablasso/taskd/internal/store"
	"github.com/pablasso/taskd/internal/task"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/queue_test.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestValidatePromptBoundaries(t *testing.T) {
	if err := ValidatePrompt(strings.Repeat("a", task.MaxPromptLen)); err != nil {
		t.Fatalf("prompt of exactly %d chars rejected: %v", task.MaxPromptLen, err)
	}
	if err := ValidatePrompt(strings.Repeat("a", task.MaxPromptLen+1)); err == nil {
		t.Fatalf("prompt of %d chars accepted, want rejected", task.MaxPromptLen+1)
	}
	if err := ValidatePrompt("   "); err == nil {
		t.Fatalf("blank prompt accepted, want rejected")
	}
}

func TestValidatePathBoundaries(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"../etc/passwd", true},
		{"/root/projects/foo", false},
		{"/root/other", true},
		{"/etc/passwd", true},
		{"", false},
		{strings.Repeat("a", 501), true},
	}
	for _, c := range cases {
		err := ValidatePath(c.path)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidatePath(%q) err=%v, wantErr=%v", c.path, err, c.wantErr)
		}
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.Create(context.Background(), CreateParams{Prompt: ""}); err == nil {
		t.Fatalf("Create with blank prompt succeeded, want error")
	}
	if _, err := q.Create(context.Background(), CreateParams{Prompt: "ok", ProjectPath: "/etc/passwd"}); err == nil {
		t.Fatalf("Create with forbidden path succeeded, want error")
	}
}

func TestCreateRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	// MaxIterations <= 0 and MaxRetries < 0 select the defaults; a
	// MaxRetries of 0 is kept as "no retries".
	created, err := q.Create(context.Background(), CreateParams{Prompt: "hello world", Source: task.SourceCLI, MaxRetries: -1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := q.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Prompt != "hello world" {
		t.Fatalf("prompt = %q, want %q", got.Prompt, "hello world")
	}
	if got.MaxIterations != task.DefaultMaxIters || got.MaxRetries != task.DefaultMaxRetries {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestCreateRejectsMissingDependency(t *testing.T) {
	q := newTestQueue(t)
	missing := int64(999)
	if _, err := q.Create(context.Background(), CreateParams{Prompt: "child", DependsOn: &missing}); err == nil {
		t.Fatalf("Create with missing dependency succeeded, want error")
	}
}

func TestDependencyCascadeScenario(t *testing.T) {
	q := newTestQueue(t)
	parent, err := q.Create(context.Background(), CreateParams{Prompt: "parent"})
	if err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	child, err := q.Create(context.Background(), CreateParams{Prompt: "child", DependsOn: &parent.ID})
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}

	next, err := q.GetNextRetryable(context.Background())
	if err != nil {
		t.Fatalf("GetNextRetryable: %v", err)
	}
	if next == nil || next.ID != parent.ID {
		t.Fatalf("GetNextRetryable = %+v, want parent", next)
	}

	if err := q.SetFailed(context.Background(), parent.ID, "boom", task.ErrorUnknown); err != nil {
		t.Fatalf("SetFailed: %v", err)
	}
	if err := q.FailDependentTasks(context.Background(), parent.ID, "parent failed"); err != nil {
		t.Fatalf("FailDependentTasks: %v", err)
	}

	got, err := q.Get(context.Background(), child.ID)
	if err != nil {
		t.Fatalf("Get child: %v", err)
	}
	if got.Status != task.StatusFailed || got.ErrorType != task.ErrorDependencyFailed {
		t.Fatalf("child = %+v, want failed/dependency_failed", got)
	}
}

func TestUpdateProgressTruncatesLastMessage(t *testing.T) {
	q := newTestQueue(t)
	created, err := q.Create(context.Background(), CreateParams{Prompt: "task"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	long := strings.Repeat("x", task.ProgressMsgMaxLen+500)
	if err := q.UpdateProgress(context.Background(), created.ID, ProgressUpdate{ToolCalls: 2, LastTool: "bash", LastMessage: long}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, err := q.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.ProgressLastMessage) != task.ProgressMsgMaxLen {
		t.Fatalf("ProgressLastMessage len = %d, want %d", len(got.ProgressLastMessage), task.ProgressMsgMaxLen)
	}
}
