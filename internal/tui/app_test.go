package tui

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pablasso/taskd/internal/store"
	"github.com/pablasso/taskd/internal/task"
)

func newTestModel() Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return Model{spinner: s}
}

func TestModel_View_NoRunningTask(t *testing.T) {
	m := newTestModel()
	m.snap = snapshot{stats: store.Stats{Pending: 2, Done: 1}}

	view := m.View()

	if !strings.Contains(view, "no task currently running") {
		t.Error("expected view to report no running task")
	}
	if !strings.Contains(view, "pending 2") {
		t.Error("expected view to render pending count")
	}
}

func TestModel_View_RunningTaskShowsIterationAndPrompt(t *testing.T) {
	m := newTestModel()
	started := time.Now().Add(-30 * time.Second)
	m.snap = snapshot{
		running: &task.Task{ID: 7, Prompt: "refactor the billing module", Iteration: 2, MaxIterations: 10, StartedAt: &started},
	}

	view := m.View()

	if !strings.Contains(view, "task #7") {
		t.Error("expected view to mention the running task id")
	}
	if !strings.Contains(view, "2/10") {
		t.Error("expected view to render iteration progress")
	}
	if !strings.Contains(view, "refactor the billing module") {
		t.Error("expected view to render the task prompt")
	}
}

func TestModel_View_SurfacesFetchError(t *testing.T) {
	m := newTestModel()
	m.snap = snapshot{err: errTest{"store unavailable"}}

	view := m.View()

	if !strings.Contains(view, "store unavailable") {
		t.Error("expected view to surface the fetch error")
	}
}

func TestModel_Update_QuitsOnQKey(t *testing.T) {
	m := newTestModel()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
}

func TestModel_Update_StoresSnapshot(t *testing.T) {
	m := newTestModel()
	snap := snapshot{stats: store.Stats{Running: 1}}

	updated, _ := m.Update(snap)
	got := updated.(Model)

	if got.snap.stats.Running != 1 {
		t.Errorf("expected snapshot to be stored, got %+v", got.snap)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 80); got != "short" {
		t.Errorf("expected short strings to pass through unchanged, got %q", got)
	}
	long := strings.Repeat("a", 100)
	got := truncate(long, 10)
	if n := utf8.RuneCountInString(got); n != 10 {
		t.Errorf("expected truncated length 10 characters, got %d", n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected truncated string to end with ellipsis, got %q", got)
	}
}

type errTest struct{ msg string }

func (e errTest) Error() string { return e.msg }
