// Package tui implements the read-only operator dashboard (`taskd status`):
// queue counts by status, the currently running task, and recent tasks.
// Generalized from the teacher's internal/tui (a Bubble Tea app with
// multiple interactive views for plan creation/running) down to a single
// polling view, since a durable daemon's operator surface is
// observational, not a multi-step wizard.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/pablasso/taskd/internal/queue"
	"github.com/pablasso/taskd/internal/store"
	"github.com/pablasso/taskd/internal/task"
)

const refreshInterval = 2 * time.Second

// Run starts the dashboard, polling q until the user quits.
func Run(q *queue.Queue) error {
	p := tea.NewProgram(initialModel(q), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type snapshot struct {
	stats   store.Stats
	running *task.Task
	recent  []*task.Task
	err     error
}

type tickMsg time.Time

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	queue   *queue.Queue
	width   int
	height  int
	snap    snapshot
	spinner spinner.Model
}

func initialModel(q *queue.Queue) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = warnStyle
	return Model{queue: q, spinner: s}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick(), m.spinner.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	q := m.queue
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		stats, err := q.Stats(ctx)
		if err != nil {
			return snapshot{err: err}
		}
		running, err := q.GetRunning(ctx)
		if err != nil {
			return snapshot{err: err}
		}
		recent, err := q.List(ctx, "", 10)
		if err != nil {
			return snapshot{err: err}
		}
		return snapshot{stats: stats, running: running, recent: recent}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())
	case snapshot:
		m.snap = msg
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.snap.err != nil {
		return errorStyle.Render(fmt.Sprintf("error: %v", m.snap.err)) + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("taskd queue"))
	b.WriteString("\n")
	b.WriteString(renderStats(m.snap.stats))
	b.WriteString("\n\n")
	b.WriteString(renderRunning(m.snap.running, m.spinner.View()))
	b.WriteString("\n\n")
	b.WriteString(renderRecent(m.snap.recent))
	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render("q to quit · refreshing every " + refreshInterval.String()))
	return b.String()
}

func renderStats(s store.Stats) string {
	return boxStyle.Render(fmt.Sprintf(
		"pending %d   running %d   done %d   failed %d   cancelled %d",
		s.Pending, s.Running, s.Done, s.Failed, s.Cancelled,
	))
}

func renderRunning(t *task.Task, indicator string) string {
	if t == nil {
		return subtleStyle.Render("no task currently running")
	}
	started := "unknown"
	if t.StartedAt != nil {
		started = humanize.Time(*t.StartedAt)
	}
	return successStyle.Render(fmt.Sprintf(
		"%s running: task #%d (iteration %d/%d, started %s)\n  %s",
		indicator, t.ID, t.Iteration, t.MaxIterations, started, truncate(t.Prompt, 80),
	))
}

func renderRecent(tasks []*task.Task) string {
	if len(tasks) == 0 {
		return subtleStyle.Render("no tasks yet")
	}
	var b strings.Builder
	b.WriteString(subtleStyle.Render("recent tasks:"))
	b.WriteString("\n")
	for _, t := range tasks {
		style := subtleStyle
		switch t.Status {
		case task.StatusDone:
			style = successStyle
		case task.StatusFailed:
			style = errorStyle
		case task.StatusRunning:
			style = warnStyle
		}
		b.WriteString(fmt.Sprintf("  #%-4d %-10s %s\n", t.ID, style.Render(string(t.Status)), truncate(t.Prompt, 60)))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
