// Package store persists tasks to an embedded SQLite database with
// write-ahead journaling. All queries are parameterized; schema migrations
// are forward-only and tolerate re-application.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pablasso/taskd/internal/task"
)

// Store wraps a *sql.DB configured for single-writer WAL access.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path, applying
// pragmas and migrations. The caller must call Close.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// One connection: the Scheduler is the sole writer and this avoids
	// SQLITE_BUSY storms from concurrent readers racing the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory is used by tests; each call gets an isolated database.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", "file::memory:?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// retryOnBusy retries f with bounded exponential backoff when SQLite reports
// the database as busy or locked, on top of the driver's own busy_timeout.
func (s *Store) retryOnBusy(ctx context.Context, f func() error) error {
	const maxRetries = 5
	const baseDelay = 25 * time.Millisecond
	const maxDelay = 400 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.Int63n(int64(delay/2) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - delay/4 + jitter):
		}
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

// Row is the flat column representation used to move a Task in and out of
// SQL without the caller touching raw columns.
type Row struct {
	ID          int64
	Prompt      string
	ProjectPath sql.NullString
	Status      string
	Priority    string
	Result      sql.NullString
	Error       sql.NullString
	ErrorType   sql.NullString
	SessionID   sql.NullString

	Iteration     int
	MaxIterations int
	RetryCount    int
	MaxRetries    int
	RetryAfter    sql.NullTime

	CreatedAt   time.Time
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime

	CreatedBy string
	Source    string

	DependsOn sql.NullInt64

	ProgressToolCalls   int
	ProgressLastTool    sql.NullString
	ProgressLastMessage sql.NullString
	ProgressUpdatedAt   sql.NullTime
}

func (r Row) toTask() *task.Task {
	t := &task.Task{
		ID:            r.ID,
		Prompt:        r.Prompt,
		Status:        task.Status(r.Status),
		Priority:      task.Priority(r.Priority),
		Iteration:     r.Iteration,
		MaxIterations: r.MaxIterations,
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		CreatedAt:     r.CreatedAt,
		CreatedBy:     r.CreatedBy,
		Source:        task.Source(r.Source),
		ProgressToolCalls: r.ProgressToolCalls,
	}
	if r.ProjectPath.Valid {
		t.ProjectPath = r.ProjectPath.String
	}
	if r.Result.Valid {
		t.Result = r.Result.String
	}
	if r.Error.Valid {
		t.Error = r.Error.String
	}
	if r.ErrorType.Valid {
		t.ErrorType = task.ErrorType(r.ErrorType.String)
	}
	if r.SessionID.Valid {
		t.SessionID = r.SessionID.String
	}
	if r.RetryAfter.Valid {
		v := r.RetryAfter.Time
		t.RetryAfter = &v
	}
	if r.StartedAt.Valid {
		v := r.StartedAt.Time
		t.StartedAt = &v
	}
	if r.CompletedAt.Valid {
		v := r.CompletedAt.Time
		t.CompletedAt = &v
	}
	if r.DependsOn.Valid {
		v := r.DependsOn.Int64
		t.DependsOn = &v
	}
	if r.ProgressLastTool.Valid {
		t.ProgressLastTool = r.ProgressLastTool.String
	}
	if r.ProgressLastMessage.Valid {
		t.ProgressLastMessage = r.ProgressLastMessage.String
	}
	if r.ProgressUpdatedAt.Valid {
		v := r.ProgressUpdatedAt.Time
		t.ProgressUpdatedAt = &v
	}
	return t
}

const taskColumns = `id, prompt, project_path, status, priority, result, error, error_type,
	session_id, iteration, max_iterations, retry_count, max_retries, retry_after,
	created_at, started_at, completed_at, created_by, source, depends_on,
	progress_tool_calls, progress_last_tool, progress_last_message, progress_updated_at`

func scanRow(scan func(dest ...any) error) (Row, error) {
	var r Row
	err := scan(
		&r.ID, &r.Prompt, &r.ProjectPath, &r.Status, &r.Priority, &r.Result, &r.Error, &r.ErrorType,
		&r.SessionID, &r.Iteration, &r.MaxIterations, &r.RetryCount, &r.MaxRetries, &r.RetryAfter,
		&r.CreatedAt, &r.StartedAt, &r.CompletedAt, &r.CreatedBy, &r.Source, &r.DependsOn,
		&r.ProgressToolCalls, &r.ProgressLastTool, &r.ProgressLastMessage, &r.ProgressUpdatedAt,
	)
	return r, err
}

// Insert creates a new row and returns the assigned Task, including
// generated id and timestamps.
func (s *Store) Insert(ctx context.Context, t *task.Task) (*task.Task, error) {
	var id int64
	err := s.retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (
				prompt, project_path, status, priority, iteration, max_iterations,
				retry_count, max_retries, created_at, created_by, source, depends_on
			) VALUES (?, ?, ?, ?, 0, ?, 0, ?, ?, ?, ?, ?)`,
			t.Prompt, nullableString(t.ProjectPath), string(task.StatusPending), string(t.Priority),
			t.MaxIterations, t.MaxRetries, t.CreatedAt, t.CreatedBy, string(t.Source), nullableInt64Ptr(t.DependsOn),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Get fetches a single task by id, or (nil, nil) if it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	r, err := scanRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.toTask(), nil
}

// NextEligible returns the best eligible pending task: smallest
// (priority-rank, created_at) among rows whose retry_after has elapsed and
// whose dependency (if any) is done.
func (s *Store) NextEligible(ctx context.Context, now time.Time) (*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks t
		WHERE t.status = ?
		  AND (t.retry_after IS NULL OR t.retry_after <= ?)
		  AND (t.depends_on IS NULL OR EXISTS (
			SELECT 1 FROM tasks p WHERE p.id = t.depends_on AND p.status = ?
		  ))
		ORDER BY
			CASE t.priority
				WHEN 'urgent' THEN 0
				WHEN 'high' THEN 1
				WHEN 'medium' THEN 2
				WHEN 'low' THEN 3
				ELSE 4
			END ASC,
			t.created_at ASC
		LIMIT 1`,
		string(task.StatusPending), now, string(task.StatusDone),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanRow(rows.Scan)
	if err != nil {
		return nil, err
	}
	return r.toTask(), nil
}

// Running returns the currently running task, if any.
func (s *Store) Running(ctx context.Context) (*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? LIMIT 1`, string(task.StatusRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanRow(rows.Scan)
	if err != nil {
		return nil, err
	}
	return r.toTask(), nil
}

// SetRunning transitions id to running, recording session_id and started_at.
func (s *Store) SetRunning(ctx context.Context, id int64, sessionID string, now time.Time) error {
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, session_id = ?, started_at = ?
			WHERE id = ?`, string(task.StatusRunning), sessionID, now, id)
		return err
	})
}

// SetDone marks id as done with the given result.
func (s *Store) SetDone(ctx context.Context, id int64, result string, now time.Time) error {
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, result = ?, completed_at = ?
			WHERE id = ?`, string(task.StatusDone), result, now, id)
		return err
	})
}

// SetFailed marks id as failed with the given error and error_type.
func (s *Store) SetFailed(ctx context.Context, id int64, errMsg string, errType task.ErrorType, now time.Time) error {
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, error = ?, error_type = ?, completed_at = ?
			WHERE id = ?`, string(task.StatusFailed), errMsg, string(errType), now, id)
		return err
	})
}

// CancelIfPending atomically cancels id iff it is still pending. Returns
// true iff the row transitioned.
func (s *Store) CancelIfPending(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := s.retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
			string(task.StatusCancelled), id, string(task.StatusPending))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = n == 1
		return nil
	})
	return ok, err
}

// ResetToPending clears session_id, started_at, iteration and sets the row
// back to pending. Used for orphan recovery and explicit reset.
func (s *Store) ResetToPending(ctx context.Context, id int64) error {
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, session_id = NULL, started_at = NULL, iteration = 0
			WHERE id = ?`, string(task.StatusPending), id)
		return err
	})
}

// ResumePending returns id to pending without disturbing session_id or
// iteration, clearing only the error. Used after a successful
// tool_result_missing recovery, where the repaired session must be resumed
// rather than discarded.
func (s *Store) ResumePending(ctx context.Context, id int64) error {
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, error = NULL
			WHERE id = ?`, string(task.StatusPending), id)
		return err
	})
}

// ResetAllRunning resets every running task to pending; called once at
// startup to recover from a crash.
func (s *Store) ResetAllRunning(ctx context.Context) (int64, error) {
	var n int64
	err := s.retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, session_id = NULL, started_at = NULL, iteration = 0
			WHERE status = ?`, string(task.StatusPending), string(task.StatusRunning))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// ScheduleRetry sets the row back to pending with retry_after = now+delay
// and retry_count+1, iff retry_count < max_retries. Returns false (no-op)
// when the retry budget is exhausted.
func (s *Store) ScheduleRetry(ctx context.Context, id int64, delay time.Duration, now time.Time) (bool, error) {
	var ok bool
	err := s.retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET
				status = ?,
				retry_count = retry_count + 1,
				retry_after = ?,
				iteration = 0,
				session_id = NULL,
				started_at = NULL,
				error = NULL
			WHERE id = ? AND retry_count < max_retries`,
			string(task.StatusPending), now.Add(delay), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = n == 1
		return nil
	})
	return ok, err
}

// IncrementIteration bumps iteration by 1 and returns the new value.
func (s *Store) IncrementIteration(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.retryOnBusy(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `UPDATE tasks SET iteration = iteration + 1 WHERE id = ?`, id); err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, `SELECT iteration FROM tasks WHERE id = ?`, id).Scan(&n)
	})
	return n, err
}

// UpdateSessionID persists a new session id on an already-running task,
// e.g. after the Executor creates a session mid-loop.
func (s *Store) UpdateSessionID(ctx context.Context, id int64, sessionID string) error {
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE tasks SET session_id = ? WHERE id = ?`, sessionID, id)
		return err
	})
}

// UpdateProgress records observational progress counters; last_message is
// truncated to ProgressMsgMaxLen characters by the caller.
func (s *Store) UpdateProgress(ctx context.Context, id int64, toolCalls int, lastTool, lastMessage string, now time.Time) error {
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET
				progress_tool_calls = ?,
				progress_last_tool = ?,
				progress_last_message = ?,
				progress_updated_at = ?
			WHERE id = ?`, toolCalls, lastTool, lastMessage, now, id)
		return err
	})
}

// DependentsOf returns the pending children of parentID.
func (s *Store) DependentsOf(ctx context.Context, parentID int64) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE depends_on = ? AND status = ?`,
		parentID, string(task.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*task.Task
	for rows.Next() {
		r, err := scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r.toTask())
	}
	return out, rows.Err()
}

// FailDependents atomically fails every pending child of parentID with
// error_type=dependency_failed.
func (s *Store) FailDependents(ctx context.Context, parentID int64, reason string, now time.Time) error {
	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, error = ?, error_type = ?, completed_at = ?
			WHERE depends_on = ? AND status = ?`,
			string(task.StatusFailed), reason, string(task.ErrorDependencyFailed), now,
			parentID, string(task.StatusPending))
		return err
	})
}

// List returns up to limit tasks, optionally filtered by status, newest
// first. limit <= 0 means unlimited.
func (s *Store) List(ctx context.Context, status task.Status, limit int) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*task.Task
	for rows.Next() {
		r, err := scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r.toTask())
	}
	return out, rows.Err()
}

// Stats is a read-only count-by-status snapshot.
type Stats struct {
	Pending   int
	Running   int
	Done      int
	Failed    int
	Cancelled int
}

// Stats returns current counts by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		switch task.Status(status) {
		case task.StatusPending:
			st.Pending = n
		case task.StatusRunning:
			st.Running = n
		case task.StatusDone:
			st.Done = n
		case task.StatusFailed:
			st.Failed = n
		case task.StatusCancelled:
			st.Cancelled = n
		}
	}
	return st, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64Ptr(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
