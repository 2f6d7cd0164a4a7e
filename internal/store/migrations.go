package store

import (
	"context"
	"strings"
)

// migrate creates the schema if absent and applies forward-only additive
// column changes. Each ALTER TABLE is idempotent: a "duplicate column name"
// error from re-applying an already-present column is swallowed.
func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prompt TEXT NOT NULL,
			project_path TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			priority TEXT NOT NULL DEFAULT 'medium',
			result TEXT,
			error TEXT,
			error_type TEXT,
			session_id TEXT,
			iteration INTEGER NOT NULL DEFAULT 0,
			max_iterations INTEGER NOT NULL DEFAULT 10,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			retry_after DATETIME,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			created_by TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			depends_on INTEGER REFERENCES tasks(id),
			progress_tool_calls INTEGER NOT NULL DEFAULT 0,
			progress_last_tool TEXT,
			progress_last_message TEXT,
			progress_updated_at DATETIME
		);`); err != nil {
		return err
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_retry_after ON tasks(retry_after);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_depends_on ON tasks(depends_on);`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	// Additive migrations for columns introduced after the initial schema.
	// Each is guarded so re-running against an already-migrated database
	// (or one created fresh with the statement above already inlined) is a
	// no-op rather than an error.
	for _, stmt := range []string{
		`ALTER TABLE tasks ADD COLUMN progress_tool_calls INTEGER NOT NULL DEFAULT 0;`,
		`ALTER TABLE tasks ADD COLUMN progress_last_tool TEXT;`,
		`ALTER TABLE tasks ADD COLUMN progress_last_message TEXT;`,
		`ALTER TABLE tasks ADD COLUMN progress_updated_at DATETIME;`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return err
		}
	}

	return tx.Commit()
}
