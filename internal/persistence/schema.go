package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		dir TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		total INTEGER NOT NULL DEFAULT 0,
		ok INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		waiting INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_batches_started_at ON batches(started_at);

	CREATE TABLE IF NOT EXISTS task_results (
		batch_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		path TEXT NOT NULL,
		status INTEGER NOT NULL,
		progress INTEGER NOT NULL,
		max INTEGER NOT NULL,
		error TEXT,
		PRIMARY KEY (batch_id, idx),
		FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
