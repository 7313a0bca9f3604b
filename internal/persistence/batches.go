package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tagbatch/tagbatch/internal/scheduler"
)

// ErrBatchNotFound is returned when no batch has the requested ID.
var ErrBatchNotFound = errors.New("batch not found")

const queryTimeout = 5 * time.Second

// SaveBatch inserts or updates a batch. An empty ID is filled in.
func (s *SQLiteStore) SaveBatch(ctx context.Context, b *Batch) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now().UTC()
	}

	if err := upsertBatch(ctx, s.db, b); err != nil {
		return err
	}
	return nil
}

// FinishBatch stores the outcome counts of b, marks it finished now and saves
// results, all in one transaction.
func (s *SQLiteStore) FinishBatch(ctx context.Context, b *Batch, results []TaskResult) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	b.Total, b.OK, b.Failed, b.Waiting = len(results), 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case scheduler.TaskOK:
			b.OK++
		case scheduler.TaskError:
			b.Failed++
		case scheduler.TaskWaiting:
			b.Waiting++
		}
	}
	b.FinishedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertBatch(ctx, tx, b); err != nil {
		return err
	}
	if err := insertResults(ctx, tx, results); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetBatch returns one batch. A missing ID wraps ErrBatchNotFound.
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*Batch, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, dir, started_at, finished_at, total, ok, failed, waiting, cancelled
		FROM batches
		WHERE id = ?
	`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	return b, nil
}

// ListBatches returns up to limit batches, newest first. limit <= 0 means all.
func (s *SQLiteStore) ListBatches(ctx context.Context, limit int) ([]*Batch, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, dir, started_at, finished_at, total, ok, failed, waiting, cancelled
		FROM batches
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	batches := []*Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}
	return batches, nil
}

// ListFailures returns the failed tasks of a batch in task order.
func (s *SQLiteStore) ListFailures(ctx context.Context, batchID string) ([]TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, idx, path, status, progress, max, error
		FROM task_results
		WHERE batch_id = ? AND status = ?
		ORDER BY idx ASC
	`, batchID, int(scheduler.TaskError))
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	failures := []TaskResult{}
	for rows.Next() {
		var r TaskResult
		var errStr sql.NullString
		if err := rows.Scan(&r.BatchID, &r.Index, &r.Path, &r.Status, &r.Progress, &r.Max, &errStr); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Err = errStr.String
		failures = append(failures, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failures: %w", err)
	}
	return failures, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func upsertBatch(ctx context.Context, db execer, b *Batch) error {
	var finished sql.NullTime
	if !b.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: b.FinishedAt, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO batches (id, kind, dir, started_at, finished_at, total, ok, failed, waiting, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			total = excluded.total,
			ok = excluded.ok,
			failed = excluded.failed,
			waiting = excluded.waiting,
			cancelled = excluded.cancelled
	`, b.ID, b.Kind, b.Dir, b.StartedAt, finished, b.Total, b.OK, b.Failed, b.Waiting, b.Cancelled)
	if err != nil {
		return fmt.Errorf("failed to upsert batch: %w", err)
	}
	return nil
}

func insertResults(ctx context.Context, db execer, results []TaskResult) error {
	for _, r := range results {
		_, err := db.ExecContext(ctx, `
			INSERT INTO task_results (batch_id, idx, path, status, progress, max, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(batch_id, idx) DO UPDATE SET
				path = excluded.path,
				status = excluded.status,
				progress = excluded.progress,
				max = excluded.max,
				error = excluded.error
		`, r.BatchID, r.Index, r.Path, int(r.Status), r.Progress, r.Max, r.Err)
		if err != nil {
			return fmt.Errorf("failed to save result %d of batch %s: %w", r.Index, r.BatchID, err)
		}
	}
	return nil
}

func scanBatch(row scanner) (*Batch, error) {
	b := &Batch{}
	var finished sql.NullTime
	if err := row.Scan(&b.ID, &b.Kind, &b.Dir, &b.StartedAt, &finished, &b.Total, &b.OK, &b.Failed, &b.Waiting, &b.Cancelled); err != nil {
		return nil, err
	}
	if finished.Valid {
		b.FinishedAt = finished.Time
	}
	return b, nil
}
