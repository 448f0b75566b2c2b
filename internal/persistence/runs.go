package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveRun inserts or updates a run row. Upsert keeps saves idempotent if
// the caller records the run again after aggregation.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, total, succeeded, failed, timed_out)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			total = excluded.total,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			timed_out = excluded.timed_out
	`, run.ID, run.StartedAt, run.FinishedAt, run.Total, run.Succeeded, run.Failed, run.TimedOut)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}
	return nil
}

// SaveTaskRecords inserts the task results of a run in one transaction.
func (s *SQLiteStore) SaveTaskRecords(ctx context.Context, records []TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_results (run_id, task_name, status, duration_ms, error, artifacts)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.RunID, rec.TaskName, rec.Status, rec.DurationMS, rec.Error, rec.Artifacts)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", rec.TaskName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, total, succeeded, failed, timed_out
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Total, &run.Succeeded, &run.Failed, &run.TimedOut); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetTaskRecords returns the task results of one run, by task name.
func (s *SQLiteStore) GetTaskRecords(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_name, status, duration_ms, COALESCE(error, ''), artifacts
		FROM task_results
		WHERE run_id = ?
		ORDER BY task_name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task results: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		if err := rows.Scan(&rec.RunID, &rec.TaskName, &rec.Status, &rec.DurationMS, &rec.Error, &rec.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
