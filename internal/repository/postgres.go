// Package repository provides PostgreSQL persistence for task outcomes and
// run snapshots.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/nadmax/conductor/internal/loop"
	"github.com/nadmax/conductor/internal/task"
)

type PostgresRunRepository struct {
	db *sql.DB
}

func NewPostgresRunRepository(connectionString string) (*PostgresRunRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRunRepository{db: db}, nil
}

func (r *PostgresRunRepository) SaveOutcome(ctx context.Context, runID string, t *task.Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO task_outcomes (
			task_id, run_id, type, payload, priority, status,
			attempts, error, created_at, started_at, completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at,
			duration_ms = EXCLUDED.duration_ms
	`

	var startedAt, completedAt any
	if t.StartedAt != nil {
		startedAt = *t.StartedAt
	}
	if t.CompletedAt != nil {
		completedAt = *t.CompletedAt
	}

	var durationMs any
	if t.StartedAt != nil && t.CompletedAt != nil {
		durationMs = int(t.CompletedAt.Sub(*t.StartedAt).Milliseconds())
	}

	_, err = r.db.ExecContext(
		ctx,
		query,
		t.ID,
		runID,
		t.Type,
		payload,
		int(t.Priority),
		string(t.Status),
		t.Attempts,
		t.Error,
		t.CreatedAt,
		startedAt,
		completedAt,
		durationMs,
	)

	return err
}

func (r *PostgresRunRepository) SaveSnapshot(ctx context.Context, runID string, snap loop.Snapshot) error {
	query := `
		INSERT INTO run_snapshots (
			snapshot_id, run_id, status, pending_count, completed_count,
			failed_count, tasks_completed, tasks_failed, taken_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		snap.ID,
		runID,
		string(snap.Status),
		snap.PendingCount,
		snap.CompletedCount,
		snap.FailedCount,
		snap.Metrics.TasksCompleted,
		snap.Metrics.TasksFailed,
		snap.TakenAt,
	)

	return err
}

func (r *PostgresRunRepository) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	query := `
		SELECT
			task_id, run_id, type, status, attempts,
			COALESCE(error, ''), created_at, completed_at, duration_ms
		FROM task_outcomes
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	return scanOutcomes(rows)
}

func (r *PostgresRunRepository) OutcomesByType(ctx context.Context, taskType string, limit int) ([]OutcomeRecord, error) {
	query := `
		SELECT
			task_id, run_id, type, status, attempts,
			COALESCE(error, ''), created_at, completed_at, duration_ms
		FROM task_outcomes
		WHERE type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, taskType, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	return scanOutcomes(rows)
}

func (r *PostgresRunRepository) OutcomeStats(ctx context.Context, hours int) ([]OutcomeStats, error) {
	query := `
		SELECT
			type, status, COUNT(*) as count,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms,
			COALESCE(MAX(duration_ms), 0) as max_duration_ms,
			COALESCE(MIN(duration_ms), 0) as min_duration_ms,
			COALESCE(AVG(attempts), 0) as avg_attempts
		FROM task_outcomes
		WHERE created_at > NOW() - INTERVAL '1 hour' * $1
		GROUP BY type, status
		ORDER BY type, status
	`
	rows, err := r.db.QueryContext(ctx, query, hours)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var stats []OutcomeStats
	for rows.Next() {
		var s OutcomeStats
		if err := rows.Scan(
			&s.Type,
			&s.Status,
			&s.Count,
			&s.AvgDurationMs,
			&s.MaxDurationMs,
			&s.MinDurationMs,
			&s.AvgAttempts,
		); err != nil {
			return nil, err
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func scanOutcomes(rows *sql.Rows) ([]OutcomeRecord, error) {
	var outcomes []OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		var completedAt sql.NullTime
		var durationMs sql.NullInt64

		if err := rows.Scan(
			&o.TaskID,
			&o.RunID,
			&o.Type,
			&o.Status,
			&o.Attempts,
			&o.Error,
			&o.CreatedAt,
			&completedAt,
			&durationMs,
		); err != nil {
			return nil, err
		}

		if completedAt.Valid {
			o.CompletedAt = &completedAt.Time
		}
		if durationMs.Valid {
			ms := int(durationMs.Int64)
			o.DurationMs = &ms
		}

		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}

func (r *PostgresRunRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresRunRepository) Close() error {
	return r.db.Close()
}
