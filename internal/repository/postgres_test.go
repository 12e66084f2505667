package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadmax/conductor/internal/loop"
	"github.com/nadmax/conductor/internal/task"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresRunRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := &PostgresRunRepository{db: db}
	return db, mock, repo
}

func TestNewPostgresRunRepository(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		t.Skip("Integration test - requires real database")
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewPostgresRunRepository("invalid connection string")
		assert.Error(t, err)
	})
}

func TestSaveOutcome(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	t.Run("completed task", func(t *testing.T) {
		started := time.Now()
		completed := started.Add(2 * time.Second)
		tsk := &task.Task{
			ID:          "task-123",
			Type:        "email",
			Payload:     map[string]any{"to": "test@example.com"},
			Priority:    task.PriorityHigh,
			Status:      task.StatusCompleted,
			Attempts:    1,
			CreatedAt:   started,
			StartedAt:   &started,
			CompletedAt: &completed,
		}

		mock.ExpectExec("INSERT INTO task_outcomes").
			WithArgs(
				"task-123", "run-1", "email", sqlmock.AnyArg(), int(task.PriorityHigh),
				"completed", 1, "", started, started, completed, 2000,
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.SaveOutcome(ctx, "run-1", tsk)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed task without timestamps", func(t *testing.T) {
		created := time.Now()
		tsk := &task.Task{
			ID:        "task-456",
			Type:      "report",
			Status:    task.StatusFailed,
			Attempts:  3,
			Error:     "connection refused",
			CreatedAt: created,
		}

		mock.ExpectExec("INSERT INTO task_outcomes").
			WithArgs(
				"task-456", "run-1", "report", sqlmock.AnyArg(), 0,
				"failed", 3, "connection refused", created, nil, nil, nil,
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := repo.SaveOutcome(ctx, "run-1", tsk)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		tsk := task.NewTask("email", nil, task.PriorityMedium)

		mock.ExpectExec("INSERT INTO task_outcomes").
			WillReturnError(sql.ErrConnDone)

		err := repo.SaveOutcome(ctx, "run-1", tsk)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSaveSnapshot(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	taken := time.Now()
	snap := loop.Snapshot{
		ID:             "snap-1",
		TakenAt:        taken,
		Status:         loop.StatusRunning,
		PendingCount:   4,
		CompletedCount: 10,
		FailedCount:    1,
		Metrics:        loop.Metrics{TasksCompleted: 10, TasksFailed: 1},
	}

	mock.ExpectExec("INSERT INTO run_snapshots").
		WithArgs("snap-1", "run-1", "running", 4, 10, 1, 10, 1, taken).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.SaveSnapshot(context.Background(), "run-1", snap)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentOutcomes(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	now := time.Now()
	completed := now.Add(time.Second)

	rows := sqlmock.NewRows([]string{
		"task_id", "run_id", "type", "status", "attempts",
		"error", "created_at", "completed_at", "duration_ms",
	}).
		AddRow("task-1", "run-1", "email", "completed", 1, "", now, completed, 1000).
		AddRow("task-2", "run-1", "report", "failed", 3, "timeout", now, nil, nil)

	mock.ExpectQuery("SELECT.*FROM task_outcomes.*ORDER BY created_at DESC").
		WithArgs(10).
		WillReturnRows(rows)

	outcomes, err := repo.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "task-1", outcomes[0].TaskID)
	require.NotNil(t, outcomes[0].DurationMs)
	assert.Equal(t, 1000, *outcomes[0].DurationMs)

	assert.Equal(t, "failed", outcomes[1].Status)
	assert.Equal(t, "timeout", outcomes[1].Error)
	assert.Nil(t, outcomes[1].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomesByType(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"task_id", "run_id", "type", "status", "attempts",
		"error", "created_at", "completed_at", "duration_ms",
	}).AddRow("task-1", "run-1", "email", "completed", 1, "", now, nil, nil)

	mock.ExpectQuery("SELECT.*FROM task_outcomes.*WHERE type").
		WithArgs("email", 5).
		WillReturnRows(rows)

	outcomes, err := repo.OutcomesByType(context.Background(), "email", 5)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "email", outcomes[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeStats(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{
		"type", "status", "count", "avg_duration_ms",
		"max_duration_ms", "min_duration_ms", "avg_attempts",
	}).
		AddRow("email", "completed", 42, 150.5, 900, 10, 1.2).
		AddRow("email", "failed", 3, 5000.0, 9000, 1000, 3.0)

	mock.ExpectQuery("SELECT.*FROM task_outcomes.*GROUP BY type, status").
		WithArgs(24).
		WillReturnRows(rows)

	stats, err := repo.OutcomeStats(context.Background(), 24)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 42, stats[0].Count)
	assert.Equal(t, 3.0, stats[1].AvgAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
