package repository

import (
	"context"
	"time"

	"github.com/nadmax/conductor/internal/loop"
	"github.com/nadmax/conductor/internal/task"
)

type RunRepository interface {
	SaveOutcome(ctx context.Context, runID string, t *task.Task) error
	SaveSnapshot(ctx context.Context, runID string, snap loop.Snapshot) error
	RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error)
	OutcomesByType(ctx context.Context, taskType string, limit int) ([]OutcomeRecord, error)
	OutcomeStats(ctx context.Context, hours int) ([]OutcomeStats, error)
	Close() error
}

type OutcomeRecord struct {
	TaskID      string     `json:"task_id"`
	RunID       string     `json:"run_id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  *int       `json:"duration_ms,omitempty"`
}

type OutcomeStats struct {
	Type          string  `json:"type"`
	Status        string  `json:"status"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int     `json:"max_duration_ms"`
	MinDurationMs int     `json:"min_duration_ms"`
	AvgAttempts   float64 `json:"avg_attempts"`
}
