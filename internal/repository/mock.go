package repository

import (
	"context"
	"sync"

	"github.com/nadmax/conductor/internal/loop"
	"github.com/nadmax/conductor/internal/task"
)

type MockRunRepository struct {
	mu                sync.Mutex
	SaveOutcomeCalls  []SaveOutcomeCall
	SaveSnapshotCalls []SaveSnapshotCall
	Outcomes          map[string]OutcomeRecord
	Stats             []OutcomeStats
	SaveOutcomeError  error
	SaveSnapshotError error
	RecentError       error
	StatsError        error
}

type SaveOutcomeCall struct {
	RunID string
	Task  *task.Task
}

type SaveSnapshotCall struct {
	RunID    string
	Snapshot loop.Snapshot
}

func NewMockRunRepository() *MockRunRepository {
	return &MockRunRepository{
		Outcomes: make(map[string]OutcomeRecord),
	}
}

func (m *MockRunRepository) SaveOutcome(ctx context.Context, runID string, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveOutcomeCalls = append(m.SaveOutcomeCalls, SaveOutcomeCall{RunID: runID, Task: t.Clone()})

	if m.SaveOutcomeError != nil {
		return m.SaveOutcomeError
	}

	rec := OutcomeRecord{
		TaskID:    t.ID,
		RunID:     runID,
		Type:      t.Type,
		Status:    string(t.Status),
		Attempts:  t.Attempts,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
	}
	if t.CompletedAt != nil {
		rec.CompletedAt = t.CompletedAt
	}
	m.Outcomes[t.ID] = rec

	return nil
}

func (m *MockRunRepository) SaveSnapshot(ctx context.Context, runID string, snap loop.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveSnapshotCalls = append(m.SaveSnapshotCalls, SaveSnapshotCall{RunID: runID, Snapshot: snap})

	return m.SaveSnapshotError
}

func (m *MockRunRepository) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecentError != nil {
		return nil, m.RecentError
	}

	var outcomes []OutcomeRecord
	for _, o := range m.Outcomes {
		outcomes = append(outcomes, o)
		if len(outcomes) >= limit {
			break
		}
	}

	return outcomes, nil
}

func (m *MockRunRepository) OutcomesByType(ctx context.Context, taskType string, limit int) ([]OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecentError != nil {
		return nil, m.RecentError
	}

	var outcomes []OutcomeRecord
	for _, o := range m.Outcomes {
		if o.Type == taskType {
			outcomes = append(outcomes, o)
			if len(outcomes) >= limit {
				break
			}
		}
	}

	return outcomes, nil
}

func (m *MockRunRepository) OutcomeStats(ctx context.Context, hours int) ([]OutcomeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StatsError != nil {
		return nil, m.StatsError
	}

	return m.Stats, nil
}

func (m *MockRunRepository) Close() error {
	return nil
}

func (m *MockRunRepository) SaveOutcomeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.SaveOutcomeCalls)
}

func (m *MockRunRepository) SaveSnapshotCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.SaveSnapshotCalls)
}

func (m *MockRunRepository) OutcomeStatus(taskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, exists := m.Outcomes[taskID]; exists {
		return o.Status, true
	}

	return "", false
}

func (m *MockRunRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveOutcomeCalls = nil
	m.SaveSnapshotCalls = nil
	m.Outcomes = make(map[string]OutcomeRecord)
}
