// Package task defines the unit-of-work model consumed by the orchestration loop.
// It contains task metadata, status definitions, validation, and serialization helpers.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	TaskStatus   string
	TaskPriority int
	Task         struct {
		ID          string            `json:"id"`
		Type        string            `json:"type"`
		Payload     map[string]any    `json:"payload"`
		Priority    TaskPriority      `json:"priority"`
		Timeout     time.Duration     `json:"timeout"`
		Metadata    map[string]string `json:"metadata,omitempty"`
		Status      TaskStatus        `json:"status"`
		Attempts    int               `json:"attempts"`
		CreatedAt   time.Time         `json:"created_at"`
		StartedAt   *time.Time        `json:"started_at,omitempty"`
		CompletedAt *time.Time        `json:"completed_at,omitempty"`
		Error       string            `json:"error,omitempty"`
	}
)

const (
	StatusPending   TaskStatus = "pending"
	StatusInFlight  TaskStatus = "in_flight"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

const (
	PriorityLow TaskPriority = iota
	PriorityMedium
	PriorityHigh
)

var ErrInvalidTask = errors.New("invalid task")

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// NewTask creates a pending task. An empty caller-assigned ID gets a generated UUID.
func NewTask(taskType string, payload map[string]any, priority TaskPriority) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Payload:   payload,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// Validate checks the fields the loop relies on before dispatching.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTask)
	}
	if t.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidTask)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidTask)
	}
	return nil
}

// Clone returns a deep copy so queries never hand out aliased state.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Payload != nil {
		cp.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			cp.Payload[k] = v
		}
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func TaskFromJSON(data string) (*Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, err
	}

	return &task, nil
}
