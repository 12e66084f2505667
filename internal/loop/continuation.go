package loop

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/conductor/internal/task"
)

// Checkpoint is the minimal state carried across a history-bound
// continuation: the un-started tasks, the live configuration, and the
// folded metrics of all prior runs. Everything else is discarded.
type Checkpoint struct {
	ID           string        `json:"id"`
	TakenAt      time.Time     `json:"taken_at"`
	Pending      []*task.Task  `json:"pending"`
	Config       Configuration `json:"configuration"`
	CarryMetrics Metrics       `json:"carry_metrics"`
}

// CheckpointStore persists checkpoints for the durable-execution host.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LoadCheckpoint(ctx context.Context, id string) (*Checkpoint, error)
}

// NewFromCheckpoint builds a fresh loop resuming from cp. The new run starts
// with only the remaining pending queue and configuration; prior-run metrics
// are folded into the result and state views without counting toward the new
// run's continuation threshold.
func NewFromCheckpoint(cp *Checkpoint, opts Options) *Loop {
	l := New(cp.Config, opts)
	l.state.pending = cloneTasks(cp.Pending)
	for _, t := range l.state.pending {
		t.Status = task.StatusPending
	}
	l.state.carried = cp.CarryMetrics
	return l
}

func newCheckpointID() string {
	return uuid.New().String()
}
