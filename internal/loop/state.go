package loop

import (
	"time"

	"github.com/nadmax/conductor/internal/history"
	"github.com/nadmax/conductor/internal/task"
)

// Status is the loop's lifecycle state.
type Status string

const (
	StatusInitializing          Status = "initializing"
	StatusRunning               Status = "running"
	StatusPaused                Status = "paused"
	StatusCancelled             Status = "cancelled"
	StatusTerminated            Status = "terminated"
	StatusCompleted             Status = "completed"
	StatusCompletedWithFailures Status = "completed_with_failures"
	StatusFailed                Status = "failed"
)

// terminal reports whether the loop can never leave this status.
func (s Status) terminal() bool {
	switch s {
	case StatusCancelled, StatusTerminated, StatusCompleted, StatusCompletedWithFailures, StatusFailed:
		return true
	}
	return false
}

// Configuration holds the loop options mutable at runtime via commands.
type Configuration struct {
	DefaultPriority       task.TaskPriority `json:"default_priority"`
	DefaultTimeout        time.Duration     `json:"default_timeout"`
	RetryPolicy           string            `json:"retry_policy"`
	StopOnFailure         bool              `json:"stop_on_failure"`
	ValidateTasks         bool              `json:"validate_tasks"`
	DebugMode             bool              `json:"debug_mode"`
	ContinuationThreshold int               `json:"continuation_threshold"`
	ScheduleInterval      time.Duration     `json:"schedule_interval"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		DefaultPriority:       task.PriorityMedium,
		RetryPolicy:           "standard",
		ValidateTasks:         true,
		ContinuationThreshold: 1000,
	}
}

// Metrics are the loop's execution counters for the current run.
type Metrics struct {
	TasksStarted    int           `json:"tasks_started"`
	TasksCompleted  int           `json:"tasks_completed"`
	TasksFailed     int           `json:"tasks_failed"`
	TasksSkipped    int           `json:"tasks_skipped"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
}

func (m *Metrics) recordOutcome(d time.Duration) {
	m.TotalDuration += d
	if n := m.TasksCompleted + m.TasksFailed; n > 0 {
		m.AverageDuration = m.TotalDuration / time.Duration(n)
	}
}

func addMetrics(a, b Metrics) Metrics {
	sum := Metrics{
		TasksStarted:   a.TasksStarted + b.TasksStarted,
		TasksCompleted: a.TasksCompleted + b.TasksCompleted,
		TasksFailed:    a.TasksFailed + b.TasksFailed,
		TasksSkipped:   a.TasksSkipped + b.TasksSkipped,
		TotalDuration:  a.TotalDuration + b.TotalDuration,
	}
	if n := sum.TasksCompleted + sum.TasksFailed; n > 0 {
		sum.AverageDuration = sum.TotalDuration / time.Duration(n)
	}
	return sum
}

// ErrorRecord is one captured task or loop error.
type ErrorRecord struct {
	TaskID     string    `json:"task_id,omitempty"`
	Category   string    `json:"category"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Interaction is one logged external command or update.
type Interaction struct {
	Kind      string         `json:"kind"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Snapshot is a point-in-time summary of the control state.
type Snapshot struct {
	ID             string    `json:"id"`
	TakenAt        time.Time `json:"taken_at"`
	Status         Status    `json:"status"`
	PendingCount   int       `json:"pending_count"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	Metrics        Metrics   `json:"metrics"`
}

const (
	errorHistoryCap       = 100
	snapshotHistoryCap    = 20
	interactionHistoryCap = 200
)

// controlState is the loop's single mutable aggregate. Guarded by the Loop
// mutex; never handed out directly.
type controlState struct {
	status       Status
	pending      []*task.Task
	completed    []*task.Task
	failed       []*task.Task
	config       Configuration
	metrics      Metrics
	carried      Metrics // folded in from prior runs at continuation
	errors       *history.Ring[ErrorRecord]
	snapshots    *history.Ring[Snapshot]
	interactions *history.Ring[Interaction]
}

func newControlState(cfg Configuration) *controlState {
	return &controlState{
		status:       StatusInitializing,
		config:       cfg,
		errors:       history.NewRing[ErrorRecord](errorHistoryCap),
		snapshots:    history.NewRing[Snapshot](snapshotHistoryCap),
		interactions: history.NewRing[Interaction](interactionHistoryCap),
	}
}

// popFront removes and returns the head of the pending queue.
func (s *controlState) popFront() *task.Task {
	if len(s.pending) == 0 {
		return nil
	}
	t := s.pending[0]
	s.pending = append([]*task.Task(nil), s.pending[1:]...)
	return t
}

// pushBack appends to the pending queue (normal FIFO insertion).
func (s *controlState) pushBack(t *task.Task) {
	s.pending = append(s.pending, t)
}

// pushFront inserts at the head, after an in-flight head if one exists.
func (s *controlState) pushFront(t *task.Task) {
	at := 0
	if len(s.pending) > 0 && s.pending[0].Status == task.StatusInFlight {
		at = 1
	}
	s.pending = append(s.pending, nil)
	copy(s.pending[at+1:], s.pending[at:])
	s.pending[at] = t
}

// removePending removes the pending task with the given id. In-flight tasks
// cannot be removed.
func (s *controlState) removePending(id string) *task.Task {
	for i, t := range s.pending {
		if t.ID != id {
			continue
		}
		if t.Status == task.StatusInFlight {
			return nil
		}
		s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
		return t
	}
	return nil
}

// findTask looks a task up across all three sets.
func (s *controlState) findTask(id string) *task.Task {
	for _, list := range [][]*task.Task{s.pending, s.completed, s.failed} {
		for _, t := range list {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

// StateView is the deep copy handed out by the full-state query.
type StateView struct {
	Status       Status        `json:"status"`
	Pending      []*task.Task  `json:"pending"`
	Completed    []*task.Task  `json:"completed"`
	Failed       []*task.Task  `json:"failed"`
	Config       Configuration `json:"configuration"`
	Metrics      Metrics       `json:"metrics"`
	Carried      Metrics       `json:"carried_metrics"`
	Errors       []ErrorRecord `json:"errors"`
	Snapshots    []Snapshot    `json:"snapshots"`
	Interactions []Interaction `json:"interactions"`
}

func (s *controlState) view() StateView {
	return StateView{
		Status:       s.status,
		Pending:      cloneTasks(s.pending),
		Completed:    cloneTasks(s.completed),
		Failed:       cloneTasks(s.failed),
		Config:       s.config,
		Metrics:      s.metrics,
		Carried:      s.carried,
		Errors:       s.errors.Items(),
		Snapshots:    s.snapshots.Items(),
		Interactions: s.interactions.Items(),
	}
}

func cloneTasks(tasks []*task.Task) []*task.Task {
	out := make([]*task.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// HealthSummary is the health query's response.
type HealthSummary struct {
	Status         Status  `json:"status"`
	PendingCount   int     `json:"pending_count"`
	CompletedCount int     `json:"completed_count"`
	FailedCount    int     `json:"failed_count"`
	ErrorCount     int     `json:"error_count"`
	BreakerState   string  `json:"breaker_state"`
	Progress       float64 `json:"progress"`
}

// Result is the terminal value returned when a run finishes. Continuation is
// non-nil when the run ended because the history threshold was reached; the
// host restarts a fresh loop from that checkpoint.
type Result struct {
	Status          Status       `json:"status"`
	Completed       []*task.Task `json:"completed"`
	Metrics         Metrics      `json:"metrics"`
	TerminateReason string       `json:"terminate_reason,omitempty"`
	Continuation    *Checkpoint  `json:"continuation,omitempty"`
}
