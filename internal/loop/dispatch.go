package loop

import (
	"time"

	"github.com/google/uuid"
	"github.com/nadmax/conductor/internal/metrics"
	"github.com/nadmax/conductor/internal/resilience"
	"github.com/nadmax/conductor/internal/task"
)

// Dispatcher surface. Three interaction kinds with distinct contracts:
// commands mutate and return nothing, queries return a consistent copy and
// never mutate, updates mutate and return an acknowledged result. Every
// command and update is appended to the bounded interaction log.

// recordInteractionLocked logs one command/update for later inspection.
func (l *Loop) recordInteractionLocked(kind, name string, payload map[string]any) {
	l.state.interactions.Append(Interaction{
		Kind:      kind,
		Name:      name,
		Timestamp: time.Now(),
		Payload:   payload,
	})
	metrics.RecordInteraction(kind, name)
	if l.state.config.DebugMode {
		l.logf("interaction kind=%s name=%s payload=%v", kind, name, payload)
	}
}

// Pause stops the loop from pulling new tasks; an in-flight task finishes.
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("command", "pause", nil)
	if l.state.status == StatusRunning {
		l.setStatusLocked(StatusPaused)
	}
}

// Resume releases a paused loop.
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("command", "resume", nil)
	if l.state.status == StatusPaused {
		l.setStatusLocked(StatusRunning)
		l.cond.Broadcast()
	}
}

// Cancel stops the loop from starting new tasks. The in-flight task is
// allowed to finish unless hard is set, which cancels its context.
func (l *Loop) Cancel(hard bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("command", "cancel", map[string]any{"hard": hard})
	if l.state.status != StatusRunning && l.state.status != StatusPaused {
		return
	}
	l.setStatusLocked(StatusCancelled)
	l.cond.Broadcast()
	if hard && l.inflightCancel != nil {
		l.inflightCancel()
	}
}

// Terminate aborts the loop immediately, surfacing reason as an
// unrecoverable failure. No compensation beyond already-queued entries runs.
func (l *Loop) Terminate(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("command", "terminate", map[string]any{"reason": reason})
	if l.state.status.terminal() {
		return
	}
	l.terminateReason = reason
	l.setStatusLocked(StatusTerminated)
	l.cond.Broadcast()
	if l.inflightCancel != nil {
		l.inflightCancel()
	}
	if l.stop != nil && !l.stopped {
		l.stopped = true
		close(l.stop)
	}
}

// SkipTask removes a pending task from the queue, marking it skipped. The
// task keeps an audit trail in the completed sequence.
func (l *Loop) SkipTask(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("command", "skip_task", map[string]any{"id": id})
	t := l.state.removePending(id)
	if t == nil {
		return
	}
	now := time.Now()
	t.Status = task.StatusSkipped
	t.CompletedAt = &now
	l.state.completed = append(l.state.completed, t)
	l.state.metrics.TasksCompleted++
	l.state.metrics.TasksSkipped++
	metrics.RecordTaskSkipped(t.Type)
	metrics.UpdateQueueDepth(len(l.state.pending))
}

// TriggerTask moves a pending task to the head of the queue so it runs next.
func (l *Loop) TriggerTask(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("command", "trigger_task", map[string]any{"id": id})
	if t := l.state.removePending(id); t != nil {
		l.state.pushFront(t)
	}
}

// SetConfiguration replaces the loop configuration.
func (l *Loop) SetConfiguration(cfg Configuration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("command", "set_configuration", map[string]any{
		"retry_policy":    cfg.RetryPolicy,
		"stop_on_failure": cfg.StopOnFailure,
		"validate_tasks":  cfg.ValidateTasks,
	})
	l.state.config = cfg
	if cfg.RetryPolicy != "" {
		l.classifier.OverridePolicy(resilience.CategorySystem, resilience.PolicyByName(cfg.RetryPolicy))
	}
}

// ToggleDebug flips verbose interaction logging.
func (l *Loop) ToggleDebug() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.config.DebugMode = !l.state.config.DebugMode
	l.recordInteractionLocked("command", "toggle_debug", map[string]any{"enabled": l.state.config.DebugMode})
}

// TakeSnapshot records a point-in-time summary in the bounded snapshot ring.
func (l *Loop) TakeSnapshot() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("command", "take_snapshot", nil)
	l.state.snapshots.Append(Snapshot{
		ID:             uuid.New().String(),
		TakenAt:        time.Now(),
		Status:         l.state.status,
		PendingCount:   len(l.state.pending),
		CompletedCount: len(l.state.completed),
		FailedCount:    len(l.state.failed),
		Metrics:        l.state.metrics,
	})
}

// AddTask enqueues a task and returns its assigned id.
func (l *Loop) AddTask(t *task.Task) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	l.recordInteractionLocked("update", "add_task", map[string]any{"id": t.ID, "type": t.Type})
	l.state.pushBack(t)
	metrics.UpdateQueueDepth(len(l.state.pending))
	return t.ID
}

// RemoveTask removes a pending task. Returns false for unknown ids and for
// the in-flight task.
func (l *Loop) RemoveTask(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("update", "remove_task", map[string]any{"id": id})
	t := l.state.removePending(id)
	if t != nil {
		metrics.UpdateQueueDepth(len(l.state.pending))
	}
	return t != nil
}

// ModifyTask applies mutate to a pending task. Returns false when the task
// is not pending.
func (l *Loop) ModifyTask(id string, mutate func(*task.Task)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("update", "modify_task", map[string]any{"id": id})
	for _, t := range l.state.pending {
		if t.ID == id && t.Status == task.StatusPending {
			mutate(t)
			return true
		}
	}
	return false
}

// RescheduleTask moves a pending task to the head or tail of the queue.
func (l *Loop) RescheduleTask(id string, front bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordInteractionLocked("update", "reschedule_task", map[string]any{"id": id, "front": front})
	t := l.state.removePending(id)
	if t == nil {
		return false
	}
	if front {
		l.state.pushFront(t)
	} else {
		l.state.pushBack(t)
	}
	return true
}

// State returns a deep copy of the full control state.
func (l *Loop) State() StateView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.view()
}

// Status returns the current loop status.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.status
}

// Progress returns the percentage of known tasks that reached an outcome.
func (l *Loop) Progress() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	done := len(l.state.completed) + len(l.state.failed)
	total := done + len(l.state.pending)
	if total == 0 {
		if l.state.status.terminal() {
			return 100
		}
		return 0
	}
	return float64(done) / float64(total) * 100
}

// PendingTasks returns a copy of the pending queue in execution order.
func (l *Loop) PendingTasks() []*task.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneTasks(l.state.pending)
}

// CompletedTasks returns a copy of the completed sequence.
func (l *Loop) CompletedTasks() []*task.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneTasks(l.state.completed)
}

// FailedTasks returns a copy of the failed sequence.
func (l *Loop) FailedTasks() []*task.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneTasks(l.state.failed)
}

// TaskByID looks a task up across all three sets.
func (l *Loop) TaskByID(id string) (*task.Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t := l.state.findTask(id); t != nil {
		return t.Clone(), true
	}
	return nil, false
}

// Metrics returns the current run's counters.
func (l *Loop) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.metrics
}

// Configuration returns the live configuration.
func (l *Loop) Configuration() Configuration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.config
}

// InteractionHistory returns the bounded command/update log, oldest first.
func (l *Loop) InteractionHistory() []Interaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.interactions.Items()
}

// Health summarizes the loop and its breaker for liveness checks.
func (l *Loop) Health() HealthSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	done := len(l.state.completed) + len(l.state.failed)
	total := done + len(l.state.pending)
	progress := 0.0
	if total > 0 {
		progress = float64(done) / float64(total) * 100
	} else if l.state.status.terminal() {
		progress = 100
	}
	return HealthSummary{
		Status:         l.state.status,
		PendingCount:   len(l.state.pending),
		CompletedCount: len(l.state.completed),
		FailedCount:    len(l.state.failed),
		ErrorCount:     l.state.errors.Len(),
		BreakerState:   string(l.breaker.State()),
		Progress:       progress,
	}
}
