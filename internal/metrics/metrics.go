// Package metrics provides Prometheus metrics for monitoring the orchestration loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_tasks_started_total",
			Help: "Total number of tasks pulled from the pending queue",
		},
		[]string{"type"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		},
		[]string{"type"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_tasks_failed_total",
			Help: "Total number of tasks that failed after retries",
		},
		[]string{"type", "category"},
	)
	TasksRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_tasks_retried_total",
			Help: "Total number of retry attempts beyond the first",
		},
		[]string{"type"},
	)
	TasksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_tasks_skipped_total",
			Help: "Total number of tasks skipped by command",
		},
		[]string{"type"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type", "status"},
	)
	LoopStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conductor_loop_status",
			Help: "Current loop status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"},
	)
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_queue_depth",
			Help: "Current number of pending tasks",
		},
	)
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)
	CompensationsExecuted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conductor_compensations_executed_total",
			Help: "Total number of compensation unwind passes",
		},
	)
	CompensationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conductor_compensations_failed_total",
			Help: "Total number of unwind passes with at least one failed rollback",
		},
	)
	Continuations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conductor_continuations_total",
			Help: "Total number of history-bound continuations",
		},
	)
	Interactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_interactions_total",
			Help: "Total number of external interactions by kind",
		},
		[]string{"kind", "name"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

var loopStatuses = []string{
	"initializing", "running", "paused", "cancelled", "terminated",
	"completed", "completed_with_failures", "failed",
}

func RecordTaskStarted(taskType string) {
	TasksStarted.WithLabelValues(taskType).Inc()
}

func RecordTaskCompleted(taskType string, duration time.Duration) {
	TasksCompleted.WithLabelValues(taskType).Inc()
	TaskDuration.WithLabelValues(taskType, "completed").Observe(duration.Seconds())
}

func RecordTaskFailed(taskType, category string, duration time.Duration) {
	TasksFailed.WithLabelValues(taskType, category).Inc()
	TaskDuration.WithLabelValues(taskType, "failed").Observe(duration.Seconds())
}

func RecordTaskRetried(taskType string) {
	TasksRetried.WithLabelValues(taskType).Inc()
}

func RecordTaskSkipped(taskType string) {
	TasksSkipped.WithLabelValues(taskType).Inc()
}

func RecordInteraction(kind, name string) {
	Interactions.WithLabelValues(kind, name).Inc()
}

func RecordCompensationRun(failed bool) {
	CompensationsExecuted.Inc()
	if failed {
		CompensationsFailed.Inc()
	}
}

func RecordContinuation() {
	Continuations.Inc()
}

func UpdateLoopStatus(status string) {
	for _, s := range loopStatuses {
		v := 0.0
		if s == status {
			v = 1.0
		}
		LoopStatus.WithLabelValues(s).Set(v)
	}
}

func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

func UpdateBreakerState(state string) {
	v := 0.0
	switch state {
	case "half_open":
		v = 1.0
	case "open":
		v = 2.0
	}
	BreakerState.Set(v)
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
