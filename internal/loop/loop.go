// Package loop implements the dynamic task-orchestration control loop: a
// mutable pending queue executed one task at a time, a command/query/update
// surface applied atomically between loop steps, and resilience policies
// (retry classification, circuit breaking, compensation) around each call.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nadmax/conductor/internal/breaker"
	"github.com/nadmax/conductor/internal/compensation"
	"github.com/nadmax/conductor/internal/metrics"
	"github.com/nadmax/conductor/internal/resilience"
	"github.com/nadmax/conductor/internal/task"
)

var (
	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("loop already started")
	// ErrTerminated is the failure surfaced for a task aborted by terminate.
	ErrTerminated = errors.New("loop terminated")
)

// Operation executes the external call for one task type. Operations must
// honor ctx cancellation and treat the task as read-only.
type Operation func(ctx context.Context, t *task.Task) error

// Options are the loop's constructor-injected collaborators. Nil fields get
// defaults; collaborators are never shared implicitly between loop instances.
type Options struct {
	Classifier  *resilience.Classifier
	Breaker     *breaker.Breaker
	Saga        *compensation.Manager
	Checkpoints CheckpointStore
	Logger      *log.Logger
}

// Loop owns the control state. All mutation happens under one mutex; the
// loop releases it only at its await points (external call, compensation
// unwind, inter-task delay), which is where external interactions interleave.
type Loop struct {
	mu   sync.Mutex
	cond *sync.Cond

	state      *controlState
	operations map[string]Operation

	classifier  *resilience.Classifier
	breaker     *breaker.Breaker
	saga        *compensation.Manager
	checkpoints CheckpointStore
	logger      *log.Logger

	inflightCancel  context.CancelFunc
	stop            chan struct{}
	stopped         bool
	terminateReason string
}

func New(cfg Configuration, opts Options) *Loop {
	if opts.Classifier == nil {
		opts.Classifier = resilience.NewClassifier()
	}
	if opts.Breaker == nil {
		opts.Breaker = breaker.New(5, 30*time.Second)
	}
	if opts.Saga == nil {
		opts.Saga = compensation.NewManager()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if cfg.RetryPolicy != "" {
		opts.Classifier.OverridePolicy(resilience.CategorySystem, resilience.PolicyByName(cfg.RetryPolicy))
	}

	l := &Loop{
		state:       newControlState(cfg),
		operations:  make(map[string]Operation),
		classifier:  opts.Classifier,
		breaker:     opts.Breaker,
		saga:        opts.Saga,
		checkpoints: opts.Checkpoints,
		logger:      opts.Logger,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// RegisterOperation binds an operation to a task type. Must be called
// before Run.
func (l *Loop) RegisterOperation(taskType string, op Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.operations[taskType] = op
}

// Compensations exposes this run's saga ledger so operations can queue
// rollback actions as their forward steps succeed.
func (l *Loop) Compensations() *compensation.Manager {
	return l.saga
}

// Run executes the loop until the pending queue drains, a terminal command
// arrives, or the continuation threshold is reached. It returns the terminal
// result; the error is non-nil only for loop-level failures.
func (l *Loop) Run(ctx context.Context) (res *Result, err error) {
	l.mu.Lock()
	if l.state.status != StatusInitializing {
		l.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	l.stop = make(chan struct{})
	l.setStatusLocked(StatusRunning)
	l.mu.Unlock()

	// Host context cancellation is a soft cancel: stop pulling new tasks.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			if l.state.status == StatusRunning || l.state.status == StatusPaused {
				l.setStatusLocked(StatusCancelled)
				l.cond.Broadcast()
			}
			l.mu.Unlock()
		case <-watchDone:
		}
	}()

	// A panic inside the loop body is a loop-level failure, not a task failure.
	defer func() {
		if r := recover(); r != nil {
			l.mu.Lock()
			l.setStatusLocked(StatusFailed)
			l.state.errors.Append(ErrorRecord{
				Category:   "loop",
				Message:    fmt.Sprint(r),
				OccurredAt: time.Now(),
			})
			res = l.resultLocked()
			l.mu.Unlock()
			err = fmt.Errorf("loop failure: %v", r)
		}
	}()

	l.mu.Lock()
	for {
		for l.state.status == StatusPaused {
			l.cond.Wait()
		}
		if l.state.status != StatusRunning {
			break
		}
		if len(l.state.pending) == 0 {
			if l.state.metrics.TasksFailed > 0 {
				l.setStatusLocked(StatusCompletedWithFailures)
			} else {
				l.setStatusLocked(StatusCompleted)
			}
			break
		}

		t := l.state.pending[0]
		t.Status = task.StatusInFlight
		started := time.Now()
		t.StartedAt = &started
		l.state.metrics.TasksStarted++
		metrics.RecordTaskStarted(t.Type)
		l.logf("task_started id=%s type=%s", t.ID, t.Type)

		var execErr error
		if l.state.config.ValidateTasks {
			if verr := t.Validate(); verr != nil {
				execErr = resilience.NewCategoryError(resilience.CategoryValidation, verr)
			}
		}
		if execErr == nil {
			op, ok := l.operations[t.Type]
			if !ok {
				execErr = resilience.NewCategoryError(resilience.CategoryValidation,
					fmt.Errorf("no operation registered for type %q", t.Type))
			} else {
				l.mu.Unlock()
				execErr = l.invoke(ctx, t, op)
				l.mu.Lock()
			}
		}

		if l.state.status == StatusTerminated {
			break
		}

		finished := time.Now()
		t.CompletedAt = &finished
		duration := finished.Sub(started)
		l.state.pending = append([]*task.Task(nil), l.state.pending[1:]...)

		if execErr != nil {
			category := l.classifier.Classify(execErr).Category
			t.Status = task.StatusFailed
			t.Error = execErr.Error()
			l.state.failed = append(l.state.failed, t)
			l.state.metrics.TasksFailed++
			l.state.metrics.recordOutcome(duration)
			l.state.errors.Append(ErrorRecord{
				TaskID:     t.ID,
				Category:   string(category),
				Message:    execErr.Error(),
				OccurredAt: finished,
			})
			metrics.RecordTaskFailed(t.Type, string(category), duration)
			l.logf("task_failed id=%s category=%s error=%v", t.ID, category, execErr)

			if l.saga.Len() > 0 {
				l.mu.Unlock()
				l.unwind(ctx)
				l.mu.Lock()
				if l.state.status == StatusTerminated {
					break
				}
			}
			if l.state.config.StopOnFailure {
				l.setStatusLocked(StatusFailed)
				break
			}
		} else {
			t.Status = task.StatusCompleted
			l.state.completed = append(l.state.completed, t)
			l.state.metrics.TasksCompleted++
			l.state.metrics.recordOutcome(duration)
			metrics.RecordTaskCompleted(t.Type, duration)
			l.logf("task_completed id=%s duration=%s", t.ID, duration)

			threshold := l.state.config.ContinuationThreshold
			if threshold > 0 && l.state.metrics.TasksCompleted%threshold == 0 && len(l.state.pending) > 0 {
				return l.continueAsNew(ctx)
			}
		}

		metrics.UpdateQueueDepth(len(l.state.pending))
		metrics.UpdateBreakerState(string(l.breaker.State()))

		if interval := l.state.config.ScheduleInterval; interval > 0 && l.state.status == StatusRunning {
			l.mu.Unlock()
			l.sleep(ctx, interval)
			l.mu.Lock()
		}
	}

	res = l.resultLocked()
	l.mu.Unlock()
	return res, nil
}

// invoke runs the external call for one task through the classifier's retry
// policy and the circuit breaker. Called without the loop mutex held; this
// is the loop's main await point.
func (l *Loop) invoke(ctx context.Context, t *task.Task, op Operation) error {
	l.mu.Lock()
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = l.state.config.DefaultTimeout
	}
	stop := l.stop
	l.mu.Unlock()

	var callCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	l.mu.Lock()
	l.inflightCancel = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.inflightCancel = nil
		l.mu.Unlock()
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		done <- l.classifier.Execute(callCtx, func(c context.Context) error {
			l.mu.Lock()
			t.Attempts++
			retry := t.Attempts > 1
			l.mu.Unlock()
			if retry {
				metrics.RecordTaskRetried(t.Type)
			}
			return l.breaker.Call(c, func(c context.Context) error {
				return op(c, t)
			})
		})
	}()

	select {
	case err := <-done:
		return err
	case <-stop:
		cancel()
		return ErrTerminated
	}
}

// unwind executes queued compensations in reverse order after an
// unrecoverable task failure. Called without the loop mutex held.
func (l *Loop) unwind(ctx context.Context) {
	err := l.saga.Execute(ctx)
	metrics.RecordCompensationRun(err != nil)
	if err != nil {
		l.mu.Lock()
		l.state.errors.Append(ErrorRecord{
			Category:   "compensation",
			Message:    err.Error(),
			OccurredAt: time.Now(),
		})
		l.mu.Unlock()
		l.logf("compensation_failed error=%v", err)
	}
}

// continueAsNew ends the current run with a checkpoint carrying the minimal
// resume state, discarding accumulated history. Called with the mutex held.
func (l *Loop) continueAsNew(ctx context.Context) (*Result, error) {
	cp := &Checkpoint{
		ID:           newCheckpointID(),
		TakenAt:      time.Now(),
		Pending:      cloneTasks(l.state.pending),
		Config:       l.state.config,
		CarryMetrics: addMetrics(l.state.carried, l.state.metrics),
	}
	metrics.RecordContinuation()
	l.logf("continuation id=%s remaining=%d", cp.ID, len(cp.Pending))

	res := l.resultLocked()
	res.Continuation = cp
	l.mu.Unlock()

	if l.checkpoints != nil {
		if err := l.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
			l.logf("checkpoint_save_failed id=%s error=%v", cp.ID, err)
		}
	}
	return res, nil
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	l.mu.Lock()
	stop := l.stop
	l.mu.Unlock()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-stop:
	}
}

func (l *Loop) setStatusLocked(s Status) {
	if l.state.status == s {
		return
	}
	l.logf("status_changed from=%s to=%s", l.state.status, s)
	l.state.status = s
	metrics.UpdateLoopStatus(string(s))
}

func (l *Loop) resultLocked() *Result {
	return &Result{
		Status:          l.state.status,
		Completed:       cloneTasks(l.state.completed),
		Metrics:         addMetrics(l.state.carried, l.state.metrics),
		TerminateReason: l.terminateReason,
	}
}

func (l *Loop) logf(format string, args ...any) {
	l.logger.Printf("loop: "+format, args...)
}
