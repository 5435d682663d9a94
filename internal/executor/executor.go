// Package executor drives tasks through the crawl lifecycle. Execution
// is dispatched as background work with an explicit join handle; engine
// failures are captured onto the task record and never propagated to
// the dispatcher.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asandberg/crawltask/internal/crawl"
	"github.com/asandberg/crawltask/internal/metrics"
	"github.com/asandberg/crawltask/internal/registry"
)

// Config controls Executor behavior.
type Config struct {
	// MaxConcurrent bounds simultaneously executing tasks; zero or
	// negative disables the gate. Tasks waiting for a slot stay Pending.
	MaxConcurrent int
	// MaxTaskDuration bounds the engine call per task; zero disables.
	MaxTaskDuration time.Duration
}

// Executor runs tasks against the crawl engine, reporting progress
// checkpoints through the registry and lifecycle events through the
// notifier.
type Executor struct {
	registry *registry.Registry
	engine   crawl.Engine
	notifier crawl.Notifier
	clock    crawl.Clock
	cfg      Config
	logger   *zap.Logger

	sem        chan struct{}
	executions sync.Map // task id -> *Execution
}

// Execution is the join handle for one dispatched task. Done is closed
// once the task has reached a terminal state (or execution was skipped
// because the task was cancelled first).
type Execution struct {
	taskID string
	done   chan struct{}
}

// TaskID returns the id of the task this execution belongs to.
func (e *Execution) TaskID() string { return e.taskID }

// Done returns a channel closed when execution has finished.
func (e *Execution) Done() <-chan struct{} { return e.done }

// New constructs an Executor.
func New(
	reg *registry.Registry,
	engine crawl.Engine,
	notifier crawl.Notifier,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if notifier == nil {
		notifier = crawl.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var sem chan struct{}
	if cfg.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return &Executor{
		registry: reg,
		engine:   engine,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		sem:      sem,
	}
}

// Dispatch starts background execution for the task and returns its
// join handle. Dispatching the same id again returns the original
// handle without starting a second execution.
func (e *Executor) Dispatch(ctx context.Context, taskID string) *Execution {
	exec := &Execution{taskID: taskID, done: make(chan struct{})}
	if actual, loaded := e.executions.LoadOrStore(taskID, exec); loaded {
		existing, ok := actual.(*Execution)
		if ok {
			e.logger.Warn("duplicate dispatch ignored", zap.String("task_id", taskID))
			return existing
		}
	}
	go e.run(ctx, exec)
	return exec
}

func (e *Executor) run(ctx context.Context, exec *Execution) {
	defer close(exec.done)

	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			e.registry.Cancel(exec.taskID)
			return
		}
	}

	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()
	e.execute(ctx, exec.taskID)
}

// execute walks the state machine Pending -> Running -> terminal. Each
// registry.Update doubles as a cancellation checkpoint: once a task is
// Cancelled the update fails with crawl.ErrInvalidState and execution
// exits without overwriting status, progress, or result.
func (e *Executor) execute(ctx context.Context, taskID string) {
	task, err := e.registry.Get(taskID)
	if err != nil {
		e.logger.Error("dispatched unknown task", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	snap, err := e.registry.Update(taskID, func(t *crawl.Task) {
		t.Status = crawl.StatusRunning
		t.Progress = 0.1
	})
	if err != nil {
		return
	}
	e.notifier.TaskUpdated(snap)

	// Engine handle confirmed; the engine itself is constructed up
	// front, so this checkpoint only reports readiness.
	snap, err = e.registry.Update(taskID, func(t *crawl.Task) {
		t.Progress = 0.3
	})
	if err != nil {
		return
	}
	e.notifier.TaskUpdated(snap)

	engineCtx := ctx
	if e.cfg.MaxTaskDuration > 0 {
		var cancel context.CancelFunc
		engineCtx, cancel = context.WithTimeout(ctx, e.cfg.MaxTaskDuration)
		defer cancel()
	}

	start := e.clock.Now()
	raw, crawlErr := e.engine.Crawl(engineCtx, task.URL, task.Config)
	elapsed := e.clock.Now().Sub(start)

	if crawlErr != nil {
		e.fail(taskID, crawlErr, elapsed)
		return
	}

	snap, err = e.registry.Update(taskID, func(t *crawl.Task) {
		t.Progress = 0.8
	})
	if err != nil {
		return
	}
	e.notifier.TaskUpdated(snap)

	result := crawl.Normalize(raw, task.URL, elapsed)
	snap, err = e.registry.Update(taskID, func(t *crawl.Task) {
		t.Status = crawl.StatusCompleted
		t.Progress = 1.0
		t.Result = &result
	})
	if err != nil {
		return
	}
	metrics.ObserveTask(string(crawl.StatusCompleted), elapsed)
	e.notifier.TaskCompleted(snap)
	e.logger.Info("task completed",
		zap.String("task_id", taskID),
		zap.Duration("crawl_time", elapsed),
	)
}

func (e *Executor) fail(taskID string, cause error, elapsed time.Duration) {
	taskErr := &crawl.TaskError{
		Message: cause.Error(),
		Kind:    classify(cause),
		Details: map[string]any{
			"error_type": fmt.Sprintf("%T", cause),
		},
	}
	snap, err := e.registry.Update(taskID, func(t *crawl.Task) {
		t.Status = crawl.StatusFailed
		t.Error = taskErr
	})
	if err != nil {
		// Already cancelled; the failure is not recorded over it.
		return
	}
	metrics.ObserveTask(string(crawl.StatusFailed), elapsed)
	e.notifier.TaskFailed(snap)
	e.logger.Warn("task failed",
		zap.String("task_id", taskID),
		zap.String("kind", string(taskErr.Kind)),
		zap.Error(cause),
	)
}

func classify(err error) crawl.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return crawl.ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return crawl.ErrKindTimeout
		}
		return crawl.ErrKindNetwork
	}
	return crawl.ErrKindEngine
}
