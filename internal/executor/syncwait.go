package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/asandberg/crawltask/internal/crawl"
)

// Bounds every synchronous wait is clamped to, regardless of what the
// caller asked for.
const (
	MinSyncWait = 5 * time.Second
	MaxSyncWait = 300 * time.Second
)

// ClampSyncTimeout forces timeout into [MinSyncWait, MaxSyncWait].
func ClampSyncTimeout(timeout time.Duration) time.Duration {
	if timeout < MinSyncWait {
		return MinSyncWait
	}
	if timeout > MaxSyncWait {
		return MaxSyncWait
	}
	return timeout
}

// SubmitAndWait submits a task, dispatches it, and blocks the caller
// until the task reaches a terminal state or the (clamped) timeout
// elapses. On timeout the task is cancelled and crawl.ErrTimeout is
// returned alongside the snapshot; if the executor's terminal
// transition committed first, that state wins and is returned without
// error.
func (e *Executor) SubmitAndWait(
	ctx context.Context,
	url string,
	cfg crawl.Config,
	timeout time.Duration,
) (crawl.Task, error) {
	timeout = ClampSyncTimeout(timeout)

	task, err := e.registry.Submit(url, cfg)
	if err != nil {
		return crawl.Task{}, fmt.Errorf("submit task: %w", err)
	}
	exec := e.Dispatch(ctx, task.ID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exec.Done():
		return e.registry.Get(task.ID)
	case <-timer.C:
		if !e.registry.Cancel(task.ID) {
			// Terminal transition won the race against the timeout.
			return e.registry.Get(task.ID)
		}
		snap, getErr := e.registry.Get(task.ID)
		if getErr != nil {
			return crawl.Task{}, getErr
		}
		return snap, fmt.Errorf("task %s: %w", task.ID, crawl.ErrTimeout)
	case <-ctx.Done():
		e.registry.Cancel(task.ID)
		snap, _ := e.registry.Get(task.ID)
		return snap, fmt.Errorf("sync wait: %w", ctx.Err())
	}
}
