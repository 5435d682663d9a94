package crawl

import (
	"context"
	"time"
)

// Engine performs the actual page retrieval and extraction. It may block
// for seconds to minutes and may fail; implementations must honor ctx.
type Engine interface {
	Crawl(ctx context.Context, url string, cfg Config) (RawResult, error)
}

// Notifier is the narrow capability the executor uses to announce task
// lifecycle events. Implementations must never block task execution; a
// dead notification channel is tolerated, not fatal.
type Notifier interface {
	TaskUpdated(task Task)
	TaskCompleted(task Task)
	TaskFailed(task Task)
}

// NopNotifier discards all events. Useful for tests and for running
// without a live subscription hub.
type NopNotifier struct{}

// TaskUpdated implements Notifier.
func (NopNotifier) TaskUpdated(Task) {}

// TaskCompleted implements Notifier.
func (NopNotifier) TaskCompleted(Task) {}

// TaskFailed implements Notifier.
func (NopNotifier) TaskFailed(Task) {}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and connection IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
