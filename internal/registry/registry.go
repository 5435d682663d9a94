// Package registry implements the concurrency-safe task store. It is
// the single piece of mutable shared state in the core: every status,
// progress, result, and error change funnels through Update, which
// serializes mutations so task invariants hold at every observable
// point. State is process-lifetime only; terminal tasks are retained
// indefinitely.
package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asandberg/crawltask/internal/crawl"
)

const (
	// DefaultLimit applies when a list caller passes limit <= 0.
	DefaultLimit = 50
	// MaxLimit caps a single list page.
	MaxLimit = 500

	recentWindow = time.Hour
)

// Registry stores task records keyed by ID and preserves submission
// order for listing.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*crawl.Task
	order []string

	idGen  crawl.IDGenerator
	clock  crawl.Clock
	logger *zap.Logger
}

// New constructs an empty Registry.
func New(idGen crawl.IDGenerator, clock crawl.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tasks:  make(map[string]*crawl.Task),
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}
}

// Submit creates a new pending task with progress 0 and returns its
// snapshot. The config is snapshotted so later caller mutations of the
// request cannot leak into the record.
func (r *Registry) Submit(url string, cfg crawl.Config) (crawl.Task, error) {
	id, err := r.idGen.NewID()
	if err != nil {
		return crawl.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	now := r.clock.Now()
	task := &crawl.Task{
		ID:        id,
		URL:       url,
		Status:    crawl.StatusPending,
		Progress:  0,
		Config:    cfg.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.tasks[id] = task
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.logger.Debug("task submitted", zap.String("task_id", id), zap.String("url", url))
	return task.Clone(), nil
}

// Get returns a snapshot of the task or crawl.ErrNotFound.
func (r *Registry) Get(id string) (crawl.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	if !ok {
		return crawl.Task{}, crawl.ErrNotFound
	}
	return task.Clone(), nil
}

// List returns a page of task snapshots ordered by creation time, most
// recent first, optionally filtered by status. The second return value
// approximates "has more" as (page length == limit): true whenever more
// items exist, but also exactly at the boundary where the filtered set
// ends on a page edge. Callers relying on exact paging must count.
func (r *Registry) List(status *crawl.Status, limit, offset int) ([]crawl.Task, bool) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	page := make([]crawl.Task, 0, limit)
	skipped := 0
	for i := len(r.order) - 1; i >= 0 && len(page) < limit; i-- {
		task := r.tasks[r.order[i]]
		if status != nil && task.Status != *status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		page = append(page, task.Clone())
	}
	return page, len(page) == limit
}

// Update applies mutate to the task under the registry lock. Concurrent
// updates against the same ID never interleave. Mutating a terminal
// task is refused with crawl.ErrInvalidState; the executor's
// cancellation checkpoints are exactly these refusals. Identity, the
// creation timestamp, and the config snapshot cannot be changed, and
// progress never decreases. The post-mutation snapshot is returned.
func (r *Registry) Update(id string, mutate func(*crawl.Task)) (crawl.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return crawl.Task{}, crawl.ErrNotFound
	}
	if task.Status.Terminal() {
		return task.Clone(), fmt.Errorf("%w: task %s is %s", crawl.ErrInvalidState, id, task.Status)
	}

	created := task.CreatedAt
	cfg := task.Config
	progress := task.Progress

	mutate(task)

	task.ID = id
	task.CreatedAt = created
	task.Config = cfg
	if task.Progress < progress {
		task.Progress = progress
	}
	task.UpdatedAt = r.clock.Now()
	if task.Status.Terminal() && task.CompletedAt == nil {
		now := task.UpdatedAt
		task.CompletedAt = &now
	}
	return task.Clone(), nil
}

// Cancel transitions a pending or running task to cancelled and stamps
// its completion time. It returns false, mutating nothing, when the
// task is unknown or already terminal.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok || task.Status.Terminal() {
		return false
	}
	now := r.clock.Now()
	task.Status = crawl.StatusCancelled
	task.UpdatedAt = now
	task.CompletedAt = &now
	r.logger.Info("task cancelled", zap.String("task_id", id))
	return true
}

// Stats aggregates counts by status, the completed/failed success rate,
// the mean completion time of completed tasks, and the number of tasks
// created within the last hour.
func (r *Registry) Stats() crawl.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()
	stats := crawl.Stats{Total: len(r.tasks)}
	var completionSum time.Duration
	for _, task := range r.tasks {
		switch task.Status {
		case crawl.StatusPending:
			stats.Pending++
		case crawl.StatusRunning:
			stats.Running++
		case crawl.StatusCompleted:
			stats.Completed++
			if task.CompletedAt != nil {
				completionSum += task.CompletedAt.Sub(task.CreatedAt)
			}
		case crawl.StatusFailed:
			stats.Failed++
		case crawl.StatusCancelled:
			stats.Cancelled++
		}
		if now.Sub(task.CreatedAt) <= recentWindow {
			stats.RecentActivity++
		}
	}
	if terminal := stats.Completed + stats.Failed; terminal > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(terminal)
	}
	if stats.Completed > 0 {
		stats.AvgCompletionSecs = completionSum.Seconds() / float64(stats.Completed)
	}
	return stats
}
