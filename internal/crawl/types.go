// Package crawl defines core types shared across subsystems.
package crawl

import (
	"time"
)

// Status represents the lifecycle state of a crawl task.
type Status string

// Task status values held in the registry.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a recognized status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the metadata tracked for each submitted crawl request. The
// Config snapshot is immutable once the task is created; Result is
// present iff Status is completed, Error iff Status is failed.
type Task struct {
	ID          string     `json:"task_id"`
	URL         string     `json:"url"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	Config      Config     `json:"config"`
	Result      *Result    `json:"result,omitempty"`
	Error       *TaskError `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so registry readers never alias live state.
func (t *Task) Clone() Task {
	cp := *t
	if t.Result != nil {
		r := t.Result.Clone()
		cp.Result = &r
	}
	if t.Error != nil {
		e := *t.Error
		if t.Error.Details != nil {
			e.Details = make(map[string]any, len(t.Error.Details))
			for k, v := range t.Error.Details {
				e.Details[k] = v
			}
		}
		cp.Error = &e
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	cp.Config = t.Config.Clone()
	return cp
}

// ErrorKind classifies a task failure for clients and dashboards.
type ErrorKind string

// Failure classifications recorded on failed tasks.
const (
	ErrKindEngine   ErrorKind = "engine"
	ErrKindNetwork  ErrorKind = "network"
	ErrKindTimeout  ErrorKind = "timeout"
	ErrKindInternal ErrorKind = "internal"
)

// TaskError captures why a task failed. Message is human-readable,
// Details carries diagnostic context such as the underlying error chain.
type TaskError struct {
	Message string         `json:"message"`
	Kind    ErrorKind      `json:"kind"`
	Details map[string]any `json:"details,omitempty"`
}

// Stats aggregates registry-wide task counts for the stats endpoint.
type Stats struct {
	Total             int     `json:"total"`
	Pending           int     `json:"pending"`
	Running           int     `json:"running"`
	Completed         int     `json:"completed"`
	Failed            int     `json:"failed"`
	Cancelled         int     `json:"cancelled"`
	SuccessRate       float64 `json:"success_rate"`
	AvgCompletionSecs float64 `json:"avg_completion_seconds"`
	RecentActivity    int     `json:"recent_activity"`
}
