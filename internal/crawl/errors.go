package crawl

import "errors"

// Sentinel errors surfaced synchronously by registry and API operations.
// Engine failures are never returned through these; they are captured
// onto the task record instead.
var (
	// ErrValidation marks malformed input rejected before a task exists.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown task or missing result.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidState marks an operation not valid for the task's
	// current status, including any mutation of a terminal task.
	ErrInvalidState = errors.New("invalid task state")
	// ErrTimeout marks a synchronous wait that exceeded its bound.
	ErrTimeout = errors.New("wait timed out")
)
