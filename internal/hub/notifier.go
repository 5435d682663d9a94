package hub

import (
	"github.com/asandberg/crawltask/internal/crawl"
)

// The hub doubles as the executor's Notifier capability, so the
// executor only ever sees the narrow crawl.Notifier interface.
var _ crawl.Notifier = (*Hub)(nil)

// TaskUpdated broadcasts a status/progress delta to the task's
// subscribers.
func (h *Hub) TaskUpdated(task crawl.Task) {
	h.Publish(task.ID, h.newMessage(TypeTaskUpdate, map[string]any{
		"task_id":    task.ID,
		"status":     task.Status,
		"progress":   task.Progress,
		"updated_at": task.UpdatedAt,
	}))
}

// TaskCompleted broadcasts the terminal result to the task's
// subscribers.
func (h *Hub) TaskCompleted(task crawl.Task) {
	data := map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
	}
	if task.Result != nil {
		data["result"] = task.Result.Clone()
	}
	h.Publish(task.ID, h.newMessage(TypeTaskCompleted, data))
}

// TaskFailed broadcasts the failure message to the task's subscribers.
func (h *Hub) TaskFailed(task crawl.Task) {
	data := map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
	}
	if task.Error != nil {
		data["error"] = task.Error.Message
		data["kind"] = task.Error.Kind
	}
	h.Publish(task.ID, h.newMessage(TypeTaskError, data))
}
