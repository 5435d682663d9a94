package hub

import (
	"encoding/json"
	"errors"
	"time"
)

// Inbound message types accepted over a connection.
const (
	TypePing            = "ping"
	TypeSubscribeTask   = "subscribe_task"
	TypeUnsubscribeTask = "unsubscribe_task"
	TypeGetStatus       = "get_status"
)

// Outbound message types.
const (
	TypePong          = "pong"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypeTaskStatus    = "task_status"
	TypeTaskUpdate    = "task_update"
	TypeTaskCompleted = "task_completed"
	TypeTaskError     = "task_error"
	TypeError         = "error"
)

// Message is the JSON envelope exchanged over a connection.
type Message struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type inboundMessage struct {
	Type string `json:"type"`
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// HandleInbound processes one raw payload from connID and sends the
// reply over the same connection. Malformed payloads and unknown types
// produce an error reply; the connection stays open.
func (h *Hub) HandleInbound(connID string, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(connID, "invalid JSON format")
		return
	}

	switch msg.Type {
	case TypePing:
		h.send(connID, h.newMessage(TypePong, map[string]any{
			"message": "server is alive",
		}))
	case TypeSubscribeTask:
		if msg.Data.TaskID == "" {
			h.sendError(connID, "task_id is required")
			return
		}
		h.Subscribe(connID, msg.Data.TaskID)
		h.send(connID, h.newMessage(TypeSubscribed, map[string]any{
			"task_id": msg.Data.TaskID,
		}))
	case TypeUnsubscribeTask:
		if msg.Data.TaskID == "" {
			h.sendError(connID, "task_id is required")
			return
		}
		h.Unsubscribe(connID, msg.Data.TaskID)
		h.send(connID, h.newMessage(TypeUnsubscribed, map[string]any{
			"task_id": msg.Data.TaskID,
		}))
	case TypeGetStatus:
		h.handleGetStatus(connID, msg.Data.TaskID)
	default:
		h.sendError(connID, "unknown message type: "+msg.Type)
	}
}

func (h *Hub) handleGetStatus(connID, taskID string) {
	if taskID == "" {
		h.sendError(connID, "task_id is required")
		return
	}
	task, err := h.tasks.Get(taskID)
	if err != nil {
		h.sendError(connID, "task "+taskID+" not found")
		return
	}
	h.send(connID, h.newMessage(TypeTaskStatus, map[string]any{
		"task_id":    task.ID,
		"status":     task.Status,
		"progress":   task.Progress,
		"updated_at": task.UpdatedAt,
	}))
}

func (h *Hub) sendError(connID, text string) {
	h.send(connID, h.newMessage(TypeError, map[string]any{
		"message": text,
	}))
}

func (h *Hub) newMessage(msgType string, data map[string]any) Message {
	return Message{
		Type:      msgType,
		Data:      data,
		Timestamp: h.clock.Now(),
	}
}

// ErrConnClosed should be returned by Conn.Send once the peer is gone
// so the hub evicts the connection instead of retrying it.
var ErrConnClosed = errors.New("connection closed")
