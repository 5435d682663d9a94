// Package hub manages live subscriber connections and fans task
// lifecycle events out to them. Delivery is best-effort and isolated
// per connection: a failing send evicts that connection and never
// blocks delivery to the rest, and nothing in here can fail task
// execution.
package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/asandberg/crawltask/internal/crawl"
	"github.com/asandberg/crawltask/internal/metrics"
)

// Conn is one persistent bidirectional channel to a subscriber. Send
// must be safe for concurrent use and should fail fast on a dead peer.
type Conn interface {
	Send(msg Message) error
}

// TaskReader is the narrow registry capability the hub needs to answer
// get_status requests.
type TaskReader interface {
	Get(id string) (crawl.Task, error)
}

// Hub tracks connections and per-task subscriber sets. The subscription
// table is a pure lookup relation: dropping a connection purges its
// entries everywhere, and a task's entry disappears with its last
// subscriber.
type Hub struct {
	mu    sync.Mutex
	conns map[string]Conn
	subs  map[string]map[string]struct{} // task id -> set of conn ids

	tasks  TaskReader
	idGen  crawl.IDGenerator
	clock  crawl.Clock
	logger *zap.Logger
}

// New constructs a Hub.
func New(tasks TaskReader, idGen crawl.IDGenerator, clock crawl.Clock, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]Conn),
		subs:   make(map[string]map[string]struct{}),
		tasks:  tasks,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}
}

// Connect registers conn and returns its session-scoped id.
func (h *Hub) Connect(conn Conn) (string, error) {
	id, err := h.idGen.NewID()
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()

	metrics.IncWSConnections()
	h.logger.Debug("client connected", zap.String("conn_id", id))
	return id, nil
}

// Disconnect removes the connection and purges it from every task's
// subscriber set. Unknown ids are a no-op.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	_, existed := h.conns[connID]
	delete(h.conns, connID)
	for taskID, set := range h.subs {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.subs, taskID)
		}
	}
	h.mu.Unlock()

	if existed {
		metrics.DecWSConnections()
		h.logger.Debug("client disconnected", zap.String("conn_id", connID))
	}
}

// Subscribe registers connID for events about taskID. Idempotent.
func (h *Hub) Subscribe(connID, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[string]struct{})
		h.subs[taskID] = set
	}
	set[connID] = struct{}{}
}

// Unsubscribe removes the pair; unsubscribing a non-subscribed pair is
// a no-op.
func (h *Hub) Unsubscribe(connID, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[taskID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(h.subs, taskID)
	}
}

// SubscriberCount returns how many connections follow taskID.
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}

// Publish delivers msg to every connection subscribed to taskID at the
// moment of the call. Failed sends evict the offending connection and
// do not affect delivery to the rest.
func (h *Hub) Publish(taskID string, msg Message) {
	type target struct {
		id   string
		conn Conn
	}
	h.mu.Lock()
	targets := make([]target, 0, len(h.subs[taskID]))
	for connID := range h.subs[taskID] {
		if conn, ok := h.conns[connID]; ok {
			targets = append(targets, target{id: connID, conn: conn})
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		if err := t.conn.Send(msg); err != nil {
			h.logger.Warn("send failed, evicting connection",
				zap.String("conn_id", t.id),
				zap.Error(err),
			)
			h.Disconnect(t.id)
		}
	}
}

// send delivers a direct (non-broadcast) reply to one connection.
func (h *Hub) send(connID string, msg Message) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := conn.Send(msg); err != nil {
		h.logger.Warn("send failed, evicting connection",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		h.Disconnect(connID)
	}
}
