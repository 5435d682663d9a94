package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asandberg/crawltask/internal/crawl"
)

type fakeIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("conn-%03d", g.next), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeTaskReader struct {
	mu    sync.Mutex
	tasks map[string]crawl.Task
}

func newFakeTaskReader() *fakeTaskReader {
	return &fakeTaskReader{tasks: make(map[string]crawl.Task)}
}

func (r *fakeTaskReader) Get(id string) (crawl.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return crawl.Task{}, crawl.ErrNotFound
	}
	return task, nil
}

type fakeConn struct {
	mu      sync.Mutex
	sent    []Message
	sendErr error
}

func (c *fakeConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

func newTestHub() (*Hub, *fakeTaskReader) {
	tasks := newFakeTaskReader()
	return New(tasks, &fakeIDGen{}, &fakeClock{now: time.Unix(1000, 0).UTC()}, nil), tasks
}

func TestHub_Publish_AllSubscribersGetIdenticalPayload(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	connA, connB := &fakeConn{}, &fakeConn{}
	idA, err := h.Connect(connA)
	require.NoError(t, err)
	idB, err := h.Connect(connB)
	require.NoError(t, err)

	h.Subscribe(idA, "task-1")
	h.Subscribe(idB, "task-1")

	msg := Message{Type: TypeTaskUpdate, Data: map[string]any{"task_id": "task-1", "progress": 0.3}}
	h.Publish("task-1", msg)

	gotA, gotB := connA.messages(), connB.messages()
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	require.Equal(t, gotA[0], gotB[0])
	require.Equal(t, TypeTaskUpdate, gotA[0].Type)
}

func TestHub_Publish_NonSubscribersExcluded(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	subscriber, bystander := &fakeConn{}, &fakeConn{}
	subID, err := h.Connect(subscriber)
	require.NoError(t, err)
	_, err = h.Connect(bystander)
	require.NoError(t, err)

	h.Subscribe(subID, "task-1")
	h.Publish("task-1", Message{Type: TypeTaskUpdate})

	require.Len(t, subscriber.messages(), 1)
	require.Empty(t, bystander.messages())
}

func TestHub_Unsubscribe_StopsDelivery(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)

	h.Subscribe(id, "task-1")
	h.Publish("task-1", Message{Type: TypeTaskUpdate})
	h.Unsubscribe(id, "task-1")
	h.Publish("task-1", Message{Type: TypeTaskUpdate})

	require.Len(t, conn.messages(), 1)
	require.Zero(t, h.SubscriberCount("task-1"))
}

func TestHub_Unsubscribe_NotSubscribedIsNoop(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)

	h.Unsubscribe(id, "task-never-subscribed")
	h.Unsubscribe("conn-unknown", "task-1")
}

func TestHub_Subscribe_UnknownConnIgnored(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	h.Subscribe("conn-ghost", "task-1")
	require.Zero(t, h.SubscriberCount("task-1"))
}

func TestHub_Disconnect_PurgesSubscriptions(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)

	h.Subscribe(id, "task-1")
	h.Subscribe(id, "task-2")
	h.Disconnect(id)

	require.Zero(t, h.SubscriberCount("task-1"))
	require.Zero(t, h.SubscriberCount("task-2"))

	h.Publish("task-1", Message{Type: TypeTaskUpdate})
	require.Empty(t, conn.messages())

	// Disconnecting again is a no-op.
	h.Disconnect(id)
}

func TestHub_Publish_FailingConnEvicted_OthersStillServed(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	broken := &fakeConn{sendErr: ErrConnClosed}
	healthy := &fakeConn{}
	brokenID, err := h.Connect(broken)
	require.NoError(t, err)
	healthyID, err := h.Connect(healthy)
	require.NoError(t, err)

	h.Subscribe(brokenID, "task-1")
	h.Subscribe(healthyID, "task-1")

	h.Publish("task-1", Message{Type: TypeTaskUpdate})
	require.Len(t, healthy.messages(), 1)
	require.Equal(t, 1, h.SubscriberCount("task-1"))

	// The evicted connection is gone for good.
	h.Publish("task-1", Message{Type: TypeTaskCompleted})
	require.Len(t, healthy.messages(), 2)
	require.Equal(t, 1, h.SubscriberCount("task-1"))
}

func TestHub_HandleInbound_PingPong(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)

	h.HandleInbound(id, []byte(`{"type":"ping"}`))

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, TypePong, msgs[0].Type)
	require.False(t, msgs[0].Timestamp.IsZero())
}

func TestHub_HandleInbound_SubscribeAndUnsubscribeAcks(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)

	h.HandleInbound(id, []byte(`{"type":"subscribe_task","data":{"task_id":"task-1"}}`))
	require.Equal(t, 1, h.SubscriberCount("task-1"))

	h.HandleInbound(id, []byte(`{"type":"unsubscribe_task","data":{"task_id":"task-1"}}`))
	require.Zero(t, h.SubscriberCount("task-1"))

	msgs := conn.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, TypeSubscribed, msgs[0].Type)
	require.Equal(t, "task-1", msgs[0].Data["task_id"])
	require.Equal(t, TypeUnsubscribed, msgs[1].Type)
}

func TestHub_HandleInbound_MissingTaskID(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)

	for _, payload := range []string{
		`{"type":"subscribe_task"}`,
		`{"type":"unsubscribe_task","data":{}}`,
		`{"type":"get_status"}`,
	} {
		h.HandleInbound(id, []byte(payload))
	}

	msgs := conn.messages()
	require.Len(t, msgs, 3)
	for _, msg := range msgs {
		require.Equal(t, TypeError, msg.Type)
		require.Equal(t, "task_id is required", msg.Data["message"])
	}
}

func TestHub_HandleInbound_MalformedJSON(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)

	h.HandleInbound(id, []byte(`{not json`))

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, TypeError, msgs[0].Type)
	require.Equal(t, "invalid JSON format", msgs[0].Data["message"])
}

func TestHub_HandleInbound_UnknownType(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)

	h.HandleInbound(id, []byte(`{"type":"teleport"}`))

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, TypeError, msgs[0].Type)
	require.Contains(t, msgs[0].Data["message"], "unknown message type")
}

func TestHub_HandleInbound_GetStatus(t *testing.T) {
	t.Parallel()

	h, tasks := newTestHub()
	tasks.tasks["task-1"] = crawl.Task{
		ID:       "task-1",
		Status:   crawl.StatusRunning,
		Progress: 0.3,
	}
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)

	h.HandleInbound(id, []byte(`{"type":"get_status","data":{"task_id":"task-1"}}`))
	h.HandleInbound(id, []byte(`{"type":"get_status","data":{"task_id":"task-missing"}}`))

	msgs := conn.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, TypeTaskStatus, msgs[0].Type)
	require.Equal(t, "task-1", msgs[0].Data["task_id"])
	require.Equal(t, crawl.StatusRunning, msgs[0].Data["status"])
	require.Equal(t, 0.3, msgs[0].Data["progress"])
	require.Equal(t, TypeError, msgs[1].Type)
	require.Contains(t, msgs[1].Data["message"], "not found")
}

func TestHub_Notifier_EventEnvelopes(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub()
	conn := &fakeConn{}
	id, err := h.Connect(conn)
	require.NoError(t, err)
	h.Subscribe(id, "task-1")

	running := crawl.Task{ID: "task-1", Status: crawl.StatusRunning, Progress: 0.3}
	h.TaskUpdated(running)

	result := crawl.Result{URL: "https://example.com", Markdown: "content"}
	completed := crawl.Task{ID: "task-1", Status: crawl.StatusCompleted, Progress: 1.0, Result: &result}
	h.TaskCompleted(completed)

	failed := crawl.Task{
		ID:     "task-1",
		Status: crawl.StatusFailed,
		Error:  &crawl.TaskError{Message: "boom", Kind: crawl.ErrKindEngine},
	}
	h.TaskFailed(failed)

	msgs := conn.messages()
	require.Len(t, msgs, 3)
	require.Equal(t, TypeTaskUpdate, msgs[0].Type)
	require.Equal(t, 0.3, msgs[0].Data["progress"])
	require.Equal(t, TypeTaskCompleted, msgs[1].Type)
	require.Equal(t, result, msgs[1].Data["result"])
	require.Equal(t, TypeTaskError, msgs[2].Type)
	require.Equal(t, "boom", msgs[2].Data["error"])
	require.Equal(t, crawl.ErrKindEngine, msgs[2].Data["kind"])
}
