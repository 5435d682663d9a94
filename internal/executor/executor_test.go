package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asandberg/crawltask/internal/crawl"
	"github.com/asandberg/crawltask/internal/registry"
)

type fakeIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("task-%03d", g.next), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeEngine struct {
	mu    sync.Mutex
	calls int
	raw   crawl.RawResult
	err   error
	// block, when non-nil, holds the crawl until closed or the context
	// is cancelled.
	block chan struct{}
}

func (e *fakeEngine) Crawl(ctx context.Context, _ string, _ crawl.Config) (crawl.RawResult, error) {
	e.mu.Lock()
	e.calls++
	block := e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return crawl.RawResult{}, ctx.Err()
		}
	}
	return e.raw, e.err
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordNotifier struct {
	mu        sync.Mutex
	updates   []crawl.Task
	completed []crawl.Task
	failed    []crawl.Task
}

func (n *recordNotifier) TaskUpdated(task crawl.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, task)
}

func (n *recordNotifier) TaskCompleted(task crawl.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, task)
}

func (n *recordNotifier) TaskFailed(task crawl.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, task)
}

func (n *recordNotifier) snapshot() (updates, completed, failed []crawl.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]crawl.Task(nil), n.updates...),
		append([]crawl.Task(nil), n.completed...),
		append([]crawl.Task(nil), n.failed...)
}

func newTestExecutor(engine crawl.Engine, notifier crawl.Notifier, cfg Config) (*Executor, *registry.Registry) {
	reg := registry.New(&fakeIDGen{}, &fakeClock{now: time.Unix(1000, 0).UTC()}, nil)
	return New(reg, engine, notifier, &fakeClock{now: time.Unix(1000, 0).UTC()}, cfg, nil), reg
}

func TestExecutor_Success_WalksCheckpoints(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{raw: crawl.RawResult{
		Title:    "Example",
		Markdown: "# Example\n\nbody",
	}}
	notifier := &recordNotifier{}
	exec, reg := newTestExecutor(engine, notifier, Config{})

	task, err := reg.Submit("https://example.com", crawl.DefaultConfig())
	require.NoError(t, err)

	handle := exec.Dispatch(context.Background(), task.ID)
	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish")
	}

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusCompleted, final.Status)
	require.Equal(t, 1.0, final.Progress)
	require.NotNil(t, final.Result)
	require.Equal(t, "Example", final.Result.Title)
	require.Equal(t, "https://example.com", final.Result.URL)
	require.Nil(t, final.Error)
	require.NotNil(t, final.CompletedAt)

	updates, completed, failed := notifier.snapshot()
	require.Empty(t, failed)
	require.Len(t, completed, 1)
	require.Equal(t, 1.0, completed[0].Progress)

	var progresses []float64
	for _, u := range updates {
		progresses = append(progresses, u.Progress)
	}
	require.Equal(t, []float64{0.1, 0.3, 0.8}, progresses)
	require.Equal(t, crawl.StatusRunning, updates[0].Status)
}

func TestExecutor_EngineFailure_CapturedNotPropagated(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: errors.New("tls handshake failed")}
	notifier := &recordNotifier{}
	exec, reg := newTestExecutor(engine, notifier, Config{})

	task, err := reg.Submit("https://example.com", crawl.DefaultConfig())
	require.NoError(t, err)

	handle := exec.Dispatch(context.Background(), task.ID)
	<-handle.Done()

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusFailed, final.Status)
	require.Nil(t, final.Result)
	require.NotNil(t, final.Error)
	require.Equal(t, "tls handshake failed", final.Error.Message)
	require.Equal(t, crawl.ErrKindEngine, final.Error.Kind)

	_, completed, failed := notifier.snapshot()
	require.Empty(t, completed)
	require.Len(t, failed, 1)
}

func TestExecutor_CancelledBeforeRun_NeverCallsEngine(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	exec, reg := newTestExecutor(engine, nil, Config{})

	task, err := reg.Submit("https://example.com", crawl.DefaultConfig())
	require.NoError(t, err)
	require.True(t, reg.Cancel(task.ID))

	handle := exec.Dispatch(context.Background(), task.ID)
	<-handle.Done()

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusCancelled, final.Status)
	require.Zero(t, engine.callCount())
}

func TestExecutor_CancelMidFlight_StateNotOverwritten(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		raw:   crawl.RawResult{Markdown: "late result"},
		block: make(chan struct{}),
	}
	notifier := &recordNotifier{}
	exec, reg := newTestExecutor(engine, notifier, Config{})

	task, err := reg.Submit("https://example.com", crawl.DefaultConfig())
	require.NoError(t, err)
	handle := exec.Dispatch(context.Background(), task.ID)

	require.Eventually(t, func() bool {
		snap, getErr := reg.Get(task.ID)
		return getErr == nil && snap.Status == crawl.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, reg.Cancel(task.ID))
	close(engine.block)
	<-handle.Done()

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusCancelled, final.Status)
	require.Nil(t, final.Result)

	_, completed, failed := notifier.snapshot()
	require.Empty(t, completed)
	require.Empty(t, failed)
}

func TestExecutor_DuplicateDispatch_AtMostOnce(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	exec, reg := newTestExecutor(engine, nil, Config{})

	task, err := reg.Submit("https://example.com", crawl.DefaultConfig())
	require.NoError(t, err)

	first := exec.Dispatch(context.Background(), task.ID)
	second := exec.Dispatch(context.Background(), task.ID)
	require.Same(t, first, second)

	<-first.Done()
	require.Equal(t, 1, engine.callCount())
}

func TestExecutor_MaxConcurrent_GatesExecution(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{block: make(chan struct{})}
	exec, reg := newTestExecutor(engine, nil, Config{MaxConcurrent: 1})

	first, err := reg.Submit("https://example.com/1", crawl.DefaultConfig())
	require.NoError(t, err)
	second, err := reg.Submit("https://example.com/2", crawl.DefaultConfig())
	require.NoError(t, err)

	h1 := exec.Dispatch(context.Background(), first.ID)
	require.Eventually(t, func() bool {
		snap, getErr := reg.Get(first.ID)
		return getErr == nil && snap.Status == crawl.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	h2 := exec.Dispatch(context.Background(), second.ID)
	// The slot is taken; the second task must still be pending.
	time.Sleep(50 * time.Millisecond)
	snap, err := reg.Get(second.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusPending, snap.Status)

	close(engine.block)
	<-h1.Done()
	<-h2.Done()

	snap, err = reg.Get(second.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusCompleted, snap.Status)
}

func TestExecutor_MaxTaskDuration_FailsWithTimeout(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{block: make(chan struct{})}
	exec, reg := newTestExecutor(engine, nil, Config{MaxTaskDuration: 50 * time.Millisecond})

	task, err := reg.Submit("https://example.com", crawl.DefaultConfig())
	require.NoError(t, err)

	handle := exec.Dispatch(context.Background(), task.ID)
	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish")
	}

	final, err := reg.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	require.Equal(t, crawl.ErrKindTimeout, final.Error.Kind)
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

type plainNetError struct{}

func (plainNetError) Error() string   { return "connection refused" }
func (plainNetError) Timeout() bool   { return false }
func (plainNetError) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, crawl.ErrKindTimeout, classify(context.DeadlineExceeded))
	require.Equal(t, crawl.ErrKindTimeout, classify(fmt.Errorf("crawl: %w", timeoutNetError{})))
	require.Equal(t, crawl.ErrKindNetwork, classify(plainNetError{}))
	require.Equal(t, crawl.ErrKindEngine, classify(errors.New("selector not found")))
}
