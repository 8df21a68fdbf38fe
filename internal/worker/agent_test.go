package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/adapters/database/memory"
	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	portsrepo "github.com/SscSPs/backup_orchestrator/internal/core/ports/repositories"
	"github.com/SscSPs/backup_orchestrator/internal/worker"
	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExecutor acks every task it is handed after running hook.
type stubExecutor struct {
	queue portsrepo.RunQueue
	hook  func(task domain.RunTask) error

	mu       sync.Mutex
	executed map[string]int
	inFlight int
	maxSeen  int
}

func newStubExecutor(q portsrepo.RunQueue, hook func(domain.RunTask) error) *stubExecutor {
	return &stubExecutor{queue: q, hook: hook, executed: make(map[string]int)}
}

func (e *stubExecutor) ExecuteTask(ctx context.Context, task domain.RunTask, _ string) error {
	e.mu.Lock()
	e.inFlight++
	e.maxSeen = max(e.maxSeen, e.inFlight)
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if e.hook != nil {
		if err := e.hook(task); err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.executed[task.RunID]++
	e.mu.Unlock()
	return e.queue.Ack(ctx, task.RunID)
}

func (e *stubExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

func (e *stubExecutor) peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxSeen
}

func enqueue(t *testing.T, q portsrepo.RunQueue, n int) {
	t.Helper()
	for i := range n {
		require.NoError(t, q.Enqueue(context.Background(), domain.RunTask{RunID: fmt.Sprintf("run-%02d", i), JobID: "job"}))
	}
}

func testAgentConfig(concurrency int) worker.AgentConfig {
	return worker.AgentConfig{
		ID:            "worker-test",
		Concurrency:   concurrency,
		PollInterval:  5 * time.Millisecond,
		MaxBackoff:    20 * time.Millisecond,
		LeaseDuration: 50 * time.Millisecond,
	}
}

func startAgent(t *testing.T, agent *worker.Agent) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- agent.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestAgent_ProcessesQueuedTasks(t *testing.T) {
	q := memory.NewRepositoryProvider(memory.NewStore(nil)).RunQueue
	enqueue(t, q, 5)
	exec := newStubExecutor(q, nil)

	agent := worker.NewAgent(q, exec, clock.WallClock, testAgentConfig(2))
	cancel, errCh := startAgent(t, agent)

	require.Eventually(t, func() bool { return exec.count() == 5 }, 2*time.Second, 5*time.Millisecond)

	// Tasks enqueued later are picked up without a restart.
	require.NoError(t, q.Enqueue(context.Background(), domain.RunTask{RunID: "late", JobID: "job"}))
	require.Eventually(t, func() bool { return exec.count() == 6 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case <-agent.Done():
	default:
		t.Fatal("agent did not report done")
	}
}

func TestAgent_RespectsConcurrency(t *testing.T) {
	q := memory.NewRepositoryProvider(memory.NewStore(nil)).RunQueue
	enqueue(t, q, 6)
	release := make(chan struct{})
	exec := newStubExecutor(q, func(domain.RunTask) error {
		<-release
		return nil
	})

	agent := worker.NewAgent(q, exec, clock.WallClock, worker.AgentConfig{
		ID:            "worker-test",
		Concurrency:   2,
		PollInterval:  5 * time.Millisecond,
		LeaseDuration: time.Minute,
	})
	startAgent(t, agent)

	require.Eventually(t, func() bool { return exec.peak() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, exec.peak(), "never more than Concurrency runs at once")

	close(release)
	require.Eventually(t, func() bool { return exec.count() == 6 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, exec.peak())
}

func TestAgent_FailedTaskIsRedelivered(t *testing.T) {
	q := memory.NewRepositoryProvider(memory.NewStore(nil)).RunQueue
	enqueue(t, q, 1)

	var mu sync.Mutex
	attempts := 0
	exec := newStubExecutor(q, func(domain.RunTask) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		switch attempts {
		case 1:
			panic("executor bug")
		case 2:
			return errors.New("store unavailable")
		}
		return nil
	})

	agent := worker.NewAgent(q, exec, clock.WallClock, testAgentConfig(1))
	startAgent(t, agent)

	require.Eventually(t, func() bool { return exec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestAgent_DrainsInFlightRunsOnShutdown(t *testing.T) {
	q := memory.NewRepositoryProvider(memory.NewStore(nil)).RunQueue
	enqueue(t, q, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	exec := newStubExecutor(q, func(domain.RunTask) error {
		close(started)
		<-release
		return nil
	})

	cfg := testAgentConfig(1)
	cfg.LeaseDuration = time.Minute
	agent := worker.NewAgent(q, exec, clock.WallClock, cfg)
	cancel, errCh := startAgent(t, agent)
	<-started
	cancel()

	select {
	case <-errCh:
		t.Fatal("agent returned before its in-flight run finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 1, exec.count())
}

// countingQueue records how often the agent polls.
type countingQueue struct {
	portsrepo.RunQueue
	dequeues atomic.Int32
}

func (q *countingQueue) Dequeue(ctx context.Context, limit int, lease time.Duration) ([]domain.RunTask, error) {
	q.dequeues.Add(1)
	return q.RunQueue.Dequeue(ctx, limit, lease)
}

func TestAgent_ShortBatchDoesNotRepoll(t *testing.T) {
	q := &countingQueue{RunQueue: memory.NewRepositoryProvider(memory.NewStore(nil)).RunQueue}
	enqueue(t, q, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	exec := newStubExecutor(q, func(domain.RunTask) error {
		close(started)
		<-release
		return nil
	})

	// The timer never fires on a frozen clock, so every poll is an explicit trigger.
	clk := testclock.NewClock(time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC))
	agent := worker.NewAgent(q, exec, clk, worker.AgentConfig{
		ID:            "worker-test",
		Concurrency:   4,
		PollInterval:  time.Hour,
		LeaseDuration: time.Minute,
	})
	startAgent(t, agent)

	<-started
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), q.dequeues.Load(), "a drained queue is not polled again while the run is in flight")

	close(release)
	require.Eventually(t, func() bool { return exec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	// Releasing the slot triggers exactly one more poll.
	require.Eventually(t, func() bool { return q.dequeues.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), q.dequeues.Load())
}
