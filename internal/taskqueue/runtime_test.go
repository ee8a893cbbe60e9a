package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("task-%d", s.n.Add(1)), nil
}

type recordingBroker struct {
	*MemoryBroker
	mu    sync.Mutex
	acks  int
	nacks int
	tasks []Task
}

func newRecordingBroker(capacity int) *recordingBroker {
	return &recordingBroker{MemoryBroker: NewMemoryBroker(capacity)}
}

func (b *recordingBroker) Receive(ctx context.Context) (Delivery, error) {
	d, err := b.MemoryBroker.Receive(ctx)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.tasks = append(b.tasks, d.Task())
	b.mu.Unlock()
	return &countingDelivery{Delivery: d, broker: b}, nil
}

func (b *recordingBroker) counts() (acks, nacks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acks, b.nacks
}

func (b *recordingBroker) received() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Task(nil), b.tasks...)
}

type countingDelivery struct {
	Delivery
	broker *recordingBroker
}

func (d *countingDelivery) Ack() {
	d.broker.mu.Lock()
	d.broker.acks++
	d.broker.mu.Unlock()
	d.Delivery.Ack()
}

func (d *countingDelivery) Nack() {
	d.broker.mu.Lock()
	d.broker.nacks++
	d.broker.mu.Unlock()
	d.Delivery.Nack()
}

func startRuntime(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func testConfig() Config {
	return Config{
		Concurrency:   2,
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
		HardTimeLimit: time.Second,
	}
}

func TestRuntimeRetriesExactlyThreeTimes(t *testing.T) {
	t.Parallel()

	broker := newRecordingBroker(8)
	rt := New(broker, systemClock{}, &seqIDs{}, testConfig(), zap.NewNop())

	var calls atomic.Int32
	rt.Register(TaskScrapeProject, func(context.Context, Task) error {
		calls.Add(1)
		return &monitor.ProviderError{Provider: "fake", Message: "upstream down"}
	})
	startRuntime(t, rt)

	id, err := rt.EnqueueProject(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "task-1", id)

	require.Eventually(t, func() bool { return calls.Load() == 4 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(4), calls.Load(), "expected 1 initial attempt and 3 retries")

	tasks := broker.received()
	require.Len(t, tasks, 4)
	for i, task := range tasks {
		require.Equal(t, i, task.Attempt)
		require.Equal(t, "task-1", task.ID)
		require.Equal(t, int64(42), task.ProjectID)
	}
	require.Eventually(t, func() bool { acks, _ := broker.counts(); return acks == 4 }, time.Second, 5*time.Millisecond)
	require.False(t, rt.InFlight(42))
}

func TestRuntimeRetryWaitsForDelay(t *testing.T) {
	t.Parallel()

	broker := newRecordingBroker(4)
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = 80 * time.Millisecond
	rt := New(broker, systemClock{}, &seqIDs{}, cfg, zap.NewNop())

	var mu sync.Mutex
	var starts []time.Time
	rt.Register(TaskScrapeProject, func(context.Context, Task) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return errors.New("transient")
	})
	startRuntime(t, rt)

	_, err := rt.EnqueueProject(context.Background(), 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, starts[1].Sub(starts[0]), 70*time.Millisecond)
}

func TestRuntimeRetryDoesNotStallFullQueue(t *testing.T) {
	t.Parallel()

	broker := newRecordingBroker(1)
	cfg := testConfig()
	cfg.Concurrency = 1
	rt := New(broker, systemClock{}, &seqIDs{}, cfg, zap.NewNop())

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []Task
	rt.Register(TaskScrapeProject, func(_ context.Context, task Task) error {
		mu.Lock()
		seen = append(seen, task)
		mu.Unlock()
		if task.ProjectID == 1 && task.Attempt == 0 {
			close(started)
			<-release
			return &monitor.ProviderError{Provider: "fake", Message: "upstream down"}
		}
		return nil
	})
	startRuntime(t, rt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := rt.EnqueueProject(ctx, 1)
	require.NoError(t, err)
	<-started

	// Project 2 is held by the receive loop and project 3 fills the broker.
	_, err = rt.EnqueueProject(ctx, 2)
	require.NoError(t, err)
	_, err = rt.EnqueueProject(ctx, 3)
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var retried bool
	for _, task := range seen[1:] {
		if task.ProjectID == 1 {
			require.Equal(t, 1, task.Attempt)
			retried = true
		}
	}
	require.True(t, retried, "project 1 should run again after its failure")
	require.Eventually(t, func() bool { acks, _ := broker.counts(); return acks == 4 }, time.Second, 5*time.Millisecond)
}

func TestRuntimeDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	broker := newRecordingBroker(4)
	rt := New(broker, systemClock{}, &seqIDs{}, testConfig(), zap.NewNop())

	var calls atomic.Int32
	rt.Register(TaskScrapeProject, func(_ context.Context, task Task) error {
		calls.Add(1)
		return fmt.Errorf("run: %w", &monitor.ConfigurationError{ProjectID: task.ProjectID, Reason: "project is not active"})
	})
	startRuntime(t, rt)

	_, err := rt.EnqueueProject(context.Background(), 5)
	require.NoError(t, err)

	require.Eventually(t, func() bool { acks, _ := broker.counts(); return acks == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
	require.False(t, rt.InFlight(5))
}

func TestRuntimeSuccessAcksOnce(t *testing.T) {
	t.Parallel()

	broker := newRecordingBroker(4)
	rt := New(broker, systemClock{}, &seqIDs{}, testConfig(), zap.NewNop())

	got := make(chan Task, 1)
	rt.Register(TaskScrapeProject, func(_ context.Context, task Task) error {
		got <- task
		return nil
	})
	startRuntime(t, rt)

	_, err := rt.EnqueueProject(context.Background(), 9)
	require.NoError(t, err)

	select {
	case task := <-got:
		require.Equal(t, TaskScrapeProject, task.Name)
		require.Equal(t, int64(9), task.ProjectID)
		require.Zero(t, task.Attempt)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
	require.Eventually(t, func() bool { acks, nacks := broker.counts(); return acks == 1 && nacks == 0 }, time.Second, 5*time.Millisecond)
	require.False(t, rt.InFlight(9))
}

func TestRuntimeHardTimeLimitCancelsAttempt(t *testing.T) {
	t.Parallel()

	broker := newRecordingBroker(4)
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.HardTimeLimit = 20 * time.Millisecond
	rt := New(broker, systemClock{}, &seqIDs{}, cfg, zap.NewNop())

	errCh := make(chan error, 1)
	rt.Register(TaskScrapeProject, func(ctx context.Context, _ Task) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	})
	startRuntime(t, rt)

	_, err := rt.EnqueueProject(context.Background(), 3)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("attempt was not canceled by the hard time limit")
	}
	require.Eventually(t, func() bool { acks, _ := broker.counts(); return acks == 1 }, time.Second, 5*time.Millisecond)
}

func TestRuntimeRecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	broker := newRecordingBroker(4)
	cfg := testConfig()
	cfg.MaxRetries = 0
	rt := New(broker, systemClock{}, &seqIDs{}, cfg, zap.NewNop())
	rt.Register(TaskScrapeProject, func(context.Context, Task) error {
		panic("boom")
	})
	startRuntime(t, rt)

	_, err := rt.EnqueueProject(context.Background(), 3)
	require.NoError(t, err)
	require.Eventually(t, func() bool { acks, _ := broker.counts(); return acks == 1 }, time.Second, 5*time.Millisecond)
}

func TestRuntimeDropsUnknownTasks(t *testing.T) {
	t.Parallel()

	broker := newRecordingBroker(4)
	rt := New(broker, systemClock{}, &seqIDs{}, testConfig(), zap.NewNop())
	startRuntime(t, rt)

	_, err := rt.Enqueue(context.Background(), "unknown_task", 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { acks, _ := broker.counts(); return acks == 1 }, time.Second, 5*time.Millisecond)
}

func TestEnqueueProjectIfIdle(t *testing.T) {
	t.Parallel()

	broker := NewMemoryBroker(4)
	rt := New(broker, systemClock{}, &seqIDs{}, testConfig(), zap.NewNop())

	id, ok, err := rt.EnqueueProjectIfIdle(context.Background(), 11)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, id)
	require.True(t, rt.InFlight(11))

	_, ok, err = rt.EnqueueProjectIfIdle(context.Background(), 11)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, broker.Len())

	_, ok, err = rt.EnqueueProjectIfIdle(context.Background(), 12)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, broker.Len())
}

func TestEnqueueReleasesMarkOnPublishFailure(t *testing.T) {
	t.Parallel()

	broker := NewMemoryBroker(1)
	require.NoError(t, broker.Close())
	rt := New(broker, systemClock{}, &seqIDs{}, testConfig(), zap.NewNop())

	_, err := rt.EnqueueProject(context.Background(), 4)
	require.Error(t, err)
	require.False(t, rt.InFlight(4))
}

func TestFixedRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewFixedRetryPolicy(DefaultMaxRetries, DefaultRetryDelay)
	transient := errors.New("timeout")

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(transient, 0))
	require.True(t, p.ShouldRetry(transient, 2))
	require.False(t, p.ShouldRetry(transient, 3))
	require.False(t, p.ShouldRetry(&monitor.ConfigurationError{Reason: "no search terms"}, 0))
	require.Equal(t, 5*time.Minute, p.Backoff(0))
	require.Equal(t, 5*time.Minute, p.Backoff(2))

	neg := NewFixedRetryPolicy(-1, -time.Second)
	require.Zero(t, neg.MaxRetries())
	require.Zero(t, neg.Backoff(0))
}
