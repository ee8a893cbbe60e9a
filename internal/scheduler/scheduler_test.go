package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/monitor"
	"github.com/JakeFAU/web-monitor/internal/storage/memory"
	"github.com/JakeFAU/web-monitor/internal/taskqueue"
)

type recordingEnqueuer struct {
	mu      sync.Mutex
	ids     []int64
	fail    map[int64]bool
	pending map[int64]bool
}

func newRecordingEnqueuer() *recordingEnqueuer {
	return &recordingEnqueuer{fail: map[int64]bool{}, pending: map[int64]bool{}}
}

func (e *recordingEnqueuer) EnqueueProject(_ context.Context, projectID int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail[projectID] {
		return "", errors.New("broker unavailable")
	}
	e.ids = append(e.ids, projectID)
	return "task", nil
}

func (e *recordingEnqueuer) EnqueueProjectIfIdle(ctx context.Context, projectID int64) (string, bool, error) {
	e.mu.Lock()
	pending := e.pending[projectID]
	e.mu.Unlock()
	if pending {
		return "", false, nil
	}
	id, err := e.EnqueueProject(ctx, projectID)
	return id, err == nil, err
}

func (e *recordingEnqueuer) enqueued() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.ids...)
}

type onlyEnqueuer struct{}

func (onlyEnqueuer) EnqueueProject(context.Context, int64) (string, error) { return "", nil }

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.PutProject(monitor.Project{ID: 1, Name: "one", Status: monitor.ProjectStatusActive})
	store.PutProject(monitor.Project{ID: 2, Name: "two", Status: "paused"})
	store.PutProject(monitor.Project{ID: 3, Name: "three", Status: monitor.ProjectStatusActive})
	return store
}

func TestTickEnqueuesActiveProjects(t *testing.T) {
	t.Parallel()

	enq := newRecordingEnqueuer()
	s, err := New(seededStore(), enq, Config{}, zap.NewNop())
	require.NoError(t, err)

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []int64{1, 3}, enq.enqueued())
}

func TestTickWithoutGuardOverlaps(t *testing.T) {
	t.Parallel()

	enq := newRecordingEnqueuer()
	enq.pending[1] = true
	s, err := New(seededStore(), enq, Config{}, nil)
	require.NoError(t, err)

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTickSkipsInFlightProjects(t *testing.T) {
	t.Parallel()

	enq := newRecordingEnqueuer()
	enq.pending[1] = true
	s, err := New(seededStore(), enq, Config{SkipInFlight: true}, nil)
	require.NoError(t, err)

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{3}, enq.enqueued())
}

func TestTickContinuesAfterEnqueueFailure(t *testing.T) {
	t.Parallel()

	enq := newRecordingEnqueuer()
	enq.fail[1] = true
	s, err := New(seededStore(), enq, Config{}, nil)
	require.NoError(t, err)

	n, err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue project 1")
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{3}, enq.enqueued())
}

func TestTickWithRuntimeGuard(t *testing.T) {
	t.Parallel()

	broker := taskqueue.NewMemoryBroker(16)
	t.Cleanup(func() { _ = broker.Close() })
	rt := taskqueue.New(broker, fixedClock{}, &seqIDs{}, taskqueue.Config{}, nil)

	s, err := New(seededStore(), rt, Config{SkipInFlight: true}, nil)
	require.NoError(t, err)

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "tasks from the first tick are still queued")
	assert.Equal(t, 2, broker.Len())
}

func TestSkipInFlightNeedsIdleEnqueuer(t *testing.T) {
	t.Parallel()

	_, err := New(seededStore(), onlyEnqueuer{}, Config{SkipInFlight: true}, nil)
	require.EqualError(t, err, "scheduler: skip_in_flight requires an enqueuer that tracks pending tasks")
	var cfgErr *monitor.ConfigurationError
	assert.False(t, errors.As(err, &cfgErr), "wiring errors are not project configuration errors")
}

func TestRunTicksUntilCanceled(t *testing.T) {
	t.Parallel()

	enq := newRecordingEnqueuer()
	s, err := New(seededStore(), enq, Config{Interval: 20 * time.Millisecond, RunOnStart: true}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(enq.enqueued()) >= 6 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC) }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("task-%d", s.n), nil
}
