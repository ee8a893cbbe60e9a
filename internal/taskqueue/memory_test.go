package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerPublishReceive(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(1)
	result := make(chan Delivery, 1)
	errCh := make(chan error, 1)

	go func() {
		d, err := b.Receive(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- d
	}()

	require.NoError(t, b.Publish(context.Background(), Task{ID: "task-1", Name: TaskScrapeProject, ProjectID: 7}))
	select {
	case err := <-errCh:
		t.Fatalf("Receive() error = %v", err)
	case got := <-result:
		require.Equal(t, "task-1", got.Task().ID)
		require.Equal(t, int64(7), got.Task().ProjectID)
		got.Ack()
	case <-time.After(time.Second):
		t.Fatal("receive did not return task")
	}
}

func TestMemoryBrokerCancelationErrors(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Receive(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	require.NoError(t, b.Publish(context.Background(), Task{ID: "primed"}))
	err = b.Publish(ctx, Task{ID: "blocked"})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestMemoryBrokerNackRedelivers(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(2)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, Task{ID: "task-1"}))

	d, err := b.Receive(ctx)
	require.NoError(t, err)
	d.Nack()
	d.Nack()
	require.Equal(t, 1, b.Len())

	again, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "task-1", again.Task().ID)
	again.Ack()
	require.Equal(t, 0, b.Len())
}

func TestMemoryBrokerClose(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker(1)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.Receive(context.Background())
	require.ErrorIs(t, err, errQueueClosed)
	require.ErrorIs(t, b.Publish(context.Background(), Task{ID: "late"}), errQueueClosed)
}
