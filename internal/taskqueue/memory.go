package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errQueueClosed = errors.New("queue closed")

// MemoryBroker is a bounded in-memory broker for single-process deployments
// and tests. Nacked deliveries are pushed back onto the queue.
type MemoryBroker struct {
	ch        chan Task
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryBroker constructs a broker with the provided capacity.
func NewMemoryBroker(capacity int) *MemoryBroker {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryBroker{
		ch:   make(chan Task, capacity),
		done: make(chan struct{}),
	}
}

// Publish pushes a task or returns if the context ends.
func (b *MemoryBroker) Publish(ctx context.Context, task Task) error {
	select {
	case <-b.done:
		return errQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-b.done:
		return errQueueClosed
	case b.ch <- task:
		return nil
	}
}

// Receive pops the next task, respecting context cancellation.
func (b *MemoryBroker) Receive(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-b.done:
		return nil, errQueueClosed
	case task := <-b.ch:
		return &memoryDelivery{broker: b, task: task}, nil
	}
}

// Len reports the number of queued tasks.
func (b *MemoryBroker) Len() int {
	return len(b.ch)
}

// Close stops the broker. Queued tasks are discarded.
func (b *MemoryBroker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

type memoryDelivery struct {
	broker *MemoryBroker
	task   Task
	once   sync.Once
}

func (d *memoryDelivery) Task() Task { return d.task }

func (d *memoryDelivery) Ack() {
	d.once.Do(func() {})
}

func (d *memoryDelivery) Nack() {
	d.once.Do(func() {
		select {
		case d.broker.ch <- d.task:
		default:
			go func(task Task) {
				_ = d.broker.Publish(context.Background(), task)
			}(d.task)
		}
	})
}
