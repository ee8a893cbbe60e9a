package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

const taskAttribute = "task"

// PubSubConfig tunes subscription flow control.
type PubSubConfig struct {
	// MaxOutstanding bounds deliveries held by this process, including tasks
	// waiting for their retry delay.
	MaxOutstanding int
	// MaxExtension is how long the client keeps extending a held message's
	// ack deadline. It must exceed the retry delay plus the hard time limit.
	MaxExtension time.Duration
}

// PubSubBroker carries tasks over a Google Cloud Pub/Sub topic and
// subscription. Messages are acked only after the Runtime acknowledges the
// delivery, so a crashed worker's tasks are redelivered.
type PubSubBroker struct {
	topic      *pubsub.Topic
	sub        *pubsub.Subscription
	logger     *zap.Logger
	deliveries chan *pubsubDelivery

	startOnce sync.Once
	cancel    context.CancelFunc
	stopped   chan struct{}
	errMu     sync.Mutex
	err       error
}

// NewPubSubBroker wires a topic (for Publish) and a subscription (for
// Receive). Either may be nil for a publish-only or receive-only broker.
func NewPubSubBroker(topic *pubsub.Topic, sub *pubsub.Subscription, cfg PubSubConfig, logger *zap.Logger) *PubSubBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sub != nil {
		if cfg.MaxOutstanding > 0 {
			sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
		}
		if cfg.MaxExtension > 0 {
			sub.ReceiveSettings.MaxExtension = cfg.MaxExtension
		}
	}
	return &PubSubBroker{
		topic:      topic,
		sub:        sub,
		logger:     logger,
		deliveries: make(chan *pubsubDelivery),
		stopped:    make(chan struct{}),
	}
}

// Publish serializes the task and waits for the server to accept it.
func (b *PubSubBroker) Publish(ctx context.Context, task Task) error {
	if b.topic == nil {
		return errors.New("pubsub broker has no topic")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	result := b.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{taskAttribute: task.Name},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}
	return nil
}

// Receive returns the next delivery. The first call starts the streaming
// pull; it keeps running until Close.
func (b *PubSubBroker) Receive(ctx context.Context) (Delivery, error) {
	if b.sub == nil {
		return nil, errors.New("pubsub broker has no subscription")
	}
	b.startOnce.Do(b.start)
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-b.stopped:
		b.errMu.Lock()
		defer b.errMu.Unlock()
		if b.err != nil {
			return nil, fmt.Errorf("pubsub receive: %w", b.err)
		}
		return nil, errQueueClosed
	case d := <-b.deliveries:
		return d, nil
	}
}

func (b *PubSubBroker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go func() {
		defer close(b.stopped)
		err := b.sub.Receive(ctx, b.handle)
		b.errMu.Lock()
		b.err = err
		b.errMu.Unlock()
	}()
}

func (b *PubSubBroker) handle(ctx context.Context, msg *pubsub.Message) {
	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		b.logger.Error("dropping undecodable task message", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	d := &pubsubDelivery{msg: msg, task: task, done: make(chan struct{})}
	select {
	case b.deliveries <- d:
	case <-ctx.Done():
		msg.Nack()
		return
	}
	select {
	case <-d.done:
	case <-ctx.Done():
		d.Nack()
	}
}

// Close stops the streaming pull and flushes pending publishes. The caller
// owns the underlying client.
func (b *PubSubBroker) Close() error {
	b.startOnce.Do(func() { close(b.stopped) })
	if b.cancel != nil {
		b.cancel()
		<-b.stopped
	}
	if b.topic != nil {
		b.topic.Stop()
	}
	return nil
}

type pubsubDelivery struct {
	msg  *pubsub.Message
	task Task
	once sync.Once
	done chan struct{}
}

func (d *pubsubDelivery) Task() Task { return d.task }

func (d *pubsubDelivery) Ack() {
	d.once.Do(func() {
		d.msg.Ack()
		close(d.done)
	})
}

func (d *pubsubDelivery) Nack() {
	d.once.Do(func() {
		d.msg.Nack()
		close(d.done)
	})
}
