// Package taskqueue runs named tasks pulled from a broker with bounded
// concurrency, per-attempt time limits and delayed retries. Delivery is
// at-least-once: a task is acknowledged only after its handler returns or
// its retry has been published.
package taskqueue

import (
	"context"
	"time"
)

// TaskScrapeProject scrapes one project.
const TaskScrapeProject = "scrape_project"

// Task is the serialized unit of work carried by a Broker.
type Task struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID int64  `json:"project_id"`
	// Attempt counts retries already performed; the first run is attempt 0.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// NotBefore delays execution of a retried task.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// Delivery is a received task awaiting acknowledgement.
type Delivery interface {
	Task() Task
	// Ack removes the task from the broker.
	Ack()
	// Nack returns the task to the broker for redelivery.
	Nack()
}

// Broker moves tasks between producers and the Runtime.
type Broker interface {
	Publish(ctx context.Context, task Task) error
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}
