package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/metrics"
	"github.com/JakeFAU/web-monitor/internal/monitor"
	"github.com/JakeFAU/web-monitor/internal/telemetry"
)

// Default time limits applied to each attempt.
const (
	DefaultHardTimeLimit = time.Hour
	DefaultSoftTimeLimit = 50 * time.Minute
)

const receiveErrorBackoff = time.Second

// Handler executes one attempt of a task. Returning nil acknowledges it.
type Handler func(ctx context.Context, task Task) error

// Config controls Runtime behavior.
type Config struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	// HardTimeLimit cancels the attempt's context.
	HardTimeLimit time.Duration
	// SoftTimeLimit only logs and counts; zero disables it.
	SoftTimeLimit time.Duration
}

// Runtime pulls deliveries from a Broker and fans them out to a pool of
// workers.
type Runtime struct {
	broker   Broker
	clock    monitor.Clock
	ids      monitor.IDGenerator
	retry    FixedRetryPolicy
	cfg      Config
	logger   *zap.Logger
	handlers map[string]Handler

	mu       sync.Mutex
	inFlight map[int64]time.Time

	// retries tracks retry publishes still waiting on the broker.
	retries sync.WaitGroup
}

// New constructs a Runtime.
func New(broker Broker, clock monitor.Clock, ids monitor.IDGenerator, cfg Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.HardTimeLimit <= 0 {
		cfg.HardTimeLimit = DefaultHardTimeLimit
	}
	if cfg.SoftTimeLimit >= cfg.HardTimeLimit {
		cfg.SoftTimeLimit = 0
	}
	return &Runtime{
		broker:   broker,
		clock:    clock,
		ids:      ids,
		retry:    NewFixedRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]Handler),
		inFlight: make(map[int64]time.Time),
	}
}

// Register binds a handler to a task name. It must be called before Run.
func (r *Runtime) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Enqueue publishes a new task for the project and returns its id.
func (r *Runtime) Enqueue(ctx context.Context, name string, projectID int64) (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	task := Task{
		ID:         id,
		Name:       name,
		ProjectID:  projectID,
		EnqueuedAt: r.clock.Now(),
	}
	r.mu.Lock()
	r.inFlight[projectID] = task.EnqueuedAt
	r.mu.Unlock()
	if err := r.broker.Publish(ctx, task); err != nil {
		r.release(projectID)
		return "", fmt.Errorf("queue enqueue: %w", err)
	}
	r.logger.Debug("task enqueued",
		zap.String("task_id", id),
		zap.String("task", name),
		zap.Int64("project_id", projectID),
	)
	return id, nil
}

// EnqueueProject submits a scrape task for one project.
func (r *Runtime) EnqueueProject(ctx context.Context, projectID int64) (string, error) {
	return r.Enqueue(ctx, TaskScrapeProject, projectID)
}

// EnqueueProjectIfIdle submits a scrape task unless one for the same project
// is queued, waiting for a retry or running in this process.
func (r *Runtime) EnqueueProjectIfIdle(ctx context.Context, projectID int64) (string, bool, error) {
	if r.InFlight(projectID) {
		return "", false, nil
	}
	id, err := r.EnqueueProject(ctx, projectID)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// InFlight reports whether this process enqueued a task for the project that
// has not reached a final outcome. Marks expire after the longest possible
// retry chain so tasks consumed by another process do not block forever.
func (r *Runtime) InFlight(projectID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	since, ok := r.inFlight[projectID]
	if !ok {
		return false
	}
	if r.clock.Now().Sub(since) > r.inFlightTTL() {
		delete(r.inFlight, projectID)
		return false
	}
	return true
}

func (r *Runtime) inFlightTTL() time.Duration {
	attempts := time.Duration(r.retry.MaxRetries() + 1)
	return attempts * (r.cfg.HardTimeLimit + r.cfg.RetryDelay)
}

func (r *Runtime) release(projectID int64) {
	r.mu.Lock()
	delete(r.inFlight, projectID)
	r.mu.Unlock()
}

// Run starts all workers and blocks until the context finishes or the broker
// closes. Deliveries not yet handed to a worker are nacked on shutdown.
func (r *Runtime) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan Delivery)
	var workers sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			r.work(ctx, id, work)
		}(i)
	}

	var holds sync.WaitGroup
	r.receive(ctx, work, &holds)
	cancel()
	holds.Wait()
	workers.Wait()
	r.retries.Wait()
}

func (r *Runtime) receive(ctx context.Context, work chan<- Delivery, holds *sync.WaitGroup) {
	for {
		d, err := r.broker.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errQueueClosed) {
				r.logger.Info("broker closed; stopping runtime")
				return
			}
			r.logger.Error("queue receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}
		task := d.Task()
		if wait := task.NotBefore.Sub(r.clock.Now()); wait > 0 {
			holds.Add(1)
			go func() {
				defer holds.Done()
				r.holdThenDispatch(ctx, d, wait, work)
			}()
			continue
		}
		r.dispatch(ctx, d, work)
	}
}

func (r *Runtime) holdThenDispatch(ctx context.Context, d Delivery, wait time.Duration, work chan<- Delivery) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		d.Nack()
	case <-timer.C:
		r.dispatch(ctx, d, work)
	}
}

func (r *Runtime) dispatch(ctx context.Context, d Delivery, work chan<- Delivery) {
	select {
	case <-ctx.Done():
		d.Nack()
	case work <- d:
	}
}

func (r *Runtime) work(ctx context.Context, id int, work <-chan Delivery) {
	r.logger.Debug("worker started", zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-work:
			r.process(ctx, d)
		}
	}
}

func (r *Runtime) process(ctx context.Context, d Delivery) {
	task := d.Task()
	logger := r.logger.With(
		zap.String("task_id", task.ID),
		zap.String("task", task.Name),
		zap.Int64("project_id", task.ProjectID),
		zap.Int("attempt", task.Attempt),
	)
	handler, ok := r.handlers[task.Name]
	if !ok {
		logger.Error("no handler registered for task; dropping")
		metrics.ObserveTask(task.Name, "unknown", 0)
		d.Ack()
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	err := r.runAttempt(ctx, handler, task, logger)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		logger.Info("task succeeded", zap.Duration("duration", elapsed))
		metrics.ObserveTask(task.Name, "succeeded", elapsed)
		r.release(task.ProjectID)
		d.Ack()
	case ctx.Err() != nil:
		logger.Warn("task interrupted by shutdown; returning to broker", zap.Error(err))
		metrics.ObserveTask(task.Name, "interrupted", elapsed)
		d.Nack()
	case monitor.IsPermanent(err):
		logger.Error("task failed permanently; not retrying", zap.Error(err))
		metrics.ObserveTask(task.Name, "permanent", elapsed)
		r.release(task.ProjectID)
		d.Ack()
	case !r.retry.ShouldRetry(err, task.Attempt):
		logger.Error("task retries exhausted; dropping",
			zap.Error(err),
			zap.Int("max_retries", r.retry.MaxRetries()),
		)
		metrics.ObserveTask(task.Name, "exhausted", elapsed)
		r.release(task.ProjectID)
		d.Ack()
	default:
		metrics.ObserveTask(task.Name, "retried", elapsed)
		r.scheduleRetry(ctx, d, err, logger)
	}
}

func (r *Runtime) runAttempt(ctx context.Context, handler Handler, task Task, logger *zap.Logger) (err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.HardTimeLimit)
	defer cancel()
	attemptCtx, span := telemetry.StartSpan(attemptCtx, "task."+task.Name,
		attribute.String("task.id", task.ID),
		attribute.Int64("project.id", task.ProjectID),
		attribute.Int("task.attempt", task.Attempt),
	)
	defer func() { telemetry.End(span, err) }()

	if r.cfg.SoftTimeLimit > 0 {
		soft := time.AfterFunc(r.cfg.SoftTimeLimit, func() {
			logger.Warn("task exceeded soft time limit", zap.Duration("soft_limit", r.cfg.SoftTimeLimit))
			metrics.ObserveSoftLimitExceeded(task.Name)
		})
		defer soft.Stop()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()

	err = handler(attemptCtx, task)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("hard time limit %s exceeded: %w", r.cfg.HardTimeLimit, err)
	}
	return err
}

func (r *Runtime) scheduleRetry(ctx context.Context, d Delivery, cause error, logger *zap.Logger) {
	task := d.Task()
	next := task
	next.Attempt++
	next.NotBefore = r.clock.Now().Add(r.retry.Backoff(task.Attempt))
	logger.Warn("task failed; scheduling retry",
		zap.Error(cause),
		zap.Int("next_attempt", next.Attempt),
		zap.Time("not_before", next.NotBefore),
	)
	// The publish may wait on a full broker, which only drains once a worker
	// is free, so the worker must not block on it.
	r.retries.Add(1)
	go func() {
		defer r.retries.Done()
		if err := r.broker.Publish(ctx, next); err != nil {
			logger.Error("schedule retry failed; returning task to broker", zap.Error(err))
			d.Nack()
			return
		}
		d.Ack()
	}()
}
