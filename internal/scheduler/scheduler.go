// Package scheduler periodically enqueues a scrape task for every active
// project.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/metrics"
	"github.com/JakeFAU/web-monitor/internal/monitor"
)

// DefaultInterval is the time between ticks.
const DefaultInterval = 6 * time.Hour

// ProjectLister returns the projects to schedule.
type ProjectLister interface {
	ListActiveProjects(ctx context.Context) ([]monitor.Project, error)
}

// IdleEnqueuer enqueues only when no task for the project is pending.
type IdleEnqueuer interface {
	EnqueueProjectIfIdle(ctx context.Context, projectID int64) (string, bool, error)
}

// Config controls ticking.
type Config struct {
	Interval time.Duration
	// RunOnStart fires one tick as soon as Run starts.
	RunOnStart bool
	// SkipInFlight skips projects whose previous task is still pending. The
	// enqueuer must implement IdleEnqueuer.
	SkipInFlight bool
}

// Scheduler fans out one scrape task per active project.
type Scheduler struct {
	projects ProjectLister
	enqueuer monitor.Enqueuer
	cfg      Config
	logger   *zap.Logger
}

// New builds a Scheduler.
func New(projects ProjectLister, enqueuer monitor.Enqueuer, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if projects == nil || enqueuer == nil {
		return nil, errors.New("scheduler: project lister and enqueuer are required")
	}
	if cfg.SkipInFlight {
		if _, ok := enqueuer.(IdleEnqueuer); !ok {
			return nil, errors.New("scheduler: skip_in_flight requires an enqueuer that tracks pending tasks")
		}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{projects: projects, enqueuer: enqueuer, cfg: cfg, logger: logger.Named("scheduler")}, nil
}

// Tick enqueues a task for every active project and returns how many were
// enqueued. A failed enqueue does not stop the remaining projects.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	projects, err := s.projects.ListActiveProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active projects: %w", err)
	}
	s.logger.Info("scheduling projects", zap.Int("projects", len(projects)))

	var (
		scheduled int
		errs      []error
	)
	for _, p := range projects {
		taskID, queued, err := s.enqueue(ctx, p.ID)
		switch {
		case err != nil:
			metrics.ObserveSchedulerProject("failed")
			s.logger.Error("enqueue failed", zap.Int64("project_id", p.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("enqueue project %d: %w", p.ID, err))
		case !queued:
			metrics.ObserveSchedulerProject("skipped")
			s.logger.Info("project still in flight, skipping", zap.Int64("project_id", p.ID), zap.String("name", p.Name))
		default:
			scheduled++
			metrics.ObserveSchedulerProject("enqueued")
			s.logger.Info("queued", zap.Int64("project_id", p.ID), zap.String("name", p.Name), zap.String("task_id", taskID))
		}
	}
	return scheduled, errors.Join(errs...)
}

func (s *Scheduler) enqueue(ctx context.Context, projectID int64) (string, bool, error) {
	if s.cfg.SkipInFlight {
		return s.enqueuer.(IdleEnqueuer).EnqueueProjectIfIdle(ctx, projectID)
	}
	id, err := s.enqueuer.EnqueueProject(ctx, projectID)
	return id, err == nil, err
}

// Run ticks on the configured interval until ctx is done. Overlapping runs
// of the same project are possible unless SkipInFlight is set.
func (s *Scheduler) Run(ctx context.Context) {
	if s.cfg.RunOnStart {
		s.tick(ctx)
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	n, err := s.Tick(ctx)
	if err != nil {
		s.logger.Error("scheduler tick failed", zap.Int("scheduled", n), zap.Error(err))
		return
	}
	s.logger.Info("scheduler tick", zap.Int("scheduled", n))
}
