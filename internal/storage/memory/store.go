// Package memory provides in-memory persistence for local development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

// Store implements monitor.Store with maps guarded by a single RWMutex.
type Store struct {
	mu          sync.RWMutex
	projects    map[int64]monitor.Project
	keywords    map[int64][]string
	competitors map[int64][]string
	articles    map[string]monitor.AnalyzedArticle
	jobs        map[int64]monitor.ScrapingJob
	nextJobID   int64
	alerts      map[int64]monitor.Alert
	schedules   map[int64]monitor.Schedule
	usage       []monitor.APIUsage
}

var _ monitor.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		projects:    make(map[int64]monitor.Project),
		keywords:    make(map[int64][]string),
		competitors: make(map[int64][]string),
		articles:    make(map[string]monitor.AnalyzedArticle),
		jobs:        make(map[int64]monitor.ScrapingJob),
		alerts:      make(map[int64]monitor.Alert),
		schedules:   make(map[int64]monitor.Schedule),
	}
}

// PutProject adds or replaces a project.
func (s *Store) PutProject(p monitor.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// SetKeywords replaces a project's keywords.
func (s *Store) SetKeywords(projectID int64, keywords ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords[projectID] = append([]string(nil), keywords...)
}

// SetCompetitors replaces a project's competitor names.
func (s *Store) SetCompetitors(projectID int64, names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.competitors[projectID] = append([]string(nil), names...)
}

// PutAlert adds or replaces an alert rule.
func (s *Store) PutAlert(a monitor.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Recipients = append([]string(nil), a.Recipients...)
	s.alerts[a.ID] = a
}

// PutSchedule adds or replaces a schedule row.
func (s *Store) PutSchedule(sc monitor.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ProjectID] = sc
}

// GetProject loads one project regardless of status.
func (s *Store) GetProject(_ context.Context, projectID int64) (monitor.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return monitor.Project{}, fmt.Errorf("get project %d: %w", projectID, monitor.ErrNotFound)
	}
	return p, nil
}

// ListActiveProjects returns active projects ordered by id.
func (s *Store) ListActiveProjects(context.Context) ([]monitor.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Project
	for _, p := range s.projects {
		if p.Active() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListKeywords returns a copy of the project's keywords.
func (s *Store) ListKeywords(_ context.Context, projectID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.keywords[projectID]...), nil
}

// ListCompetitors returns a copy of the project's competitor names.
func (s *Store) ListCompetitors(_ context.Context, projectID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.competitors[projectID]...), nil
}

// InsertIfAbsent stores the article unless its URL is already present.
func (s *Store) InsertIfAbsent(_ context.Context, a monitor.AnalyzedArticle) (bool, error) {
	key := strings.TrimSpace(a.URL)
	if key == "" {
		return false, &monitor.ValidationError{Field: "url", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.articles[key]; exists {
		return false, nil
	}
	s.articles[key] = a
	return true, nil
}

// Articles returns stored articles ordered by URL.
func (s *Store) Articles() []monitor.AnalyzedArticle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.AnalyzedArticle, 0, len(s.articles))
	for _, a := range s.articles {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// CountScrapedSince counts the project's articles scraped at or after since.
func (s *Store) CountScrapedSince(_ context.Context, projectID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, a := range s.articles {
		if a.ProjectID == projectID && !a.ScrapedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// AverageSentiment averages sentiment scores inside the window.
func (s *Store) AverageSentiment(_ context.Context, projectID int64, window monitor.TimeRange) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		sum float64
		n   int
	)
	for _, a := range s.articles {
		if a.ProjectID != projectID || a.ScrapedAt.Before(window.From) {
			continue
		}
		if !window.Until.IsZero() && !a.ScrapedAt.Before(window.Until) {
			continue
		}
		sum += a.SentimentScore
		n++
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

// CreateJob stores a new job in running status and assigns its id.
func (s *Store) CreateJob(_ context.Context, job monitor.ScrapingJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextJobID++
	job.ID = s.nextJobID
	job.Status = monitor.JobStatusRunning
	job.CompletedAt = nil
	s.jobs[job.ID] = job
	return job.ID, nil
}

// CompleteJob moves a running job to completed.
func (s *Store) CompleteJob(_ context.Context, jobID int64, counters monitor.JobCounters, at time.Time) error {
	return s.finishJob(jobID, func(job *monitor.ScrapingJob) {
		job.Status = monitor.JobStatusCompleted
		job.ArticlesFound = counters.ArticlesFound
		job.NewArticles = counters.NewArticles
		job.APICalls = counters.APICalls
		job.CompletedAt = pointerTime(at)
	})
}

// FailJob moves a running job to failed.
func (s *Store) FailJob(_ context.Context, jobID int64, message string, at time.Time) error {
	return s.finishJob(jobID, func(job *monitor.ScrapingJob) {
		job.Status = monitor.JobStatusFailed
		job.ErrorMessage = message
		job.CompletedAt = pointerTime(at)
	})
}

func (s *Store) finishJob(jobID int64, apply func(*monitor.ScrapingJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %d: %w", jobID, monitor.ErrNotFound)
	}
	if job.Status != monitor.JobStatusRunning {
		return fmt.Errorf("update job %d: %w", jobID, monitor.ErrJobNotRunning)
	}
	apply(&job)
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(_ context.Context, jobID int64) (monitor.ScrapingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return monitor.ScrapingJob{}, fmt.Errorf("get job %d: %w", jobID, monitor.ErrNotFound)
	}
	return job, nil
}

// ListJobs returns the project's most recent jobs first.
func (s *Store) ListJobs(_ context.Context, projectID int64, limit int) ([]monitor.ScrapingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.ScrapingJob
	for _, job := range s.jobs {
		if job.ProjectID == projectID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListActiveAlerts returns the project's active alerts of one type by id.
func (s *Store) ListActiveAlerts(_ context.Context, projectID int64, alertType monitor.AlertType) ([]monitor.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Alert
	for _, a := range s.alerts {
		if a.ProjectID == projectID && a.Type == alertType && a.IsActive {
			a.Recipients = append([]string(nil), a.Recipients...)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAlert returns an alert by id.
func (s *Store) GetAlert(alertID int64) (monitor.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	return a, ok
}

// MarkTriggered stamps last_triggered and increments trigger_count.
func (s *Store) MarkTriggered(_ context.Context, alertID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return fmt.Errorf("mark alert %d triggered: %w", alertID, monitor.ErrNotFound)
	}
	a.LastTriggered = pointerTime(at)
	a.TriggerCount++
	s.alerts[alertID] = a
	return nil
}

// AdvanceSchedule stamps last_run and next_run on an existing schedule.
func (s *Store) AdvanceSchedule(_ context.Context, projectID int64, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[projectID]
	if !ok {
		return nil
	}
	sc.LastRun = pointerTime(lastRun)
	sc.NextRun = pointerTime(nextRun)
	s.schedules[projectID] = sc
	return nil
}

// GetSchedule returns a project's schedule.
func (s *Store) GetSchedule(projectID int64) (monitor.Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[projectID]
	return sc, ok
}

// RecordAPIUsage appends a usage row.
func (s *Store) RecordAPIUsage(_ context.Context, u monitor.APIUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, u)
	return nil
}

// Usage returns a copy of the recorded usage rows.
func (s *Store) Usage() []monitor.APIUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]monitor.APIUsage(nil), s.usage...)
}

// Close is a no-op.
func (s *Store) Close() {}

func pointerTime(t time.Time) *time.Time {
	return &t
}
