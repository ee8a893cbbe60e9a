package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

var base = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func article(t *testing.T, projectID int64, url string, score float64, scrapedAt time.Time) monitor.AnalyzedArticle {
	t.Helper()
	a, err := monitor.NewAnalyzedArticle(projectID, monitor.RawArticle{URL: url, Title: url}, monitor.Annotation{
		Sentiment:      monitor.SentimentNeutral,
		SentimentScore: score,
		RelevanceScore: 50,
	}, scrapedAt)
	require.NoError(t, err)
	return a
}

func TestInsertIfAbsentIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	a := article(t, 1, "https://example.com/a", 0.2, base)

	inserted, err := s.InsertIfAbsent(ctx, a)
	require.NoError(t, err)
	require.True(t, inserted)

	changed := a
	changed.Title = "different title"
	inserted, err = s.InsertIfAbsent(ctx, changed)
	require.NoError(t, err)
	require.False(t, inserted)

	stored := s.Articles()
	require.Len(t, stored, 1)
	require.Equal(t, "https://example.com/a", stored[0].Title)
}

func TestInsertIfAbsentConcurrentWritersCollapse(t *testing.T) {
	t.Parallel()

	s := NewStore()
	candidates := make([]monitor.AnalyzedArticle, 16)
	for i := range candidates {
		candidates[i] = article(t, int64(i%2+1), "https://example.com/shared", 0, base)
	}
	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, a := range candidates {
		wg.Add(1)
		go func(a monitor.AnalyzedArticle) {
			defer wg.Done()
			inserted, err := s.InsertIfAbsent(context.Background(), a)
			if err == nil && inserted {
				wins.Add(1)
			}
		}(a)
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Len(t, s.Articles(), 1)
}

func TestInsertIfAbsentRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.InsertIfAbsent(context.Background(), monitor.AnalyzedArticle{})
	require.True(t, monitor.IsPermanent(err))
}

func TestJobTerminalTransitions(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	id, err := s.CreateJob(ctx, monitor.ScrapingJob{ProjectID: 1, StartedAt: base, TaskID: "task-1"})
	require.NoError(t, err)

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusRunning, job.Status)
	require.Nil(t, job.CompletedAt)

	counters := monitor.JobCounters{ArticlesFound: 5, NewArticles: 2, APICalls: 1}
	require.NoError(t, s.CompleteJob(ctx, id, counters, base.Add(time.Minute)))

	require.ErrorIs(t, s.CompleteJob(ctx, id, counters, base.Add(2*time.Minute)), monitor.ErrJobNotRunning)
	require.ErrorIs(t, s.FailJob(ctx, id, "late failure", base.Add(2*time.Minute)), monitor.ErrJobNotRunning)

	job, err = s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusCompleted, job.Status)
	require.Equal(t, 2, job.NewArticles)
	require.Empty(t, job.ErrorMessage)
	require.Equal(t, base.Add(time.Minute), *job.CompletedAt)

	require.ErrorIs(t, s.FailJob(ctx, 999, "missing", base), monitor.ErrNotFound)
}

func TestListJobsNewestFirst(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.CreateJob(ctx, monitor.ScrapingJob{ProjectID: 1, StartedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}
	_, err := s.CreateJob(ctx, monitor.ScrapingJob{ProjectID: 2, StartedAt: base})
	require.NoError(t, err)

	jobs, err := s.ListJobs(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	require.Equal(t, int64(5), jobs[0].ID)
	require.Equal(t, int64(3), jobs[2].ID)
}

func TestHistoryStats(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	for i, score := range []float64{0.5, 0.5, -0.1, -0.1, 0.9} {
		offsets := []time.Duration{-1 * time.Hour, -2 * time.Hour, -3 * 24 * time.Hour, -10 * 24 * time.Hour, -40 * 24 * time.Hour}
		_, err := s.InsertIfAbsent(ctx, article(t, 1, fmt.Sprintf("https://example.com/%d", i), score, base.Add(offsets[i])))
		require.NoError(t, err)
	}
	_, err := s.InsertIfAbsent(ctx, article(t, 2, "https://other.example.com", 1, base))
	require.NoError(t, err)

	count, err := s.CountScrapedSince(ctx, 1, base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, count)

	recent, ok, err := s.AverageSentiment(ctx, 1, monitor.TimeRange{From: base.Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 0.5, recent, 1e-9)

	historical, ok, err := s.AverageSentiment(ctx, 1, monitor.TimeRange{
		From:  base.Add(-30 * 24 * time.Hour),
		Until: base.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, -0.1, historical, 1e-9)

	_, ok, err = s.AverageSentiment(ctx, 3, monitor.TimeRange{From: base.Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAlertsAndSchedules(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	s.PutAlert(monitor.Alert{ID: 1, ProjectID: 1, Type: monitor.AlertSpikeDetection, IsActive: true, Recipients: []string{"a@example.com"}})
	s.PutAlert(monitor.Alert{ID: 2, ProjectID: 1, Type: monitor.AlertSpikeDetection, IsActive: false})
	s.PutAlert(monitor.Alert{ID: 3, ProjectID: 1, Type: monitor.AlertSentimentShift, IsActive: true})

	alerts, err := s.ListActiveAlerts(ctx, 1, monitor.AlertSpikeDetection)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, int64(1), alerts[0].ID)

	require.NoError(t, s.MarkTriggered(ctx, 1, base))
	require.NoError(t, s.MarkTriggered(ctx, 1, base.Add(time.Hour)))
	a, ok := s.GetAlert(1)
	require.True(t, ok)
	require.Equal(t, 2, a.TriggerCount)
	require.Equal(t, base.Add(time.Hour), *a.LastTriggered)
	require.ErrorIs(t, s.MarkTriggered(ctx, 42, base), monitor.ErrNotFound)

	require.NoError(t, s.AdvanceSchedule(ctx, 7, base, base.Add(6*time.Hour)))
	_, ok = s.GetSchedule(7)
	require.False(t, ok)

	s.PutSchedule(monitor.Schedule{ProjectID: 1, Frequency: "daily"})
	require.NoError(t, s.AdvanceSchedule(ctx, 1, base, base.Add(6*time.Hour)))
	sc, ok := s.GetSchedule(1)
	require.True(t, ok)
	require.Equal(t, base, *sc.LastRun)
	require.Equal(t, base.Add(6*time.Hour), *sc.NextRun)
}

func TestProjectsAndTerms(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	s.PutProject(monitor.Project{ID: 2, Brand: "Globex", Status: monitor.ProjectStatusActive})
	s.PutProject(monitor.Project{ID: 1, Brand: "Acme", Status: monitor.ProjectStatusActive})
	s.PutProject(monitor.Project{ID: 3, Brand: "Initech", Status: "paused"})
	s.SetKeywords(1, "rockets")
	s.SetCompetitors(1, "Globex")

	projects, err := s.ListActiveProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	require.Equal(t, int64(1), projects[0].ID)

	_, err = s.GetProject(ctx, 9)
	require.ErrorIs(t, err, monitor.ErrNotFound)

	kw, err := s.ListKeywords(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"rockets"}, kw)
	comp, err := s.ListCompetitors(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Globex"}, comp)

	require.NoError(t, s.RecordAPIUsage(ctx, monitor.APIUsage{ProjectID: 1, APIName: "dataforseo", CostUSD: 0.1}))
	require.Len(t, s.Usage(), 1)
}
