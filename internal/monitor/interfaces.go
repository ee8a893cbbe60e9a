package monitor

import (
	"context"
	"io"
	"time"
)

// ProjectReader loads project configuration maintained by the CRUD API.
type ProjectReader interface {
	GetProject(ctx context.Context, projectID int64) (Project, error)
	ListActiveProjects(ctx context.Context) ([]Project, error)
	ListKeywords(ctx context.Context, projectID int64) ([]string, error)
	ListCompetitors(ctx context.Context, projectID int64) ([]string, error)
}

// ArticleStore persists analyzed articles. InsertIfAbsent must be backed by a
// storage-level uniqueness guarantee on the URL so concurrent writers collapse
// duplicates; it reports false when the URL already exists.
type ArticleStore interface {
	InsertIfAbsent(ctx context.Context, article AnalyzedArticle) (bool, error)
}

// TimeRange is a half-open [From, Until) window. A zero Until is unbounded.
type TimeRange struct {
	From  time.Time
	Until time.Time
}

// ArticleStats answers the aggregate queries used by the alert detectors.
type ArticleStats interface {
	CountScrapedSince(ctx context.Context, projectID int64, since time.Time) (int, error)
	// AverageSentiment returns ok=false when no scored article falls in the window.
	AverageSentiment(ctx context.Context, projectID int64, window TimeRange) (avg float64, ok bool, err error)
}

// JobStore records scraping job lifecycle. CompleteJob and FailJob only move a
// running job; they return ErrJobNotRunning for any other state.
type JobStore interface {
	CreateJob(ctx context.Context, job ScrapingJob) (int64, error)
	CompleteJob(ctx context.Context, jobID int64, counters JobCounters, at time.Time) error
	FailJob(ctx context.Context, jobID int64, message string, at time.Time) error
	GetJob(ctx context.Context, jobID int64) (ScrapingJob, error)
	ListJobs(ctx context.Context, projectID int64, limit int) ([]ScrapingJob, error)
}

// AlertStore exposes alert rules and their trigger bookkeeping.
type AlertStore interface {
	ListActiveAlerts(ctx context.Context, projectID int64, alertType AlertType) ([]Alert, error)
	// MarkTriggered sets last_triggered and increments trigger_count in one statement.
	MarkTriggered(ctx context.Context, alertID int64, at time.Time) error
}

// ScheduleStore advances per-project schedules.
type ScheduleStore interface {
	AdvanceSchedule(ctx context.Context, projectID int64, lastRun, nextRun time.Time) error
}

// UsageRecorder stores API cost accounting rows.
type UsageRecorder interface {
	RecordAPIUsage(ctx context.Context, usage APIUsage) error
}

// Store is the full persistence surface used by the worker process.
type Store interface {
	ProjectReader
	ArticleStore
	ArticleStats
	JobStore
	AlertStore
	ScheduleStore
	UsageRecorder
	Close()
}

// SearchProvider finds candidate articles for a term set. Provider-reported
// failures come back as SearchResult.Success=false; transport failures may
// also surface as an error.
type SearchProvider interface {
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
}

// AnalysisProvider annotates one article.
type AnalysisProvider interface {
	Analyze(ctx context.Context, req AnalysisRequest) (Annotation, error)
}

// Notifier delivers one rendered message to one recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, htmlBody string) error
}

// AlertEvaluator runs the alert detectors after new articles land.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, projectID int64, newArticles int) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ArticleIndexer mirrors newly stored articles into a search index.
type ArticleIndexer interface {
	IndexArticle(ctx context.Context, article AnalyzedArticle) error
}

// Enqueuer submits a scrape task for one project and returns its task id.
type Enqueuer interface {
	EnqueueProject(ctx context.Context, projectID int64) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
