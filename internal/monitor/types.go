// Package monitor defines the domain types, collaborator interfaces and error
// taxonomy shared by the scraping orchestrator, alert engine and task runtime.
package monitor

import (
	"strings"
	"time"
)

// ProjectStatusActive marks a project that the scheduler should scrape.
const ProjectStatusActive = "active"

// Project is a monitored brand configuration. The core only reads it.
type Project struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Brand    string `json:"brand"`
	Industry string `json:"industry"`
	Market   string `json:"market"`
	Status   string `json:"status"`
}

// Active reports whether the project should be scraped.
func (p Project) Active() bool {
	return p.Status == ProjectStatusActive
}

// SearchTerms builds the per-run term set: the brand first, then keywords and
// competitor names. Blank terms are dropped and case-insensitive duplicates
// collapse onto their first occurrence.
func SearchTerms(brand string, keywords, competitors []string) []string {
	seen := make(map[string]struct{}, 1+len(keywords)+len(competitors))
	terms := make([]string, 0, 1+len(keywords)+len(competitors))
	add := func(term string) {
		term = strings.TrimSpace(term)
		if term == "" {
			return
		}
		key := strings.ToLower(term)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}
	add(brand)
	for _, kw := range keywords {
		add(kw)
	}
	for _, c := range competitors {
		add(c)
	}
	return terms
}

// Sentiment labels returned by the analysis provider.
type Sentiment string

// Supported sentiment labels.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment normalizes a provider label, falling back to neutral.
func ParseSentiment(label string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(label))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Entities groups named entities extracted from an article.
type Entities struct {
	People        []string `json:"people"`
	Organizations []string `json:"organizations"`
	Locations     []string `json:"locations"`
}

// RawArticle is a search hit before analysis.
type RawArticle struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Snippet     string     `json:"snippet"`
	QuerySource string     `json:"query_source,omitempty"`
}

// Annotation is the analysis provider's output for one article.
type Annotation struct {
	Sentiment      Sentiment `json:"sentiment"`
	SentimentScore float64   `json:"sentiment_score"`
	Topics         []string  `json:"topics"`
	Entities       Entities  `json:"entities"`
	Summary        string    `json:"summary"`
	RelevanceScore float64   `json:"relevance_score"`
}

const (
	neutralRelevance = 50
	summaryMaxRunes  = 200
)

// NeutralAnnotation is substituted when analysis of an article fails.
func NeutralAnnotation(raw RawArticle) Annotation {
	return Annotation{
		Sentiment:      SentimentNeutral,
		SentimentScore: 0,
		Topics:         []string{},
		Summary:        truncateRunes(raw.Snippet, summaryMaxRunes),
		RelevanceScore: neutralRelevance,
	}
}

// AnalyzedArticle combines a search hit with its annotation. Build it with
// NewAnalyzedArticle so scores are kept inside their documented ranges.
type AnalyzedArticle struct {
	RawArticle
	Annotation
	ProjectID int64     `json:"project_id"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// NewAnalyzedArticle validates and merges a raw article with its annotation.
func NewAnalyzedArticle(projectID int64, raw RawArticle, ann Annotation, scrapedAt time.Time) (AnalyzedArticle, error) {
	raw.URL = strings.TrimSpace(raw.URL)
	if raw.URL == "" {
		return AnalyzedArticle{}, &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	ann.Sentiment = ParseSentiment(string(ann.Sentiment))
	ann.SentimentScore = clamp(ann.SentimentScore, -1, 1)
	ann.RelevanceScore = clamp(ann.RelevanceScore, 0, 100)
	if ann.Topics == nil {
		ann.Topics = []string{}
	}
	if ann.Summary == "" {
		ann.Summary = truncateRunes(raw.Snippet, summaryMaxRunes)
	}
	return AnalyzedArticle{
		RawArticle: raw,
		Annotation: ann,
		ProjectID:  projectID,
		ScrapedAt:  scrapedAt,
	}, nil
}

// JobStatus is the lifecycle state of a scraping job.
type JobStatus string

// Job states. A job starts running and ends in exactly one terminal state.
const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ScrapingJob records one orchestrator attempt for one project.
type ScrapingJob struct {
	ID            int64      `json:"id"`
	ProjectID     int64      `json:"project_id"`
	Status        JobStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ArticlesFound int        `json:"articles_found"`
	NewArticles   int        `json:"new_articles"`
	APICalls      int        `json:"api_calls"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	TaskID        string     `json:"task_id"`
}

// JobCounters carries the figures written when a job completes.
type JobCounters struct {
	ArticlesFound int
	NewArticles   int
	APICalls      int
}

// AlertType selects the detector that evaluates an alert.
type AlertType string

// Supported alert types.
const (
	AlertSpikeDetection AlertType = "spike_detection"
	AlertSentimentShift AlertType = "sentiment_shift"
)

// Alert is a user-configured notification rule.
type Alert struct {
	ID            int64      `json:"id"`
	ProjectID     int64      `json:"project_id"`
	Type          AlertType  `json:"type"`
	Threshold     float64    `json:"threshold"`
	WindowHours   int        `json:"window_hours"`
	Recipients    []string   `json:"email_recipients"`
	IsActive      bool       `json:"is_active"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	TriggerCount  int        `json:"trigger_count"`
}

// Schedule tracks when a project was last scraped and when it is due next.
type Schedule struct {
	ProjectID int64      `json:"project_id"`
	Frequency string     `json:"frequency"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// APIUsage is one cost-accounting row for an external provider call.
type APIUsage struct {
	ProjectID  int64
	APIName    string
	Endpoint   string
	StatusCode int
	CostUSD    float64
	CreatedAt  time.Time
}

// SearchRequest is sent to a SearchProvider.
type SearchRequest struct {
	Terms        []string
	Market       string
	LookbackDays int
	MaxResults   int
}

// SearchResult is returned by a SearchProvider. Success=false carries the
// provider's error text in Error.
type SearchResult struct {
	// Provider and Endpoint label the usage row recorded for the call.
	Provider string
	Endpoint string
	Articles []RawArticle
	APICalls int
	CostUSD  float64
	Success  bool
	Error    string
	// Raw holds the provider payload for archiving; it may be nil.
	Raw []byte
}

// AnalysisRequest is sent to an AnalysisProvider.
type AnalysisRequest struct {
	Title   string
	Snippet string
	Brand   string
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
