// Package orchestrator runs one scraping job for one project: search, analyze,
// persist, bookkeeping and alert evaluation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/web-monitor/internal/metrics"
	"github.com/JakeFAU/web-monitor/internal/monitor"
	"github.com/JakeFAU/web-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/web-monitor/internal/taskqueue"
	"github.com/JakeFAU/web-monitor/internal/telemetry"
)

// Defaults applied by New.
const (
	DefaultLookbackDays     = 7
	DefaultMaxResults       = 100
	DefaultAnalysisInterval = 500 * time.Millisecond
	DefaultScheduleInterval = 6 * time.Hour
	DefaultArchivePrefix    = "raw"

	failureWriteTimeout = 10 * time.Second
	analysisLimiterKey  = "analysis"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	monitor.ProjectReader
	monitor.ArticleStore
	monitor.JobStore
	monitor.ScheduleStore
	monitor.UsageRecorder
}

// Config tunes a run.
type Config struct {
	LookbackDays int
	MaxResults   int
	// AnalysisInterval spaces analysis calls; zero disables pacing.
	AnalysisInterval time.Duration
	// AnalysisConcurrency above 1 analyzes articles in parallel.
	AnalysisConcurrency int
	ScheduleInterval    time.Duration
	// EventsTopic receives job lifecycle events; empty disables publishing.
	EventsTopic   string
	ArchivePrefix string
}

// Deps are the collaborators of a run. Alerts, Archive, Index and Events
// are optional.
type Deps struct {
	Store    Store
	Search   monitor.SearchProvider
	Analysis monitor.AnalysisProvider
	Alerts   monitor.AlertEvaluator
	Archive  monitor.BlobStore
	Index    monitor.ArticleIndexer
	Events   monitor.Publisher
	Clock    monitor.Clock
}

// Result summarizes a successful run.
type Result struct {
	JobID       int64 `json:"job_id"`
	NewArticles int   `json:"new_articles"`
	TotalFound  int   `json:"total_found"`
}

// Orchestrator executes scrape jobs.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New validates deps and applies defaults.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.Search == nil:
		return nil, errors.New("orchestrator: search provider is required")
	case deps.Analysis == nil:
		return nil, errors.New("orchestrator: analysis provider is required")
	case deps.Clock == nil:
		return nil, errors.New("orchestrator: clock is required")
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.AnalysisInterval < 0 {
		cfg.AnalysisInterval = 0
	}
	if cfg.AnalysisConcurrency <= 0 {
		cfg.AnalysisConcurrency = 1
	}
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = DefaultScheduleInterval
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = DefaultArchivePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		limiter: ratelimit.New(ratelimit.Config{Interval: cfg.AnalysisInterval, Burst: 1}),
		logger:  logger.Named("orchestrator"),
	}, nil
}

// HandleTask adapts Run to the task runtime.
func (o *Orchestrator) HandleTask(ctx context.Context, task taskqueue.Task) error {
	_, err := o.Run(ctx, task.ProjectID, task.ID)
	return err
}

// Run executes one attempt. Every attempt records its own job, which ends
// either completed or failed; errors are returned for the task runtime to
// classify.
func (o *Orchestrator) Run(ctx context.Context, projectID int64, taskID string) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "orchestrator.run",
		attribute.Int64("project.id", projectID),
		attribute.String("task.id", taskID),
	)
	res, err := o.run(ctx, projectID, taskID)
	span.SetAttributes(
		attribute.Int64("job.id", res.JobID),
		attribute.Int("articles.found", res.TotalFound),
		attribute.Int("articles.new", res.NewArticles),
	)
	telemetry.End(span, err)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, projectID int64, taskID string) (Result, error) {
	logger := o.logger.With(zap.Int64("project_id", projectID), zap.String("task_id", taskID)).
		With(telemetry.LogFields(ctx)...)

	jobID, err := o.deps.Store.CreateJob(ctx, monitor.ScrapingJob{
		ProjectID: projectID,
		Status:    monitor.JobStatusRunning,
		StartedAt: o.deps.Clock.Now(),
		TaskID:    taskID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create job for project %d: %w", projectID, err)
	}
	logger = logger.With(zap.Int64("job_id", jobID))
	o.publish(ctx, logger, newEvent(EventJobStarted, jobID, projectID, taskID, o.deps.Clock.Now()))

	res, err := o.execute(ctx, logger, jobID, projectID, taskID)
	if err != nil {
		o.fail(ctx, logger, jobID, projectID, taskID, err)
		return Result{JobID: jobID}, err
	}
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, logger *zap.Logger, jobID, projectID int64, taskID string) (Result, error) {
	project, terms, err := o.loadProject(ctx, projectID)
	if err != nil {
		return Result{}, err
	}
	logger.Info("scraping project", zap.String("brand", project.Brand), zap.Int("terms", len(terms)))

	found, err := o.search(ctx, logger, jobID, project, terms)
	if err != nil {
		return Result{}, err
	}
	result := Result{JobID: jobID, TotalFound: len(found.Articles)}
	metrics.ObserveArticles("found", len(found.Articles))

	if len(found.Articles) == 0 {
		if err := o.recordUsage(ctx, projectID, found); err != nil {
			return Result{}, err
		}
		if err := o.deps.Store.CompleteJob(ctx, jobID, monitor.JobCounters{APICalls: found.APICalls}, o.deps.Clock.Now()); err != nil {
			return Result{}, fmt.Errorf("complete job %d: %w", jobID, err)
		}
		o.completed(ctx, logger, jobID, projectID, taskID, result)
		return result, nil
	}

	analyzed, err := o.analyze(ctx, logger, project, found.Articles)
	if err != nil {
		return Result{}, err
	}

	inserted := o.persist(ctx, logger, analyzed)
	result.NewArticles = len(inserted)
	o.index(ctx, logger, inserted)

	if err := o.recordUsage(ctx, projectID, found); err != nil {
		return Result{}, err
	}
	now := o.deps.Clock.Now()
	if err := o.deps.Store.AdvanceSchedule(ctx, projectID, now, now.Add(o.cfg.ScheduleInterval)); err != nil {
		return Result{}, fmt.Errorf("advance schedule for project %d: %w", projectID, err)
	}
	counters := monitor.JobCounters{
		ArticlesFound: len(found.Articles),
		NewArticles:   result.NewArticles,
		APICalls:      found.APICalls,
	}
	if err := o.deps.Store.CompleteJob(ctx, jobID, counters, now); err != nil {
		return Result{}, fmt.Errorf("complete job %d: %w", jobID, err)
	}
	o.completed(ctx, logger, jobID, projectID, taskID, result)

	if result.NewArticles > 0 && o.deps.Alerts != nil {
		if err := o.deps.Alerts.Evaluate(ctx, projectID, result.NewArticles); err != nil {
			logger.Error("alert evaluation failed", zap.Error(err))
		}
	}
	return result, nil
}

func (o *Orchestrator) loadProject(ctx context.Context, projectID int64) (monitor.Project, []string, error) {
	project, err := o.deps.Store.GetProject(ctx, projectID)
	if errors.Is(err, monitor.ErrNotFound) {
		return monitor.Project{}, nil, &monitor.ConfigurationError{ProjectID: projectID, Reason: "project not found or inactive"}
	}
	if err != nil {
		return monitor.Project{}, nil, fmt.Errorf("load project %d: %w", projectID, err)
	}
	if !project.Active() {
		return monitor.Project{}, nil, &monitor.ConfigurationError{ProjectID: projectID, Reason: "project not found or inactive"}
	}
	keywords, err := o.deps.Store.ListKeywords(ctx, projectID)
	if err != nil {
		return monitor.Project{}, nil, fmt.Errorf("load keywords for project %d: %w", projectID, err)
	}
	competitors, err := o.deps.Store.ListCompetitors(ctx, projectID)
	if err != nil {
		return monitor.Project{}, nil, fmt.Errorf("load competitors for project %d: %w", projectID, err)
	}
	terms := monitor.SearchTerms(project.Brand, keywords, competitors)
	if len(terms) == 0 {
		return monitor.Project{}, nil, &monitor.ConfigurationError{ProjectID: projectID, Reason: "no search terms configured"}
	}
	return project, terms, nil
}

func (o *Orchestrator) search(ctx context.Context, logger *zap.Logger, jobID int64, project monitor.Project, terms []string) (monitor.SearchResult, error) {
	res, err := o.deps.Search.Search(ctx, monitor.SearchRequest{
		Terms:        terms,
		Market:       project.Market,
		LookbackDays: o.cfg.LookbackDays,
		MaxResults:   o.cfg.MaxResults,
	})
	if err != nil {
		metrics.ObserveProviderRequest(res.Provider, "error", 0)
		return monitor.SearchResult{}, &monitor.ProviderError{Provider: res.Provider, Message: err.Error(), Err: err}
	}
	if !res.Success {
		metrics.ObserveProviderRequest(res.Provider, "failed", res.CostUSD)
		return monitor.SearchResult{}, &monitor.ProviderError{Provider: res.Provider, Message: res.Error}
	}
	metrics.ObserveProviderRequest(res.Provider, "success", res.CostUSD)
	logger.Info("search completed",
		zap.String("provider", res.Provider),
		zap.Int("articles", len(res.Articles)),
		zap.Int("api_calls", res.APICalls),
		zap.Float64("cost_usd", res.CostUSD),
	)
	o.archive(ctx, logger, jobID, project.ID, res)
	return res, nil
}

// analyze annotates every article. Analysis failures fall back to the neutral
// annotation; only cancellation aborts the run.
func (o *Orchestrator) analyze(ctx context.Context, logger *zap.Logger, project monitor.Project, raws []monitor.RawArticle) ([]monitor.AnalyzedArticle, error) {
	out := make([]*monitor.AnalyzedArticle, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.AnalysisConcurrency)
	for i, raw := range raws {
		g.Go(func() error {
			a, err := o.analyzeOne(gctx, logger, project, raw)
			if err != nil {
				return err
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	analyzed := make([]monitor.AnalyzedArticle, 0, len(raws))
	for _, a := range out {
		if a != nil {
			analyzed = append(analyzed, *a)
		}
	}
	return analyzed, nil
}

func (o *Orchestrator) analyzeOne(ctx context.Context, logger *zap.Logger, project monitor.Project, raw monitor.RawArticle) (*monitor.AnalyzedArticle, error) {
	waited, err := o.limiter.Wait(ctx, analysisLimiterKey)
	if err != nil {
		return nil, err
	}
	metrics.ObserveAnalysisWait(waited)

	ann, err := o.deps.Analysis.Analyze(ctx, monitor.AnalysisRequest{
		Title:   raw.Title,
		Snippet: raw.Snippet,
		Brand:   project.Brand,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("analyze %s: %w", raw.URL, ctxErr)
		}
		metrics.ObserveAnalysis("fallback")
		logger.Warn("analysis failed, using neutral annotation",
			zap.String("url", raw.URL),
			zap.Error(&monitor.AnalysisError{URL: raw.URL, Err: err}),
		)
		ann = monitor.NeutralAnnotation(raw)
	} else {
		metrics.ObserveAnalysis("success")
	}

	a, err := monitor.NewAnalyzedArticle(project.ID, raw, ann, o.deps.Clock.Now())
	if err != nil {
		logger.Warn("dropping invalid article", zap.String("title", raw.Title), zap.Error(err))
		metrics.ObserveArticles("invalid", 1)
		return nil, nil
	}
	return &a, nil
}

// persist stores articles one by one and returns the newly inserted ones.
// Per-article failures are logged and skipped.
func (o *Orchestrator) persist(ctx context.Context, logger *zap.Logger, articles []monitor.AnalyzedArticle) []monitor.AnalyzedArticle {
	var inserted []monitor.AnalyzedArticle
	duplicates := 0
	for _, a := range articles {
		ok, err := o.deps.Store.InsertIfAbsent(ctx, a)
		if err != nil {
			metrics.ObserveArticles("failed", 1)
			logger.Warn("saving article failed", zap.Error(&monitor.PersistenceError{URL: a.URL, Err: err}))
			continue
		}
		if !ok {
			duplicates++
			continue
		}
		inserted = append(inserted, a)
	}
	metrics.ObserveArticles("new", len(inserted))
	metrics.ObserveArticles("duplicate", duplicates)
	logger.Info("articles saved", zap.Int("new", len(inserted)), zap.Int("duplicates", duplicates))
	return inserted
}

func (o *Orchestrator) recordUsage(ctx context.Context, projectID int64, res monitor.SearchResult) error {
	err := o.deps.Store.RecordAPIUsage(ctx, monitor.APIUsage{
		ProjectID:  projectID,
		APIName:    res.Provider,
		Endpoint:   res.Endpoint,
		StatusCode: 200,
		CostUSD:    res.CostUSD,
		CreatedAt:  o.deps.Clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("record api usage for project %d: %w", projectID, err)
	}
	return nil
}

func (o *Orchestrator) completed(ctx context.Context, logger *zap.Logger, jobID, projectID int64, taskID string, res Result) {
	metrics.ObserveJob(string(monitor.JobStatusCompleted))
	ev := newEvent(EventJobCompleted, jobID, projectID, taskID, o.deps.Clock.Now())
	ev.ArticlesFound = res.TotalFound
	ev.NewArticles = res.NewArticles
	o.publish(ctx, logger, ev)
	logger.Info("job completed", zap.Int("found", res.TotalFound), zap.Int("new", res.NewArticles))
}

// fail records the failure on a context detached from the attempt, so a
// timed out attempt still ends in a terminal state.
func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, jobID, projectID int64, taskID string, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	metrics.ObserveJob(string(monitor.JobStatusFailed))
	logger.Error("job failed", zap.Error(cause), zap.String("kind", monitor.Classify(cause).String()))
	if err := o.deps.Store.FailJob(wctx, jobID, cause.Error(), o.deps.Clock.Now()); err != nil {
		logger.Error("recording job failure failed", zap.Error(err))
	}
	ev := newEvent(EventJobFailed, jobID, projectID, taskID, o.deps.Clock.Now())
	ev.Error = cause.Error()
	o.publish(wctx, logger, ev)
}
