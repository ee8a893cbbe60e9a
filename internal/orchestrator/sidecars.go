package orchestrator

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

// archive stores the raw provider payload. Failures are logged only.
func (o *Orchestrator) archive(ctx context.Context, logger *zap.Logger, jobID, projectID int64, res monitor.SearchResult) {
	if o.deps.Archive == nil || len(res.Raw) == 0 {
		return
	}
	contentType, ext := "application/json", "json"
	if bytes.HasPrefix(bytes.TrimSpace(res.Raw), []byte("<")) {
		contentType, ext = "application/xml", "xml"
	}
	path := ArchivePath(o.cfg.ArchivePrefix, projectID, jobID, res.Provider, ext)
	uri, err := o.deps.Archive.PutObject(ctx, path, contentType, bytes.NewReader(res.Raw))
	if err != nil {
		logger.Warn("archiving search payload failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("archived search payload", zap.String("uri", uri))
}

// ArchivePath names the object holding one job's raw search payload.
func ArchivePath(prefix string, projectID, jobID int64, provider, ext string) string {
	if provider == "" {
		provider = "search"
	}
	return fmt.Sprintf("%s/project-%d/job-%d/%s.%s", prefix, projectID, jobID, provider, ext)
}

// index mirrors new articles into the search index. Failures are logged only.
func (o *Orchestrator) index(ctx context.Context, logger *zap.Logger, articles []monitor.AnalyzedArticle) {
	if o.deps.Index == nil {
		return
	}
	failed := 0
	for _, a := range articles {
		if err := o.deps.Index.IndexArticle(ctx, a); err != nil {
			failed++
			logger.Warn("indexing article failed", zap.String("url", a.URL), zap.Error(err))
		}
	}
	if failed > 0 {
		logger.Warn("some articles were not indexed", zap.Int("failed", failed), zap.Int("total", len(articles)))
	}
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, ev Event) {
	if o.deps.Events == nil || o.cfg.EventsTopic == "" {
		return
	}
	if _, err := o.deps.Events.Publish(ctx, o.cfg.EventsTopic, ev); err != nil {
		logger.Warn("publishing job event failed", zap.String("type", ev.Type), zap.Error(err))
	}
}
