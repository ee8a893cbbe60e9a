// Package alerts evaluates spike and sentiment-shift rules after a scrape and
// e-mails the configured recipients when a rule fires.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/metrics"
	"github.com/JakeFAU/web-monitor/internal/monitor"
)

const (
	spikeWindowDays = 7
	recentWindow    = 24 * time.Hour
	historyWindow   = 30 * 24 * time.Hour

	// DefaultAppURL is linked from every alert e-mail.
	DefaultAppURL = "http://localhost:8501"
)

// Store is the persistence the engine reads and updates.
type Store interface {
	GetProject(ctx context.Context, projectID int64) (monitor.Project, error)
	monitor.ArticleStats
	monitor.AlertStore
}

// Config tunes rendering.
type Config struct {
	AppURL string
	// Location formats the e-mail timestamp; nil means UTC.
	Location *time.Location
}

// Engine implements monitor.AlertEvaluator.
type Engine struct {
	store    Store
	notifier monitor.Notifier
	clock    monitor.Clock
	cfg      Config
	logger   *zap.Logger
}

var _ monitor.AlertEvaluator = (*Engine)(nil)

// New builds an Engine.
func New(store Store, notifier monitor.Notifier, clock monitor.Clock, cfg Config, logger *zap.Logger) *Engine {
	if cfg.AppURL == "" {
		cfg.AppURL = DefaultAppURL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, notifier: notifier, clock: clock, cfg: cfg, logger: logger.Named("alerts")}
}

// trigger is one fired rule waiting to be delivered.
type trigger struct {
	alert   monitor.Alert
	subject string
	message string
}

// Evaluate runs both detectors. Detector failures do not stop the other
// detector; the joined store errors are returned.
func (e *Engine) Evaluate(ctx context.Context, projectID int64, newArticles int) error {
	now := e.clock.Now()
	var errs []error

	fired, err := e.checkSpike(ctx, projectID, newArticles, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("spike detection: %w", err))
	}
	shift, err := e.checkSentiment(ctx, projectID, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("sentiment shift: %w", err))
	}
	fired = append(fired, shift...)

	if len(fired) == 0 {
		return errors.Join(errs...)
	}
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		errs = append(errs, fmt.Errorf("load project %d: %w", projectID, err))
		return errors.Join(errs...)
	}
	for _, t := range fired {
		if err := e.fire(ctx, project, t, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) checkSpike(ctx context.Context, projectID int64, newArticles int, now time.Time) ([]trigger, error) {
	rules, err := e.store.ListActiveAlerts(ctx, projectID, monitor.AlertSpikeDetection)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	count, err := e.store.CountScrapedSince(ctx, projectID, now.AddDate(0, 0, -spikeWindowDays))
	if err != nil {
		return nil, err
	}
	avgDaily := float64(count) / spikeWindowDays

	var out []trigger
	for _, rule := range rules {
		if !SpikeTriggered(newArticles, avgDaily, rule.Threshold) {
			continue
		}
		out = append(out, trigger{
			alert:   rule,
			subject: "Mention Spike Detected",
			message: SpikeMessage(newArticles, avgDaily),
		})
	}
	return out, nil
}

func (e *Engine) checkSentiment(ctx context.Context, projectID int64, now time.Time) ([]trigger, error) {
	rules, err := e.store.ListActiveAlerts(ctx, projectID, monitor.AlertSentimentShift)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	dayAgo := now.Add(-recentWindow)
	recent, ok, err := e.store.AverageSentiment(ctx, projectID, monitor.TimeRange{From: dayAgo})
	if err != nil {
		return nil, err
	}
	if !ok {
		e.logger.Debug("no recent sentiment, skipping shift detection", zap.Int64("project_id", projectID))
		return nil, nil
	}
	historical, _, err := e.store.AverageSentiment(ctx, projectID, monitor.TimeRange{From: now.Add(-historyWindow), Until: dayAgo})
	if err != nil {
		return nil, err
	}

	var out []trigger
	for _, rule := range rules {
		if !SentimentShifted(recent, historical, rule.Threshold) {
			continue
		}
		out = append(out, trigger{
			alert:   rule,
			subject: "Sentiment Shift Detected",
			message: SentimentMessage(recent, historical),
		})
	}
	return out, nil
}

// fire notifies every recipient and then records the trigger. A failed
// delivery never blocks the remaining recipients or the bookkeeping.
func (e *Engine) fire(ctx context.Context, project monitor.Project, t trigger, now time.Time) error {
	subject := "[Web Monitor] " + t.subject
	body, err := RenderEmail(EmailData{
		Subject:   t.subject,
		Project:   project.Name,
		Brand:     project.Brand,
		Timestamp: now.In(e.cfg.Location).Format("02/01/2006 15:04"),
		Message:   t.message,
		AppURL:    e.cfg.AppURL,
	})
	if err != nil {
		return fmt.Errorf("render alert %d: %w", t.alert.ID, err)
	}

	for _, recipient := range t.alert.Recipients {
		if err := e.notifier.Send(ctx, recipient, subject, body); err != nil {
			e.logger.Warn("alert delivery failed",
				zap.Int64("alert_id", t.alert.ID),
				zap.String("recipient", recipient),
				zap.Error(err),
			)
		}
	}

	if err := e.store.MarkTriggered(ctx, t.alert.ID, now); err != nil {
		return fmt.Errorf("mark alert %d triggered: %w", t.alert.ID, err)
	}
	metrics.ObserveAlertTriggered(string(t.alert.Type))
	e.logger.Info("alert triggered",
		zap.Int64("alert_id", t.alert.ID),
		zap.Int64("project_id", project.ID),
		zap.String("type", string(t.alert.Type)),
		zap.Int("recipients", len(t.alert.Recipients)),
	)
	return nil
}

// SpikeTriggered reports whether newArticles strictly exceeds the scaled
// daily average.
func SpikeTriggered(newArticles int, avgDaily, threshold float64) bool {
	return float64(newArticles) > avgDaily*threshold
}

// SentimentShifted reports whether the absolute change strictly exceeds the
// threshold.
func SentimentShifted(recent, historical, threshold float64) bool {
	return math.Abs(recent-historical) > threshold
}

// SpikeMessage renders the spike alert text.
func SpikeMessage(newArticles int, avgDaily float64) string {
	return fmt.Sprintf("%d new articles (historical average: %.1f)", newArticles, avgDaily)
}

// SentimentMessage renders the sentiment alert text.
func SentimentMessage(recent, historical float64) string {
	trend := "negative"
	if recent > historical {
		trend = "positive"
	}
	return fmt.Sprintf("Current sentiment: %+.2f (historical: %+.2f)\nTrend: %s", recent, historical, trend)
}
