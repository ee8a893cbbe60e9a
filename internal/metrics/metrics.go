// Package metrics exposes Prometheus collectors for the monitor worker.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	taskSoftLimitExceededTotal *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	jobsTotal                  *prometheus.CounterVec
	articlesTotal              *prometheus.CounterVec
	analysisTotal              *prometheus.CounterVec
	analysisWaitSeconds        prometheus.Histogram
	providerRequestsTotal      *prometheus.CounterVec
	providerCostUSDTotal       *prometheus.CounterVec
	alertsTriggeredTotal       *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	schedulerEnqueuedTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_tasks_total",
				Help: "Task attempts processed, labeled by task name and outcome.",
			},
			[]string{"task", "outcome"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_task_duration_seconds",
				Help:    "Histogram of task attempt durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"task"},
		)

		taskSoftLimitExceededTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_task_soft_limit_exceeded_total",
				Help: "Task attempts that ran past their soft time limit.",
			},
			[]string{"task"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_scraping_jobs_total",
				Help: "Scraping jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_articles_total",
				Help: "Articles handled by the orchestrator, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		analysisTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_analysis_total",
				Help: "Article analyses, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		analysisWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monitor_analysis_wait_seconds",
				Help:    "Histogram of pacing waits before analysis calls.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		providerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_provider_requests_total",
				Help: "External provider calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		providerCostUSDTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_provider_cost_usd_total",
				Help: "Accumulated provider cost in USD.",
			},
			[]string{"provider"},
		)

		alertsTriggeredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_alerts_triggered_total",
				Help: "Alerts triggered, labeled by alert type.",
			},
			[]string{"type"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_notifications_total",
				Help: "Notification deliveries, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		schedulerEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_scheduler_projects_total",
				Help: "Projects considered by scheduler ticks, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one task attempt and its duration.
func ObserveTask(task, outcome string, duration time.Duration) {
	Init()
	tasksTotal.WithLabelValues(task, outcome).Inc()
	taskDurationSeconds.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveSoftLimitExceeded counts an attempt that crossed its soft limit.
func ObserveSoftLimitExceeded(task string) {
	Init()
	taskSoftLimitExceededTotal.WithLabelValues(task).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveArticles adds n articles under the given outcome.
func ObserveArticles(outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	articlesTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveAnalysis counts one analysis call.
func ObserveAnalysis(outcome string) {
	Init()
	analysisTotal.WithLabelValues(outcome).Inc()
}

// ObserveAnalysisWait records the duration of a pacing wait.
func ObserveAnalysisWait(duration time.Duration) {
	Init()
	analysisWaitSeconds.Observe(duration.Seconds())
}

// ObserveProviderRequest counts a provider call and its cost.
func ObserveProviderRequest(provider, outcome string, costUSD float64) {
	Init()
	providerRequestsTotal.WithLabelValues(provider, outcome).Inc()
	if costUSD > 0 {
		providerCostUSDTotal.WithLabelValues(provider).Add(costUSD)
	}
}

// ObserveAlertTriggered counts a triggered alert.
func ObserveAlertTriggered(alertType string) {
	Init()
	alertsTriggeredTotal.WithLabelValues(alertType).Inc()
}

// ObserveNotification counts a notification attempt.
func ObserveNotification(outcome string) {
	Init()
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSchedulerProject counts a project considered by a scheduler tick.
func ObserveSchedulerProject(outcome string) {
	Init()
	schedulerEnqueuedTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
