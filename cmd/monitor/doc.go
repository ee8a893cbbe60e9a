// Package main hosts the monitor worker entrypoint.
//
// Architecture overview:
//   - Task runtime: internal/taskqueue.Runtime pulls scrape tasks from an in-memory queue or a Pub/Sub
//     subscription and fans them out to a fixed worker pool sized by tasks.concurrency. Failed attempts are
//     retried up to tasks.max_retries times after a fixed tasks.retry_delay; each attempt runs under a hard
//     time limit with an optional soft warning limit.
//   - Scheduler: when scheduler.enabled is set, internal/scheduler enqueues one task per active project every
//     scheduler.interval. POST /v1/scheduler/tick runs the same pass on demand.
//   - Scrape pipeline: internal/orchestrator records a ScrapingJob, queries the search provider (DataForSEO or
//     Google News RSS), annotates each hit with Gemini, inserts new articles keyed by URL, records API usage,
//     advances the project schedule and finally runs the alert detectors.
//   - Side effects: raw search payloads are archived to the configured BlobStore (memory/local/GCS), new
//     articles are mirrored to Elasticsearch when index.enabled is set, and job lifecycle events go to
//     pubsub.events_topic. None of these can fail a job.
//   - Alerts: internal/alerts evaluates spike and sentiment-shift rules and mails each recipient through
//     internal/notify. Without SMTP credentials notifications are logged and skipped.
//   - Configuration & plumbing: Viper populates config from a YAML file, MONITOR_* env vars and the legacy
//     unprefixed names (DATABASE_URL, GEMINI_API_KEY, ...), with an optional .env loaded first; zap provides
//     structured logging; Prometheus metrics are served on /metrics.
//
// Quick checklist:
//   - Configure DATABASE_URL (or database.driver=memory for local runs), DATAFORSEO_LOGIN/PASSWORD or
//     search.provider=gnews, GEMINI_API_KEY and optionally SMTP_*.
//   - Run locally: go run ./cmd/monitor -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGTERM by stopping the HTTP server and draining in-flight tasks; tasks that
//     never reached a worker are nacked and redelivered.
package main
