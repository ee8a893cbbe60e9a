// Package api hosts the ops HTTP server for the monitor worker. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/projects/{project_id}/scrape to enqueue a manual scrape.
//   - GET /v1/projects/{project_id}/jobs and /v1/jobs/{job_id} for job history.
//   - POST /v1/scheduler/tick to run one scheduler pass on demand.
package api
