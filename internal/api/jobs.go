package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

const (
	defaultJobLimit = 10
	maxJobLimit     = 100
	jobsTimeout     = 3 * time.Second
)

// JobReader is the job history surface.
type JobReader interface {
	GetJob(ctx context.Context, jobID int64) (monitor.ScrapingJob, error)
	ListJobs(ctx context.Context, projectID int64, limit int) ([]monitor.ScrapingJob, error)
}

// JobHandler exposes read-only scraping job endpoints.
type JobHandler struct {
	repo    JobReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewJobHandler wires the repository and logger.
func NewJobHandler(repo JobReader, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{
		repo:    repo,
		timeout: jobsTimeout,
		logger:  logger,
	}
}

// ListProjectJobs handles GET /v1/projects/{project_id}/jobs?limit=. It returns
// {"jobs": [...]} newest first, 400 for a malformed id or limit, 503 when the
// repository is missing, or 500 if the repository call fails.
func (h *JobHandler) ListProjectJobs(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "job repository unavailable")
		return
	}
	projectID, err := parseIDParam(r, "project_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	jobs, err := h.repo.ListJobs(ctx, projectID, limit)
	if err != nil {
		h.logger.Error("list jobs failed", zap.Int64("project_id", projectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []monitor.ScrapingJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// GetJob handles GET /v1/jobs/{job_id}. It returns {"job": {...}}, 400 for
// malformed ids, 404 when the job does not exist, or 500 otherwise.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "job repository unavailable")
		return
	}
	jobID, err := parseIDParam(r, "job_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	job, err := h.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, monitor.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get job failed", zap.Int64("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, errors.New(name + " is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
