package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

var jobColumns = []string{
	"id",
	"COALESCE(project_id, 0)",
	"status",
	"started_at",
	"completed_at",
	"articles_found",
	"new_articles",
	"api_calls",
	"COALESCE(error_message, '')",
	"COALESCE(task_id, '')",
}

// CreateJob inserts a running job and returns its id.
func (s *Store) CreateJob(ctx context.Context, job monitor.ScrapingJob) (int64, error) {
	query, args, err := s.psql.Insert("scraping_jobs").
		Columns("project_id", "status", "started_at", "task_id").
		Values(job.ProjectID, string(monitor.JobStatusRunning), job.StartedAt, job.TaskID).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build job insert: %w", err)
	}
	var id int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	return id, nil
}

// CompleteJob moves a running job to completed with its counters.
func (s *Store) CompleteJob(ctx context.Context, jobID int64, counters monitor.JobCounters, at time.Time) error {
	query, args, err := s.psql.Update("scraping_jobs").
		Set("status", string(monitor.JobStatusCompleted)).
		Set("completed_at", at).
		Set("articles_found", counters.ArticlesFound).
		Set("new_articles", counters.NewArticles).
		Set("api_calls", counters.APICalls).
		Where(sq.Eq{"id": jobID, "status": string(monitor.JobStatusRunning)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job completion: %w", err)
	}
	return s.finishJob(ctx, jobID, query, args)
}

// FailJob moves a running job to failed with the error text.
func (s *Store) FailJob(ctx context.Context, jobID int64, message string, at time.Time) error {
	query, args, err := s.psql.Update("scraping_jobs").
		Set("status", string(monitor.JobStatusFailed)).
		Set("completed_at", at).
		Set("error_message", message).
		Where(sq.Eq{"id": jobID, "status": string(monitor.JobStatusRunning)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job failure: %w", err)
	}
	return s.finishJob(ctx, jobID, query, args)
}

func (s *Store) finishJob(ctx context.Context, jobID int64, query string, args []any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %d: %w", jobID, monitor.ErrJobNotRunning)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, jobID int64) (monitor.ScrapingJob, error) {
	query, args, err := s.psql.Select(jobColumns...).
		From("scraping_jobs").
		Where(sq.Eq{"id": jobID}).
		ToSql()
	if err != nil {
		return monitor.ScrapingJob{}, fmt.Errorf("build job query: %w", err)
	}
	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return monitor.ScrapingJob{}, fmt.Errorf("get job %d: %w", jobID, notFound(err))
	}
	return job, nil
}

// ListJobs returns the project's most recent jobs first.
func (s *Store) ListJobs(ctx context.Context, projectID int64, limit int) ([]monitor.ScrapingJob, error) {
	builder := s.psql.Select(jobColumns...).
		From("scraping_jobs").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("started_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build job list: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []monitor.ScrapingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (monitor.ScrapingJob, error) {
	var (
		job    monitor.ScrapingJob
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&status,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ArticlesFound,
		&job.NewArticles,
		&job.APICalls,
		&job.ErrorMessage,
		&job.TaskID,
	)
	if err != nil {
		return monitor.ScrapingJob{}, err
	}
	job.Status = monitor.JobStatus(status)
	return job, nil
}
