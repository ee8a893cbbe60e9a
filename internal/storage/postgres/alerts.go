package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

// ListActiveAlerts returns the project's active alerts of one type.
func (s *Store) ListActiveAlerts(ctx context.Context, projectID int64, alertType monitor.AlertType) ([]monitor.Alert, error) {
	query, args, err := s.psql.Select(
		"id",
		"project_id",
		"type",
		"threshold",
		"window_hours",
		"email_recipients",
		"is_active",
		"last_triggered",
		"trigger_count",
	).
		From("alerts").
		Where(sq.Eq{"project_id": projectID, "type": string(alertType), "is_active": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build alerts query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []monitor.Alert
	for rows.Next() {
		var (
			a   monitor.Alert
			typ string
		)
		if err := rows.Scan(
			&a.ID,
			&a.ProjectID,
			&typ,
			&a.Threshold,
			&a.WindowHours,
			&a.Recipients,
			&a.IsActive,
			&a.LastTriggered,
			&a.TriggerCount,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = monitor.AlertType(typ)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// MarkTriggered records a trigger in a single statement so concurrent
// evaluations never lose an increment.
func (s *Store) MarkTriggered(ctx context.Context, alertID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET last_triggered = $1, trigger_count = trigger_count + 1 WHERE id = $2`,
		at, alertID,
	)
	if err != nil {
		return fmt.Errorf("mark alert %d triggered: %w", alertID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark alert %d triggered: %w", alertID, monitor.ErrNotFound)
	}
	return nil
}

// AdvanceSchedule stamps last_run and next_run. Projects without a schedule
// row are left alone.
func (s *Store) AdvanceSchedule(ctx context.Context, projectID int64, lastRun, nextRun time.Time) error {
	query, args, err := s.psql.Update("schedules").
		Set("last_run", lastRun).
		Set("next_run", nextRun).
		Where(sq.Eq{"project_id": projectID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build schedule update: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	return nil
}

// RecordAPIUsage appends an api_logs row.
func (s *Store) RecordAPIUsage(ctx context.Context, u monitor.APIUsage) error {
	query, args, err := s.psql.Insert("api_logs").
		Columns("project_id", "api_name", "endpoint", "status_code", "cost_usd", "created_at").
		Values(u.ProjectID, u.APIName, u.Endpoint, u.StatusCode, u.CostUSD, u.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build usage insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record api usage: %w", err)
	}
	return nil
}
