package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

var projectColumns = []string{
	"id",
	"name",
	"brand",
	"COALESCE(industry, '')",
	"market",
	"status",
}

// GetProject loads one project regardless of status.
func (s *Store) GetProject(ctx context.Context, projectID int64) (monitor.Project, error) {
	query, args, err := s.psql.Select(projectColumns...).
		From("projects").
		Where(sq.Eq{"id": projectID}).
		ToSql()
	if err != nil {
		return monitor.Project{}, fmt.Errorf("build project query: %w", err)
	}
	var p monitor.Project
	err = s.pool.QueryRow(ctx, query, args...).Scan(&p.ID, &p.Name, &p.Brand, &p.Industry, &p.Market, &p.Status)
	if err != nil {
		return monitor.Project{}, fmt.Errorf("get project %d: %w", projectID, notFound(err))
	}
	return p, nil
}

// ListActiveProjects returns every project with status active, by id.
func (s *Store) ListActiveProjects(ctx context.Context) ([]monitor.Project, error) {
	query, args, err := s.psql.Select(projectColumns...).
		From("projects").
		Where(sq.Eq{"status": monitor.ProjectStatusActive}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build active projects query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active projects: %w", err)
	}
	defer rows.Close()

	var projects []monitor.Project
	for rows.Next() {
		var p monitor.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.Industry, &p.Market, &p.Status); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// ListKeywords returns the project's keywords in insertion order.
func (s *Store) ListKeywords(ctx context.Context, projectID int64) ([]string, error) {
	return s.listStrings(ctx, "keyword", "keywords", projectID)
}

// ListCompetitors returns the project's competitor names in insertion order.
func (s *Store) ListCompetitors(ctx context.Context, projectID int64) ([]string, error) {
	return s.listStrings(ctx, "name", "competitors", projectID)
}

func (s *Store) listStrings(ctx context.Context, column, table string, projectID int64) ([]string, error) {
	query, args, err := s.psql.Select(column).
		From(table).
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", table, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}
