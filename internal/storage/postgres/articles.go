package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

// InsertIfAbsent inserts the article unless its URL is already stored. The
// UNIQUE constraint on articles.url makes concurrent inserts collapse.
func (s *Store) InsertIfAbsent(ctx context.Context, a monitor.AnalyzedArticle) (bool, error) {
	topicsJSON, err := json.Marshal(a.Topics)
	if err != nil {
		return false, fmt.Errorf("marshal topics: %w", err)
	}
	entitiesJSON, err := json.Marshal(a.Entities)
	if err != nil {
		return false, fmt.Errorf("marshal entities: %w", err)
	}
	query, args, err := s.psql.Insert("articles").
		Columns(
			"project_id",
			"url",
			"title",
			"source",
			"published_at",
			"scraped_at",
			"snippet",
			"summary",
			"sentiment",
			"sentiment_score",
			"topics",
			"entities",
			"relevance_score",
			"query_source",
		).
		Values(
			a.ProjectID,
			a.URL,
			a.Title,
			a.Source,
			a.PublishedAt,
			a.ScrapedAt,
			a.Snippet,
			a.Summary,
			string(a.Sentiment),
			a.SentimentScore,
			topicsJSON,
			entitiesJSON,
			a.RelevanceScore,
			a.QuerySource,
		).
		Suffix("ON CONFLICT (url) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build article insert: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountScrapedSince counts the project's articles scraped at or after since.
func (s *Store) CountScrapedSince(ctx context.Context, projectID int64, since time.Time) (int, error) {
	query, args, err := s.psql.Select("COUNT(*)").
		From("articles").
		Where(sq.Eq{"project_id": projectID}).
		Where(sq.GtOrEq{"scraped_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return count, nil
}

// AverageSentiment averages non-null sentiment scores inside the window.
func (s *Store) AverageSentiment(ctx context.Context, projectID int64, window monitor.TimeRange) (float64, bool, error) {
	builder := s.psql.Select("AVG(sentiment_score)").
		From("articles").
		Where(sq.Eq{"project_id": projectID}).
		Where(sq.NotEq{"sentiment_score": nil}).
		Where(sq.GtOrEq{"scraped_at": window.From})
	if !window.Until.IsZero() {
		builder = builder.Where(sq.Lt{"scraped_at": window.Until})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build sentiment query: %w", err)
	}
	var avg *float64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&avg); err != nil {
		return 0, false, fmt.Errorf("average sentiment: %w", err)
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}
