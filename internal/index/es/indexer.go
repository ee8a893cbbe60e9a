// Package es mirrors stored articles into an Elasticsearch index for
// full-text search by the dashboard.
package es

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/hash/sha256"
	"github.com/JakeFAU/web-monitor/internal/monitor"
)

// Config describes the cluster connection.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
}

// Document is the indexed form of an analyzed article.
type Document struct {
	URL            string     `json:"url"`
	ProjectID      int64      `json:"project_id"`
	Title          string     `json:"title"`
	Source         string     `json:"source"`
	Snippet        string     `json:"snippet"`
	Summary        string     `json:"summary"`
	Sentiment      string     `json:"sentiment"`
	SentimentScore float64    `json:"sentiment_score"`
	RelevanceScore float64    `json:"relevance_score"`
	Topics         []string   `json:"topics"`
	People         []string   `json:"people"`
	Organizations  []string   `json:"organizations"`
	Locations      []string   `json:"locations"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	ScrapedAt      time.Time  `json:"scraped_at"`
}

// Indexer implements monitor.ArticleIndexer.
type Indexer struct {
	client *elasticsearch.TypedClient
	index  string
	hasher *sha256.Hasher
	logger *zap.Logger
}

var _ monitor.ArticleIndexer = (*Indexer)(nil)

// NewClient builds a typed client from cfg.
func NewClient(cfg Config) (*elasticsearch.TypedClient, error) {
	esCfg := elasticsearch.Config{Addresses: cfg.Addresses}
	if cfg.Username != "" && cfg.Password != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}
	client, err := elasticsearch.NewTypedClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return client, nil
}

// New wraps an existing client.
func New(client *elasticsearch.TypedClient, index string, logger *zap.Logger) (*Indexer, error) {
	if client == nil {
		return nil, errors.New("elasticsearch client is required")
	}
	if index == "" {
		return nil, &monitor.ConfigurationError{Reason: "elasticsearch index name is required"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{client: client, index: index, hasher: sha256.New(), logger: logger.Named("es")}, nil
}

// EnsureIndex creates the index with explicit mappings when it is missing.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := i.client.Indices.Exists(i.index).Do(ctx)
	if err != nil {
		return fmt.Errorf("check index %s: %w", i.index, err)
	}
	if exists {
		return nil
	}

	mappings := types.TypeMapping{
		Properties: map[string]types.Property{
			"url":             types.NewKeywordProperty(),
			"project_id":      types.NewLongNumberProperty(),
			"title":           types.NewTextProperty(),
			"source":          types.NewKeywordProperty(),
			"snippet":         types.NewTextProperty(),
			"summary":         types.NewTextProperty(),
			"sentiment":       types.NewKeywordProperty(),
			"sentiment_score": types.NewFloatNumberProperty(),
			"relevance_score": types.NewFloatNumberProperty(),
			"topics":          types.NewKeywordProperty(),
			"people":          types.NewKeywordProperty(),
			"organizations":   types.NewKeywordProperty(),
			"locations":       types.NewKeywordProperty(),
			"published_at":    types.NewDateProperty(),
			"scraped_at":      types.NewDateProperty(),
		},
	}
	res, err := i.client.Indices.Create(i.index).Mappings(&mappings).Do(ctx)
	if err != nil {
		return fmt.Errorf("create index %s: %w", i.index, err)
	}
	if !res.Acknowledged {
		return fmt.Errorf("index %s creation was not acknowledged", i.index)
	}
	i.logger.Info("created index", zap.String("index", i.index))
	return nil
}

// IndexArticle upserts the article under a URL-derived id, so a redelivered
// task overwrites rather than duplicates.
func (i *Indexer) IndexArticle(ctx context.Context, article monitor.AnalyzedArticle) error {
	id := i.DocumentID(article.URL)
	res, err := i.client.Index(i.index).Id(id).Document(ToDocument(article)).Do(ctx)
	if err != nil {
		return fmt.Errorf("index article %s: %w", article.URL, err)
	}
	i.logger.Debug("indexed article",
		zap.String("id", id),
		zap.String("url", article.URL),
		zap.String("result", res.Result.String()),
	)
	return nil
}

// DocumentID returns the index id for a URL.
func (i *Indexer) DocumentID(url string) string {
	return i.hasher.URLKey(url)
}

// ToDocument flattens an analyzed article.
func ToDocument(a monitor.AnalyzedArticle) Document {
	return Document{
		URL:            a.URL,
		ProjectID:      a.ProjectID,
		Title:          a.Title,
		Source:         a.Source,
		Snippet:        a.Snippet,
		Summary:        a.Summary,
		Sentiment:      string(a.Sentiment),
		SentimentScore: a.SentimentScore,
		RelevanceScore: a.RelevanceScore,
		Topics:         a.Topics,
		People:         a.Entities.People,
		Organizations:  a.Entities.Organizations,
		Locations:      a.Entities.Locations,
		PublishedAt:    a.PublishedAt,
		ScrapedAt:      a.ScrapedAt,
	}
}
