package monitor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchTermsOrdersAndDeduplicates(t *testing.T) {
	t.Parallel()

	got := SearchTerms(" Acme ", []string{"acme", "rockets", "", "  "}, []string{"Rockets", "Globex"})
	assert.Equal(t, []string{"Acme", "rockets", "Globex"}, got)
}

func TestSearchTermsEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, SearchTerms("", nil, []string{" "}))
}

func TestParseSentiment(t *testing.T) {
	t.Parallel()

	tests := map[string]Sentiment{
		"positive":  SentimentPositive,
		" NEGATIVE": SentimentNegative,
		"neutral":   SentimentNeutral,
		"mixed":     SentimentNeutral,
		"":          SentimentNeutral,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseSentiment(in), "input %q", in)
	}
}

func TestNeutralAnnotationTruncatesSummary(t *testing.T) {
	t.Parallel()

	raw := RawArticle{URL: "https://example.com/a", Snippet: strings.Repeat("è", 250)}
	ann := NeutralAnnotation(raw)

	assert.Equal(t, SentimentNeutral, ann.Sentiment)
	assert.Zero(t, ann.SentimentScore)
	assert.Equal(t, 50.0, ann.RelevanceScore)
	assert.Equal(t, 200, len([]rune(ann.Summary)))
	assert.NotNil(t, ann.Topics)
}

func TestNewAnalyzedArticleClampsScores(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := RawArticle{URL: " https://example.com/a ", Snippet: "short"}
	art, err := NewAnalyzedArticle(7, raw, Annotation{
		Sentiment:      "POSITIVE",
		SentimentScore: 3,
		RelevanceScore: -10,
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/a", art.URL)
	assert.Equal(t, SentimentPositive, art.Sentiment)
	assert.Equal(t, 1.0, art.SentimentScore)
	assert.Equal(t, 0.0, art.RelevanceScore)
	assert.Equal(t, "short", art.Summary)
	assert.Equal(t, []string{}, art.Topics)
	assert.Equal(t, int64(7), art.ProjectID)
	assert.Equal(t, now, art.ScrapedAt)
}

func TestNewAnalyzedArticleRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	_, err := NewAnalyzedArticle(1, RawArticle{URL: "  "}, Annotation{}, time.Now())
	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "url", valErr.Field)
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}
