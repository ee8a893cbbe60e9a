// Package gnews searches the public Google News RSS endpoint. It needs no
// credentials, which makes it the fallback provider for local runs.
package gnews

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/web-monitor/internal/monitor"
	"github.com/JakeFAU/web-monitor/internal/search"
)

// Provider identifiers recorded with results and usage rows.
const (
	ProviderName  = "gnews"
	UsageEndpoint = "rss"
)

const (
	// DefaultBaseURL is the Google News RSS search endpoint.
	DefaultBaseURL = "https://news.google.com/rss/search"

	defaultTimeout = 30 * time.Second
	maxFeedBytes   = 8 << 20
)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBaseURL points the client at another feed endpoint.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		c.baseURL = raw
	}
}

// WithClock sets the clock used for the lookback filter.
func WithClock(clock monitor.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// Client implements monitor.SearchProvider over RSS.
type Client struct {
	baseURL string
	http    *http.Client
	parser  *gofeed.Parser
	clock   monitor.Clock
}

var _ monitor.SearchProvider = (*Client)(nil)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New builds a client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		parser:  gofeed.NewParser(),
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FeedURL builds the search URL for a request.
func (c *Client) FeedURL(req monitor.SearchRequest) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse gnews base url: %w", err)
	}
	locale := search.LocaleFor(req.Market)
	query := search.OrQuery(req.Terms)
	if req.LookbackDays > 0 {
		query = fmt.Sprintf("%s when:%dd", query, req.LookbackDays)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("hl", locale.Language)
	q.Set("gl", locale.Country)
	q.Set("ceid", locale.Country+":"+locale.Language)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Search fetches and parses one feed for the whole term set.
func (c *Client) Search(ctx context.Context, req monitor.SearchRequest) (monitor.SearchResult, error) {
	if search.OrQuery(req.Terms) == "" {
		return failure("no search terms"), nil
	}
	feedURL, err := c.FeedURL(req)
	if err != nil {
		return failure(err.Error()), nil
	}
	raw, err := c.fetch(ctx, feedURL)
	if err != nil {
		return failure(err.Error()), nil
	}
	feed, err := c.parser.ParseString(string(raw))
	if err != nil {
		return failure(fmt.Sprintf("parse feed: %v", err)), nil
	}

	var cutoff time.Time
	if req.LookbackDays > 0 {
		cutoff = c.clock.Now().AddDate(0, 0, -req.LookbackDays)
	}
	articles := make([]monitor.RawArticle, 0, len(feed.Items))
	for _, it := range feed.Items {
		if req.MaxResults > 0 && len(articles) >= req.MaxResults {
			break
		}
		a, ok := toArticle(it)
		if !ok {
			continue
		}
		if !cutoff.IsZero() && a.PublishedAt != nil && a.PublishedAt.Before(cutoff) {
			continue
		}
		articles = append(articles, a)
	}

	return monitor.SearchResult{
		Provider: ProviderName,
		Endpoint: UsageEndpoint,
		Articles: articles,
		APICalls: 1,
		Success:  true,
		Raw:      raw,
	}, nil
}

func (c *Client) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return body, nil
}

func toArticle(it *gofeed.Item) (monitor.RawArticle, bool) {
	link := strings.TrimSpace(it.Link)
	if link == "" {
		return monitor.RawArticle{}, false
	}
	title, source := splitSource(strings.TrimSpace(it.Title))
	if source == "" {
		if u, err := url.Parse(link); err == nil {
			source = u.Hostname()
		}
	}
	var published *time.Time
	switch {
	case it.PublishedParsed != nil:
		ts := it.PublishedParsed.UTC()
		published = &ts
	case it.UpdatedParsed != nil:
		ts := it.UpdatedParsed.UTC()
		published = &ts
	}
	return monitor.RawArticle{
		URL:         link,
		Title:       search.CleanSnippet(title),
		Source:      source,
		PublishedAt: published,
		Snippet:     search.CleanSnippet(it.Description),
		QuerySource: ProviderName,
	}, true
}

// splitSource separates the "Headline - Publisher" form used by Google News.
func splitSource(title string) (string, string) {
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 {
		return title, ""
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:])
}

func failure(msg string) monitor.SearchResult {
	return monitor.SearchResult{Provider: ProviderName, Endpoint: UsageEndpoint, Success: false, Error: msg}
}
