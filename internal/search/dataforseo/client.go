// Package dataforseo searches Google News through the DataForSEO SERP API.
package dataforseo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/web-monitor/internal/monitor"
	"github.com/JakeFAU/web-monitor/internal/search"
)

// Provider identifiers recorded with results and usage rows.
const (
	ProviderName  = "dataforseo"
	UsageEndpoint = "news"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.dataforseo.com/v3"
	// DefaultCostPerCall is the approximate price of one live news request.
	DefaultCostPerCall = 0.10

	newsPath       = "/serp/google/news/live/advanced"
	defaultTimeout = 30 * time.Second
	statusOK       = 20000
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05 -07:00",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBaseURL points the client at another API root.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		c.rawBase = raw
	}
}

// WithCostPerCall overrides the per-request cost estimate.
func WithCostPerCall(cost float64) Option {
	return func(c *Client) {
		c.costPerCall = cost
	}
}

// WithClock sets the clock used to compute date_from.
func WithClock(clock monitor.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// Client implements monitor.SearchProvider.
type Client struct {
	base        url.URL
	rawBase     string
	http        *http.Client
	login       string
	password    string
	costPerCall float64
	clock       monitor.Clock
}

var _ monitor.SearchProvider = (*Client)(nil)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New builds a client. Login and password are required.
func New(login, password string, opts ...Option) (*Client, error) {
	if login == "" || password == "" {
		return nil, errors.New("dataforseo credentials not configured")
	}
	c := &Client{
		rawBase:     DefaultBaseURL,
		http:        &http.Client{Timeout: defaultTimeout},
		login:       login,
		password:    password,
		costPerCall: DefaultCostPerCall,
		clock:       systemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	base, err := url.Parse(c.rawBase)
	if err != nil {
		return nil, fmt.Errorf("parse dataforseo base url: %w", err)
	}
	c.base = *base
	return c, nil
}

type taskRequest struct {
	Keyword      string `json:"keyword"`
	LocationCode int    `json:"location_code"`
	LanguageCode string `json:"language_code"`
	Depth        int    `json:"depth"`
	DateFrom     string `json:"date_from"`
}

type response struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Tasks         []struct {
		StatusCode    int    `json:"status_code"`
		StatusMessage string `json:"status_message"`
		Result        []struct {
			Items []item `json:"items"`
		} `json:"result"`
	} `json:"tasks"`
}

type item struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Source    string `json:"source"`
	Domain    string `json:"domain"`
	Snippet   string `json:"snippet"`
	Timestamp string `json:"timestamp"`
	Date      string `json:"date"`
}

// Search sends one OR-combined query for the whole term set. Provider and
// transport failures come back as Success=false with zero API calls.
func (c *Client) Search(ctx context.Context, req monitor.SearchRequest) (monitor.SearchResult, error) {
	query := search.OrQuery(req.Terms)
	if query == "" {
		return failure("no search terms"), nil
	}
	locale := search.LocaleFor(req.Market)
	lookback := req.LookbackDays
	if lookback <= 0 {
		lookback = 7
	}
	depth := req.MaxResults
	if depth <= 0 {
		depth = 100
	}
	payload := []taskRequest{{
		Keyword:      query,
		LocationCode: locale.LocationCode,
		LanguageCode: locale.Language,
		Depth:        depth,
		DateFrom:     c.clock.Now().AddDate(0, 0, -lookback).Format("2006-01-02"),
	}}

	raw, err := c.do(ctx, newsPath, payload)
	if err != nil {
		return failure(err.Error()), nil
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return failure(fmt.Sprintf("unmarshal response: %v", err)), nil
	}
	if resp.StatusCode != 0 && resp.StatusCode != statusOK {
		return failure(fmt.Sprintf("status %d: %s", resp.StatusCode, resp.StatusMessage)), nil
	}

	var articles []monitor.RawArticle
	for _, task := range resp.Tasks {
		if task.StatusCode != 0 && task.StatusCode != statusOK {
			return failure(fmt.Sprintf("task status %d: %s", task.StatusCode, task.StatusMessage)), nil
		}
		for _, result := range task.Result {
			for _, it := range result.Items {
				if a, ok := toArticle(it); ok {
					articles = append(articles, a)
				}
			}
		}
	}

	return monitor.SearchResult{
		Provider: ProviderName,
		Endpoint: UsageEndpoint,
		Articles: articles,
		APICalls: 1,
		CostUSD:  c.costPerCall,
		Success:  true,
		Raw:      raw,
	}, nil
}

func (c *Client) do(ctx context.Context, path string, reqData any) ([]byte, error) {
	body, err := json.Marshal(reqData)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	reqURL := c.base.JoinPath(path)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.SetBasicAuth(c.login, c.password)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, truncate(respBody, 512))
	}
	return respBody, nil
}

func toArticle(it item) (monitor.RawArticle, bool) {
	u := strings.TrimSpace(it.URL)
	if u == "" {
		return monitor.RawArticle{}, false
	}
	source := it.Source
	if source == "" {
		source = it.Domain
	}
	return monitor.RawArticle{
		URL:         u,
		Title:       search.CleanSnippet(it.Title),
		Source:      source,
		PublishedAt: parseTimestamp(it.Timestamp, it.Date),
		Snippet:     search.CleanSnippet(it.Snippet),
		QuerySource: ProviderName,
	}, true
}

func parseTimestamp(values ...string) *time.Time {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				ts = ts.UTC()
				return &ts
			}
		}
	}
	return nil
}

func failure(msg string) monitor.SearchResult {
	return monitor.SearchResult{Provider: ProviderName, Endpoint: UsageEndpoint, Success: false, Error: msg}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
