// Package gemini annotates articles with the Gemini API through the genai SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/JakeFAU/web-monitor/internal/monitor"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.0-flash"

	defaultTemperature = 0.3
	defaultTopP        = 0.8
)

// Option customizes a Client.
type Option func(*settings)

type settings struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// WithHTTPClient replaces the SDK's default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) {
		s.httpClient = hc
	}
}

// WithBaseURL points the client at another API root.
func WithBaseURL(raw string) Option {
	return func(s *settings) {
		s.baseURL = raw
	}
}

// WithModel selects the model name.
func WithModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// Client implements monitor.AnalysisProvider.
type Client struct {
	sdk    *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

var _ monitor.AnalysisProvider = (*Client)(nil)

// New builds a client. An empty key is a configuration error.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &monitor.ConfigurationError{Reason: "gemini api key not configured"}
	}
	s := settings{model: DefaultModel}
	for _, opt := range opts {
		opt(&s)
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  s.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: s.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	return &Client{
		sdk:   gc,
		model: s.model,
		config: &genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](defaultTemperature),
			TopP:             genai.Ptr[float32](defaultTopP),
			ResponseMIMEType: "application/json",
		},
	}, nil
}

// annotationPayload mirrors the JSON the prompt asks for. Scores are
// pointers so a missing field can fall back to the neutral default.
type annotationPayload struct {
	Sentiment      string           `json:"sentiment"`
	SentimentScore *float64         `json:"sentiment_score"`
	Topics         []string         `json:"topics"`
	Entities       monitor.Entities `json:"entities"`
	Summary        string           `json:"summary"`
	RelevanceScore *float64         `json:"relevance_score"`
}

// Analyze annotates one article.
func (c *Client) Analyze(ctx context.Context, req monitor.AnalysisRequest) (monitor.Annotation, error) {
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Snippet) == "" {
		return monitor.Annotation{}, &monitor.ValidationError{Field: "article", Reason: "title and snippet are empty"}
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, genai.Text(BuildPrompt(req)), c.config)
	if err != nil {
		return monitor.Annotation{}, fmt.Errorf("call gemini: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return monitor.Annotation{}, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return monitor.Annotation{}, errors.New("empty gemini response")
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			text.WriteString(p.Text)
		}
	}
	return ParseAnnotation(text.String(), req.Snippet)
}

// BuildPrompt renders the per-article instruction.
func BuildPrompt(req monitor.AnalysisRequest) string {
	article, _ := json.Marshal(map[string]string{"title": req.Title, "snippet": req.Snippet})
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this news article for brand monitoring of %q.\n\n", req.Brand)
	b.WriteString("Return a JSON object with:\n")
	b.WriteString(`- sentiment: "positive", "negative", or "neutral"` + "\n")
	b.WriteString("- sentiment_score: float from -1.0 (very negative) to +1.0 (very positive)\n")
	b.WriteString("- topics: array of 2-3 main topics\n")
	b.WriteString(`- entities: object with arrays {"people": [], "organizations": [], "locations": []}` + "\n")
	b.WriteString("- summary: 1-2 sentence summary\n")
	fmt.Fprintf(&b, "- relevance_score: 0-100 indicating relevance to %s\n\n", req.Brand)
	b.WriteString("Article:\n")
	b.Write(article)
	b.WriteString("\n\nReturn ONLY valid JSON, no markdown, no explanation.")
	return b.String()
}

// ParseAnnotation decodes model output, tolerating a surrounding code fence.
// Missing scores take the neutral defaults and a missing summary falls back
// to the snippet.
func ParseAnnotation(text, snippet string) (monitor.Annotation, error) {
	text = StripCodeFence(text)
	var p annotationPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return monitor.Annotation{}, fmt.Errorf("decode annotation: %w", err)
	}
	fallback := monitor.NeutralAnnotation(monitor.RawArticle{Snippet: snippet})
	ann := monitor.Annotation{
		Sentiment:      monitor.ParseSentiment(p.Sentiment),
		SentimentScore: fallback.SentimentScore,
		Topics:         p.Topics,
		Entities:       p.Entities,
		Summary:        strings.TrimSpace(p.Summary),
		RelevanceScore: fallback.RelevanceScore,
	}
	if p.SentimentScore != nil {
		ann.SentimentScore = *p.SentimentScore
	}
	if p.RelevanceScore != nil {
		ann.RelevanceScore = *p.RelevanceScore
	}
	if ann.Topics == nil {
		ann.Topics = []string{}
	}
	if ann.Summary == "" {
		ann.Summary = fallback.Summary
	}
	return ann, nil
}

// StripCodeFence removes a leading ```json (or ```) line and a trailing fence.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}
