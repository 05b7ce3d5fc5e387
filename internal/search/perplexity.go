package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/httpkit"
)

// DefaultCount is the number of results returned when the caller does
// not ask for a specific count.
const DefaultCount = 3

const (
	perplexityURL    = "https://api.perplexity.ai/chat/completions"
	perplexityModel  = "sonar"
	perplexitySystem = "You are a helpful assistant that performs web searches."
)

// PerplexityConfig holds configuration for the Perplexity provider.
type PerplexityConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	URL    string `yaml:"url"` // override for tests and proxies
}

// Configured reports whether an API key is set.
func (c PerplexityConfig) Configured() bool {
	return c.APIKey != ""
}

// Perplexity asks the Perplexity chat API, which searches the web and
// answers with citations.
type Perplexity struct {
	cfg        PerplexityConfig
	httpClient *http.Client
}

// NewPerplexity creates a Perplexity provider.
func NewPerplexity(cfg PerplexityConfig) *Perplexity {
	if cfg.Model == "" {
		cfg.Model = perplexityModel
	}
	if cfg.URL == "" {
		cfg.URL = perplexityURL
	}
	return &Perplexity{
		cfg:        cfg,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
	}
}

func (p *Perplexity) Name() string { return "perplexity" }

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityRequest struct {
	Model       string              `json:"model"`
	Messages    []perplexityMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
}

type perplexityResponse struct {
	Choices []struct {
		Message perplexityMessage `json:"message"`
	} `json:"choices"`
	Citations     []string `json:"citations"`
	SearchResults []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"search_results"`
}

// Search sends the query as a chat turn and returns the answer with up
// to opts.Count sources.
func (p *Perplexity) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	if p.cfg.APIKey == "" {
		return nil, errors.New("perplexity: api key not configured")
	}

	prompt := query
	if opts.Language != "" {
		prompt += "\n\nAnswer in language: " + opts.Language
	}
	req := perplexityRequest{
		Model: p.cfg.Model,
		Messages: []perplexityMessage{
			{Role: "system", Content: perplexitySystem},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   1024,
		Temperature: 0.7,
	}

	var resp perplexityResponse
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if err := httpkit.DoJSON(ctx, p.httpClient, http.MethodPost, p.cfg.URL, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("perplexity: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, errors.New("perplexity: empty answer")
	}

	count := opts.Count
	if count <= 0 {
		count = DefaultCount
	}
	var sources []Result
	for _, r := range resp.SearchResults {
		if len(sources) == count {
			break
		}
		sources = append(sources, Result{Title: r.Title, URL: r.URL})
	}
	if len(sources) == 0 {
		for _, u := range resp.Citations {
			if len(sources) == count {
				break
			}
			sources = append(sources, Result{URL: u})
		}
	}

	return &Response{Answer: resp.Choices[0].Message.Content, Results: sources}, nil
}
