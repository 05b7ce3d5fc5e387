package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/httpkit"
)

// SearXNGConfig points at a self-hosted SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool {
	return c.URL != ""
}

// SearXNG queries the JSON output of a SearXNG metasearch instance. It
// returns links only; direct answers the instance computes (unit
// conversions, definitions) are passed through as Answer.
type SearXNG struct {
	endpoint string
	client   *http.Client
}

// NewSearXNG returns a provider for the instance rooted at baseURL,
// for example "http://searxng.lan:8080". JSON output must be enabled in
// the instance's settings.yml.
func NewSearXNG(baseURL string) *SearXNG {
	return &SearXNG{
		endpoint: strings.TrimRight(baseURL, "/") + "/search",
		client:   httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

// Name implements [Provider].
func (s *SearXNG) Name() string { return "searxng" }

type searxngHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searxngPage struct {
	Answers []string     `json:"answers"`
	Results []searxngHit `json:"results"`
}

// Search implements [Provider]. Hits without a URL and repeated URLs
// from different engines are dropped before applying the count.
func (s *SearXNG) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	q := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	limit := opts.Count
	if limit <= 0 {
		limit = DefaultCount
	}

	var page searxngPage
	if err := httpkit.DoJSON(ctx, s.client, http.MethodGet, s.endpoint+"?"+q.Encode(), nil, nil, &page); err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}

	out := &Response{Answer: strings.Join(page.Answers, "\n")}
	seen := make(map[string]bool, len(page.Results))
	for _, h := range page.Results {
		if len(out.Results) == limit {
			break
		}
		if h.URL == "" || seen[h.URL] {
			continue
		}
		seen[h.URL] = true
		out.Results = append(out.Results, Result{Title: h.Title, URL: h.URL, Snippet: h.Content})
	}
	return out, nil
}
