// Package search provides web search for the agent.
//
// Each backend implements [Provider]. The [Manager] tries the primary
// provider first and falls back to the others in registration order,
// so a Perplexity outage degrades to plain SearXNG links instead of a
// failed tool call.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Response is what a provider returns. Answer engines fill Answer and
// list their citations as Results; index engines only fill Results.
type Response struct {
	Provider string   `json:"provider"`
	Answer   string   `json:"answer,omitempty"`
	Results  []Result `json:"results,omitempty"`
}

// Text renders the response for the model.
func (r *Response) Text() string {
	if r.Answer == "" {
		return FormatResults(r.Results)
	}
	if len(r.Results) == 0 {
		return r.Answer
	}
	var b strings.Builder
	b.WriteString(r.Answer)
	b.WriteString("\n\nSources:")
	for i, res := range r.Results {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, res.URL)
	}
	return b.String()
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return. Zero means
	// provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "pt").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "perplexity", "searxng").
	Name() string

	// Search executes a query.
	Search(ctx context.Context, query string, opts Options) (*Response, error)
}

// ErrNoProviders is returned when nothing is registered.
var ErrNoProviders = errors.New("no search provider configured")

// Manager holds configured providers and routes searches.
type Manager struct {
	logger    *slog.Logger
	providers map[string]Provider
	order     []string
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is tried first.
func NewManager(logger *slog.Logger, primary string) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:    logger,
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	if _, exists := m.providers[p.Name()]; !exists {
		m.order = append(m.order, p.Name())
	}
	m.providers[p.Name()] = p
}

// Search runs the query against the primary provider, then each other
// provider until one succeeds.
func (m *Manager) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	if len(m.providers) == 0 {
		return nil, ErrNoProviders
	}

	var errs []error
	for _, name := range m.attemptOrder() {
		resp, err := m.providers[name].Search(ctx, query, opts)
		if err == nil {
			resp.Provider = name
			return resp, nil
		}
		m.logger.Warn("search provider failed", "provider", name, "error", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) (*Response, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	resp, err := p.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	resp.Provider = provider
	return resp, nil
}

func (m *Manager) attemptOrder() []string {
	order := make([]string, 0, len(m.order))
	if _, ok := m.providers[m.primary]; ok {
		order = append(order, m.primary)
	}
	for _, name := range m.order {
		if name != m.primary {
			order = append(order, name)
		}
	}
	return order
}

// Providers returns the names of registered providers, primary first.
func (m *Manager) Providers() []string {
	return m.attemptOrder()
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// FormatResults builds a numbered, human-readable list.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
