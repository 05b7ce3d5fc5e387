// Package webpage reads links the user shares: it downloads a page and
// reduces it to its title and readable text for the model.
package webpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stewardhq/steward/internal/httpkit"
	"github.com/stewardhq/steward/internal/tools"
)

const (
	// DefaultMaxChars bounds the text handed to the model.
	DefaultMaxChars = 12000
	maxBodyBytes    = 5 << 20
)

// Page is the readable form of a fetched URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Reader downloads pages.
type Reader struct {
	client   *http.Client
	maxChars int
}

// NewReader creates a Reader. A nil client gets the shared default.
func NewReader(client *http.Client, maxChars int) *Reader {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Reader{client: client, maxChars: maxChars}
}

// Read fetches rawURL. A missing scheme defaults to https; anything but
// http and https is rejected.
func (r *Reader) Read(ctx context.Context, rawURL string) (*Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("url is required")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	if resp.StatusCode >= 400 {
		return nil, &httpkit.StatusError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 256)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	page := &Page{URL: resp.Request.URL.String()}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "html") || (ct == "" && looksLikeHTML(body)):
		doc := extract(string(body))
		page.Title, page.Description, page.Text = doc.title, doc.description, doc.text
	case utf8.Valid(body):
		page.Text = tidy(string(body))
	default:
		return nil, fmt.Errorf("unsupported content type %q", ct)
	}

	page.Text, page.Truncated = truncate(page.Text, r.maxChars)
	return page, nil
}

// Tool returns read_webpage.
func (r *Reader) Tool() *tools.Tool {
	return &tools.Tool{
		Name:        "read_webpage",
		Description: "Download a web page and return its title and readable text. Use it when the user shares a link.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The page URL.",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			u, err := tools.RequiredStringArg(args, "url")
			if err != nil {
				return nil, err
			}
			return r.Read(ctx, u)
		},
	}
}

func looksLikeHTML(b []byte) bool {
	head := strings.ToLower(string(b[:min(len(b), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}
