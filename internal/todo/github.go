package todo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v69/github"
)

// GitHubConfig configures issue creation.
type GitHubConfig struct {
	Token string `yaml:"token"`
	Repo  string `yaml:"repo"` // default "owner/name"
	URL   string `yaml:"url"`  // GitHub Enterprise base URL; empty for github.com
}

// Configured reports whether a token and default repository are set.
func (c GitHubConfig) Configured() bool {
	return c.Token != "" && c.Repo != ""
}

// Issue is a created GitHub issue.
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	URL    string   `json:"url"`
	Labels []string `json:"labels,omitempty"`
}

// GitHub files issues through the go-github SDK.
type GitHub struct {
	client *gogithub.Client
	repo   string
	logger *slog.Logger
}

// NewGitHub creates a GitHub client. A non-empty baseURL selects a
// GitHub Enterprise instance.
func NewGitHub(httpClient *http.Client, cfg GitHubConfig, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gogithub.NewClient(httpClient).WithAuthToken(cfg.Token)
	if cfg.URL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.URL, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("github: enterprise url: %w", err)
		}
	}
	return &GitHub{client: client, repo: cfg.Repo, logger: logger}, nil
}

// splitRepo splits a "owner/repo" string into its two parts.
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// CreateIssue opens an issue in repo, or the configured default when
// repo is empty.
func (g *GitHub) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (*Issue, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("github: title is required")
	}
	if repo == "" {
		repo = g.repo
	}
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	req := &gogithub.IssueRequest{Title: &title}
	if body != "" {
		req.Body = &body
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	result, resp, err := g.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("github: create issue: %w", err)
	}
	if resp != nil && resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		g.logger.Warn("github rate limit low", "remaining", resp.Rate.Remaining, "reset", resp.Rate.Reset.Time)
	}

	issue := &Issue{Number: result.GetNumber(), Title: result.GetTitle(), URL: result.GetHTMLURL()}
	for _, l := range result.Labels {
		issue.Labels = append(issue.Labels, l.GetName())
	}
	g.logger.Info("github issue created", "repo", repo, "number", issue.Number)
	return issue, nil
}
