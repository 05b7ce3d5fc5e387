// Package todo pushes action items to external task trackers: Todoist
// for personal tasks and GitHub Issues for project work.
package todo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/httpkit"
)

const todoistURL = "https://api.todoist.com/rest/v2"

// TodoistConfig configures the Todoist client.
type TodoistConfig struct {
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"` // override for tests and proxies
}

// Configured reports whether an API key is set.
func (c TodoistConfig) Configured() bool {
	return c.APIKey != ""
}

// TodoistTask is the subset of a Todoist task the assistant reports.
type TodoistTask struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
	URL         string `json:"url,omitempty"`
	Due         *struct {
		String string `json:"string"`
		Date   string `json:"date"`
	} `json:"due,omitempty"`
}

// NewTask describes a task to create. Priority uses the human scale,
// 1 (highest) to 4 (lowest); zero means lowest.
type NewTask struct {
	Content     string
	Description string
	DueString   string
	Priority    int
}

// Todoist is a minimal Todoist REST client.
type Todoist struct {
	cfg    TodoistConfig
	client *http.Client
	logger *slog.Logger
}

// NewTodoist creates a Todoist client.
func NewTodoist(cfg TodoistConfig, logger *slog.Logger) *Todoist {
	if cfg.URL == "" {
		cfg.URL = todoistURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Todoist{
		cfg:    cfg,
		client: httpkit.NewClient(httpkit.WithTimeout(20 * time.Second)),
		logger: logger,
	}
}

type todoistCreateRequest struct {
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
	DueString   string `json:"due_string,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// CreateTask adds a task to the inbox.
func (t *Todoist) CreateTask(ctx context.Context, task NewTask) (*TodoistTask, error) {
	if t.cfg.APIKey == "" {
		return nil, errors.New("todoist: api key not configured")
	}
	if strings.TrimSpace(task.Content) == "" {
		return nil, errors.New("todoist: content is required")
	}

	req := todoistCreateRequest{
		Content:     task.Content,
		Description: task.Description,
		DueString:   task.DueString,
		Priority:    apiPriority(task.Priority),
	}
	var created TodoistTask
	headers := map[string]string{"Authorization": "Bearer " + t.cfg.APIKey}
	if err := httpkit.DoJSON(ctx, t.client, http.MethodPost, t.cfg.URL+"/tasks", headers, req, &created); err != nil {
		return nil, fmt.Errorf("todoist: create task: %w", err)
	}

	t.logger.Info("todoist task created", "id", created.ID, "content", created.Content)
	return &created, nil
}

// apiPriority maps 1 (highest) .. 4 (lowest) onto Todoist's inverted
// API scale, where 4 is urgent and 1 is normal.
func apiPriority(p int) int {
	if p < 1 || p > 4 {
		return 1
	}
	return 5 - p
}
