package search

import (
	"context"

	"github.com/stewardhq/steward/internal/tools"
)

// Tool returns the web_search tool. Provider failures are reported as
// an unsuccessful result rather than a tool error.
func (m *Manager) Tool() *tools.Tool {
	return &tools.Tool{
		Name:        "web_search",
		Description: "Search the web for up-to-date information and return an answer with sources.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query to look up.",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     10,
					"description": "Maximum number of results to return (default: 3).",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "ISO 639-1 language code for results (e.g., 'en', 'pt').",
				},
			},
			"required": []string{"query"},
		},
		Handler: m.handleSearch,
	}
}

func (m *Manager) handleSearch(ctx context.Context, args map[string]any) (any, error) {
	query, err := tools.RequiredStringArg(args, "query")
	if err != nil {
		return nil, err
	}
	count, err := tools.IntArg(args, "max_results", DefaultCount)
	if err != nil {
		return nil, err
	}
	count = min(max(count, 1), 10)

	resp, err := m.Search(ctx, query, Options{Count: count, Language: tools.StringArg(args, "language")})
	if err != nil {
		return map[string]any{
			"success": false,
			"message": "Error performing web search: " + err.Error(),
		}, nil
	}
	return map[string]any{
		"success":  true,
		"provider": resp.Provider,
		"results":  resp.Text(),
	}, nil
}
