package todo

import (
	"context"
	"fmt"

	"github.com/stewardhq/steward/internal/tools"
)

// Tool returns create_task_on_todoist.
func (t *Todoist) Tool() *tools.Tool {
	return &tools.Tool{
		Name:        "create_task_on_todoist",
		Description: "Creates a new task in Todoist with the specified content, due date, and priority.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The content of the task to create.",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Description of the task.",
				},
				"due_string": map[string]any{
					"type":        "string",
					"description": "The due date of the task in natural language (e.g., 'tomorrow at 2pm').",
				},
				"priority": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     4,
					"description": "The priority of the task (1-4, with 1 being the highest).",
				},
			},
			"required": []string{"content", "description", "due_string", "priority"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			content, err := tools.RequiredStringArg(args, "content")
			if err != nil {
				return nil, err
			}
			priority, err := tools.IntArg(args, "priority", 4)
			if err != nil {
				return nil, err
			}
			task, err := t.CreateTask(ctx, NewTask{
				Content:     content,
				Description: tools.StringArg(args, "description"),
				DueString:   tools.StringArg(args, "due_string"),
				Priority:    priority,
			})
			if err != nil {
				return map[string]any{"success": false, "message": "Error creating task: " + err.Error()}, nil
			}
			return map[string]any{"success": true, "message": "Task created: " + task.Content, "url": task.URL}, nil
		},
	}
}

// Tool returns create_issue.
func (g *GitHub) Tool() *tools.Tool {
	return &tools.Tool{
		Name:        "create_issue",
		Description: fmt.Sprintf("Open a GitHub issue to track project work. Defaults to the %s repository.", g.repo),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Issue title.",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Issue body in Markdown.",
				},
				"labels": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Labels to apply.",
				},
				"repo": map[string]any{
					"type":        "string",
					"description": "Repository as owner/name. Omit for the default.",
				},
			},
			"required": []string{"title"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			title, err := tools.RequiredStringArg(args, "title")
			if err != nil {
				return nil, err
			}
			var labels []string
			if raw, ok := args["labels"].([]any); ok {
				for _, l := range raw {
					if s, ok := l.(string); ok && s != "" {
						labels = append(labels, s)
					}
				}
			}
			issue, err := g.CreateIssue(ctx, tools.StringArg(args, "repo"), title, tools.StringArg(args, "body"), labels)
			if err != nil {
				return map[string]any{"success": false, "message": "Error creating issue: " + err.Error()}, nil
			}
			return map[string]any{
				"success": true,
				"message": fmt.Sprintf("Issue #%d created: %s", issue.Number, issue.Title),
				"url":     issue.URL,
			}, nil
		},
	}
}
