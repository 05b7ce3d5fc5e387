package workbook

import (
	"context"
	"fmt"

	"github.com/stewardhq/steward/internal/tools"
)

// Register adds the SQL and preference tools to reg.
func (s *Store) Register(reg *tools.Registry) error {
	for _, t := range s.Tools() {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}

// Tools returns execute_query, execute_insert, execute_update,
// execute_delete and update_preferences.
func (s *Store) Tools() []*tools.Tool {
	return []*tools.Tool{
		{
			Name:        "execute_query",
			Description: "Execute a SQL SELECT query against the productivity database and return results",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query_string": map[string]any{
						"type":        "string",
						"description": "The SQL query to execute",
					},
				},
				"required": []string{"query_string"},
			},
			Handler: s.handleQuery,
		},
		s.writeTool(OpInsert, "execute_insert", "insert_statement", true),
		s.writeTool(OpUpdate, "execute_update", "update_statement", false),
		s.writeTool(OpDelete, "execute_delete", "delete_statement", false),
		{
			Name:        "update_preferences",
			Description: "Store or change the user's preferences (communication style, working hours, reminders). Keys set to null are removed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"preferences": map[string]any{
						"type":        "object",
						"description": "Preference names and their new values",
					},
				},
				"required": []string{"preferences"},
			},
			Handler: s.handleUpdatePreferences,
		},
	}
}

func (s *Store) handleQuery(ctx context.Context, args map[string]any) (any, error) {
	q, err := tools.RequiredStringArg(args, "query_string")
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, q)
}

// writeTool builds one of the parameterized write tools. Inserts accept
// a list of value sets; updates and deletes take a single object.
func (s *Store) writeTool(op Operation, name, statementParam string, many bool) *tools.Tool {
	values := map[string]any{
		"type":        "object",
		"description": "Dictionary of parameter names and their values",
	}
	if many {
		values = map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "object", "description": "Dictionary of parameter names and their values"},
			"description": "List of dictionaries of parameter names and their values, one per row",
		}
	}

	return &tools.Tool{
		Name:        name,
		Description: fmt.Sprintf("Execute a SQL %s statement with parameterized values", op),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				statementParam: map[string]any{
					"type":        "string",
					"description": fmt.Sprintf("The %s statement with named parameters (e.g., :param_name)", op),
				},
				"values": values,
			},
			"required": []string{statementParam, "values"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			stmt, err := tools.RequiredStringArg(args, statementParam)
			if err != nil {
				return nil, err
			}
			sets, err := tools.ObjectListArg(args, "values")
			if err != nil {
				return nil, err
			}
			return s.Exec(ctx, op, stmt, sets), nil
		},
	}
}

func (s *Store) handleUpdatePreferences(ctx context.Context, args map[string]any) (any, error) {
	prefs, err := tools.ObjectArg(args, "preferences")
	if err != nil {
		return nil, err
	}
	if len(prefs) == 0 {
		return nil, fmt.Errorf("preferences must contain at least one key")
	}
	merged, err := s.UpdatePreferences(ctx, prefs)
	if err != nil {
		return map[string]any{"error": "Failed to update preferences: " + err.Error()}, nil
	}
	return merged, nil
}
