package workbook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/tools"
)

func TestExecInsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := s.Exec(ctx, OpInsert,
		"INSERT INTO projects (name, status, deadline) VALUES (:name, :status, :deadline)",
		[]map[string]any{
			{"name": "Website", "status": "active", "deadline": "2026-06-30"},
			{"name": "Garden", "status": "planning", "deadline": "2026-09-01T08:30:00"},
		})
	if !res.Success || res.Message != "Operation completed successfully" {
		t.Fatalf("insert = %+v", res)
	}

	out, err := s.Query(ctx, "SELECT name, status, deadline FROM projects ORDER BY project_id")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := "Row 1: name: Website, status: active, deadline: 2026-06-30 00:00:00\n" +
		"Row 2: name: Garden, status: planning, deadline: 2026-09-01 08:30:00"
	if out != want {
		t.Errorf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestExecUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if res := s.Exec(ctx, OpInsert, "INSERT INTO goals (title, goal_type, target_value) VALUES (:title, :type, :target)",
		[]map[string]any{{"title": "Run 100km", "type": "fitness", "target": 100.0}}); !res.Success {
		t.Fatalf("insert = %+v", res)
	}

	res := s.Exec(ctx, OpUpdate, "UPDATE goals SET current_value = :value WHERE title = :title",
		[]map[string]any{{"value": 42.0, "title": "Run 100km"}})
	if !res.Success {
		t.Fatalf("update = %+v", res)
	}
	out, err := s.Query(ctx, "SELECT current_value FROM goals")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Row 1: current_value: 42" {
		t.Errorf("after update: %q", out)
	}

	res = s.Exec(ctx, OpDelete, "DELETE FROM goals WHERE title = :title", []map[string]any{{"title": "Run 100km"}})
	if !res.Success {
		t.Fatalf("delete = %+v", res)
	}
	if out, _ := s.Query(ctx, "SELECT * FROM goals"); out != "Empty result set" {
		t.Errorf("after delete: %q", out)
	}
}

func TestExecFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		op        Operation
		statement string
		values    []map[string]any
		wantMsg   string
	}{
		{"no table", OpInsert, "INSERT something", nil, "Could not determine table from INSERT statement"},
		{"unknown table", OpUpdate, "UPDATE widgets SET x = 1", nil, "Table widgets not found in schema"},
		{"bad datetime", OpInsert, "INSERT INTO tasks (title, due_date) VALUES (:title, :due)",
			[]map[string]any{{"title": "x", "due_date": "next tuesday", "due": "x"}}, "invalid datetime format for due_date"},
		{"check constraint", OpInsert, "INSERT INTO projects (name, status) VALUES (:name, :status)",
			[]map[string]any{{"name": "x", "status": "someday"}}, "Database error: "},
		{"missing param", OpInsert, "INSERT INTO projects (name) VALUES (:name)",
			[]map[string]any{{"title": "x"}}, "Database error: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Exec(ctx, tt.op, tt.statement, tt.values)
			if res.Success {
				t.Fatalf("expected failure, got %+v", res)
			}
			if !strings.Contains(res.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", res.Message, tt.wantMsg)
			}
		})
	}
}

func TestExecInsertIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := s.Exec(ctx, OpInsert, "INSERT INTO projects (name, priority) VALUES (:name, :priority)",
		[]map[string]any{
			{"name": "ok", "priority": "high"},
			{"name": "bad", "priority": "urgent"},
		})
	if res.Success {
		t.Fatal("expected constraint failure")
	}
	if out, _ := s.Query(ctx, "SELECT name FROM projects"); out != "Empty result set" {
		t.Errorf("first row should be rolled back, got %q", out)
	}
}

func TestExecEncodesJSONValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := s.Exec(ctx, OpInsert, "INSERT INTO users (whatsapp_number, settings) VALUES (:number, :settings)",
		[]map[string]any{{"number": "5511999990000", "settings": map[string]any{"digest": true}}})
	if !res.Success {
		t.Fatalf("insert = %+v", res)
	}
	out, err := s.Query(ctx, "SELECT settings FROM users")
	if err != nil {
		t.Fatal(err)
	}
	if out != `Row 1: settings: {"digest":true}` {
		t.Errorf("got %q", out)
	}
}

func TestQueryRejectsWrites(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Query(context.Background(), "DELETE FROM projects"); err == nil {
		t.Error("execute_query must not run writes")
	}
}

func TestQueryTruncates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sets := make([]map[string]any, MaxQueryRows+5)
	for i := range sets {
		sets[i] = map[string]any{"title": fmt.Sprintf("task %d", i)}
	}
	if res := s.Exec(ctx, OpInsert, "INSERT INTO tasks (title) VALUES (:title)", sets); !res.Success {
		t.Fatalf("insert = %+v", res)
	}
	out, err := s.Query(ctx, "SELECT title FROM tasks")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != MaxQueryRows+1 || !strings.HasPrefix(lines[MaxQueryRows], "(truncated") {
		t.Errorf("got %d lines, last %q", len(lines), lines[len(lines)-1])
	}
}

func TestToolsThroughRegistry(t *testing.T) {
	s := newTestStore(t)
	reg := tools.NewRegistry(nil)
	if err := s.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx := context.Background()

	call := func(name string, args map[string]any) string {
		t.Helper()
		return reg.Dispatch(ctx, llm.NewToolCall("call_1", name, args)).Content
	}

	got := call("execute_insert", map[string]any{
		"insert_statement": "INSERT INTO tasks (title, priority) VALUES (:title, :priority)",
		"values":           []any{map[string]any{"title": "Write report", "priority": "high"}},
		"reasoning":        "user asked to add a task",
	})
	if got != `{"success":true,"message":"Operation completed successfully"}` {
		t.Fatalf("insert = %s", got)
	}

	got = call("execute_update", map[string]any{
		"update_statement": "UPDATE tasks SET status = :status WHERE title = :title",
		"values":           map[string]any{"status": "completed", "title": "Write report"},
	})
	if !strings.Contains(got, `"success":true`) {
		t.Fatalf("update = %s", got)
	}

	var rendered string
	if err := json.Unmarshal([]byte(call("execute_query", map[string]any{
		"query_string": "SELECT title, status FROM tasks",
	})), &rendered); err != nil {
		t.Fatalf("query result is not a JSON string: %v", err)
	}
	if rendered != "Row 1: title: Write report, status: completed" {
		t.Errorf("query = %q", rendered)
	}

	got = call("execute_query", map[string]any{"query_string": "SELECT * FROM missing_table"})
	var payload map[string]string
	if err := json.Unmarshal([]byte(got), &payload); err != nil || !strings.HasPrefix(payload["error"], "Error executing execute_query: ") {
		t.Errorf("bad query = %s", got)
	}

	got = call("update_preferences", map[string]any{"preferences": map[string]any{"tone": "brief"}})
	if got != `{"tone":"brief"}` {
		t.Errorf("update_preferences = %s", got)
	}
}
