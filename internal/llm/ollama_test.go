package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantName  string
	}{
		{name: "empty content", content: "", wantCount: 0},
		{name: "whitespace only", content: "   \n\t  ", wantCount: 0},
		{name: "plain text no JSON", content: "Your week looks clear.", wantCount: 0},
		{
			name:      "single tool call object",
			content:   `{"name": "web_search", "arguments": {"query": "weather"}}`,
			wantCount: 1,
			wantName:  "web_search",
		},
		{
			name:      "array of tool calls",
			content:   `[{"name": "execute_query", "arguments": {"query": "SELECT 1"}}, {"name": "web_search", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "execute_query",
		},
		{
			name:      "tagged tool call",
			content:   `<tool_call>{"name": "create_task_on_todoist", "arguments": {"content": "call mom"}}</tool_call>`,
			wantCount: 1,
			wantName:  "create_task_on_todoist",
		},
		{
			name:      "tagged without closing tag",
			content:   `<tool_call>{"name": "web_search", "arguments": {"query": "go"}}`,
			wantCount: 1,
			wantName:  "web_search",
		},
		{
			name:      "structured answer is not a tool call",
			content:   `{"content": "Done.", "is_final": true}`,
			wantCount: 0,
		},
		{name: "malformed JSON", content: `{"name": "web_search", "arguments": {`, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content)
			if len(got) != tt.wantCount {
				t.Fatalf("got %d calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("first call = %s, want %s", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestOllamaChat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Write([]byte(`{"model":"qwen3","done":true,"prompt_eval_count":12,"eval_count":4,
			"message":{"role":"assistant","content":"","tool_calls":[
				{"function":{"name":"web_search","arguments":{"query":"go"}}},
				{"function":{"name":"web_search","arguments":{"query":"rust"}}}]}}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	history := []Message{
		{Role: RoleUser, Content: "search"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{NewToolCall("call_1", "web_search", map[string]any{"query": "x"})}},
		{Role: RoleTool, Content: `{"ok":true}`, ToolCallID: "call_1"},
	}
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "web_search"}}}

	resp, err := c.Chat(context.Background(), "qwen3", history, tools, ChatOptions{ResponseFormat: FormatJSON})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got.Format != "json" {
		t.Errorf("format = %q, want json", got.Format)
	}
	if got.Stream {
		t.Error("stream should be false")
	}
	if q := got.Messages[1].ToolCalls[0].Function.Arguments["query"]; q != "x" {
		t.Errorf("assistant tool call args not sent as object: %v", got.Messages[1].ToolCalls[0].Function.Arguments)
	}

	if len(resp.Message.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].ID == resp.Message.ToolCalls[1].ID {
		t.Error("synthesized IDs must be unique")
	}
	if resp.Message.ToolCalls[1].Function.Arguments != `{"query":"rust"}` {
		t.Errorf("arguments = %s", resp.Message.ToolCalls[1].Function.Arguments)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 4 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	if _, err := c.Chat(context.Background(), "missing", nil, nil, ChatOptions{}); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"qwen3:8b"},{"name":"llama3.2"}]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	names, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(names) != 2 || names[0] != "qwen3:8b" {
		t.Errorf("names = %v", names)
	}
}
