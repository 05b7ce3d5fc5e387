package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "Hello!"},
		{Role: RoleAssistant, Content: "Hi there!"},
		{Role: RoleUser, Content: "Add a task."},
	}

	result, system := convertToAnthropic(messages)

	if len(system) != 1 || system[0] != "You are a helpful assistant." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a productivity assistant."},
		{Role: RoleUser, Content: "Search two things."},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				NewToolCall("toolu_1", "web_search", map[string]any{"query": "a"}),
				NewToolCall("toolu_2", "web_search", map[string]any{"query": "b"}),
			},
		},
		{Role: RoleTool, Content: `{"answer":"a"}`, ToolCallID: "toolu_1"},
		{Role: RoleTool, Content: `{"error":"boom"}`, ToolCallID: "toolu_2"},
		{Role: RoleSystem, Content: "WARNING: finish now."},
	}

	result, _ := convertToAnthropic(messages)

	// user, assistant(tool_use x2), user(tool_result x2 + reminder)
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}
	if len(result[1].Content) != 2 || result[1].Content[0].OfToolUse == nil {
		t.Fatalf("assistant should carry two tool_use blocks: %+v", result[1].Content)
	}
	if result[2].Role != "user" || len(result[2].Content) != 3 {
		t.Fatalf("tool results should merge into one user turn, got %d blocks", len(result[2].Content))
	}
	first := result[2].Content[0].OfToolResult
	if first == nil || first.ToolUseID != "toolu_1" {
		t.Errorf("first tool_result = %+v", first)
	}
	if result[2].Content[2].OfText == nil {
		t.Error("late system message should become a text block")
	}
}

func TestAnthropicChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5",
			"content":[{"type":"text","text":"Looking."},{"type":"tool_use","id":"toolu_9","name":"web_search","input":{"query":"go"}}],
			"stop_reason":"tool_use","usage":{"input_tokens":20,"output_tokens":7}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "test", BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	tools := []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "web_search",
			"description": "Search",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query", "reasoning"},
			},
		},
	}}

	resp, err := c.Chat(context.Background(), "claude-sonnet-4-5",
		[]Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		tools, ChatOptions{ResponseFormat: FormatJSON})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if sys, _ := got["system"].([]any); len(sys) != 2 {
		t.Errorf("system blocks = %v, want prompt plus JSON instruction", got["system"])
	}
	if tc, _ := got["tool_choice"].(map[string]any); tc["type"] != "auto" {
		t.Errorf("tool_choice = %v", got["tool_choice"])
	}
	if resp.Message.Content != "Looking." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].ID != "toolu_9" {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.FinishReason != "tool_use" || resp.InputTokens != 20 {
		t.Errorf("resp = %+v", resp)
	}
}
