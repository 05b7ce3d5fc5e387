// Package llm provides LLM client implementations.
package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM. The order of a message
// slice is the conversation timeline and is replayed to the model as-is.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the tool and carries its arguments as the raw
// JSON object the model produced.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ArgumentsMap decodes the raw argument JSON. An empty argument string
// decodes to an empty map.
func (tc ToolCall) ArgumentsMap() (map[string]any, error) {
	if tc.Function.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decode arguments for %s: %w", tc.Function.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// NewToolCall builds a ToolCall from a decoded argument map.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	raw := "{}"
	if len(args) > 0 {
		if b, err := json.Marshal(args); err == nil {
			raw = string(b)
		}
	}
	return ToolCall{ID: id, Function: ToolCallFunction{Name: name, Arguments: raw}}
}

// ToolChoice values.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// ResponseFormat values.
const (
	FormatText = ""
	FormatJSON = "json_object"
)

// ChatOptions carries per-request settings that providers map onto their
// own wire parameters.
type ChatOptions struct {
	// ToolChoice is "auto" (default when tools are present) or "none".
	ToolChoice string

	// ResponseFormat is FormatJSON to request a single JSON object.
	ResponseFormat string

	// MaxTokens caps completion length. Zero uses the provider default.
	MaxTokens int

	// Temperature is passed through when non-nil.
	Temperature *float64
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model   string
	Message Message

	// FinishReason is the provider's stop reason ("stop", "tool_calls",
	// "end_turn", "tool_use", ...).
	FinishReason string

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// Duration is wall time spent waiting on the provider.
	Duration time.Duration
}

// HasToolCalls reports whether the model requested at least one tool.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}

// synthesizeIDs fills in missing tool call IDs with call_<n>, unique
// within the slice.
func synthesizeIDs(calls []ToolCall) {
	seen := make(map[string]bool, len(calls))
	for _, c := range calls {
		if c.ID != "" {
			seen[c.ID] = true
		}
	}
	n := 0
	for i := range calls {
		if calls[i].ID != "" {
			continue
		}
		for {
			n++
			id := fmt.Sprintf("call_%d", n)
			if !seen[id] {
				calls[i].ID = id
				seen[id] = true
				break
			}
		}
	}
}
