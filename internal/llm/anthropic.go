package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicConfig configures the Anthropic messages client.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
}

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	api    anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig, logger *slog.Logger) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: missing API key")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &AnthropicClient{api: anthropic.NewClient(opts...), logger: logger}, nil
}

// Chat sends a messages request. Anthropic has no JSON response mode, so
// FormatJSON is expressed as an extra system instruction.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any, opts ChatOptions) (*ChatResponse, error) {
	msgs, system := convertToAnthropic(messages)
	if opts.ResponseFormat == FormatJSON {
		system = append(system, "Respond with a single JSON object and nothing else.")
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: int64(maxTokens),
	}
	for _, s := range system {
		params.System = append(params.System, anthropic.TextBlockParam{Text: s})
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if len(tools) > 0 && opts.ToolChoice != ToolChoiceNone {
		params.Tools = toAnthropicTools(tools)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}

	c.logger.Log(ctx, LevelTrace, "anthropic request",
		"model", model, "messages", len(msgs), "tools", len(params.Tools))

	start := time.Now()
	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicError(err)
	}

	msg := Message{Role: RoleAssistant}
	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			args := strings.TrimSpace(string(use.Input))
			if args == "" || args == "null" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:       use.ID,
				Function: ToolCallFunction{Name: use.Name, Arguments: args},
			})
		}
	}
	msg.Content = text.String()
	synthesizeIDs(msg.ToolCalls)

	c.logger.Log(ctx, LevelTrace, "anthropic response",
		"model", resp.Model, "stop_reason", resp.StopReason, "content", msg.Content)

	return &ChatResponse{
		Model:        string(resp.Model),
		Message:      msg,
		FinishReason: string(resp.StopReason),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		Duration:     time.Since(start),
	}, nil
}

// Ping lists models to confirm the key is accepted.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if _, err := c.api.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return wrapAnthropicError(err)
	}
	return nil
}

// convertToAnthropic maps the neutral message list to Anthropic's shape.
// Leading system messages become the system prompt; later system messages
// are folded into the user turn because the API has no mid-conversation
// system role. Tool results become tool_result blocks on a user turn and
// consecutive same-role turns are merged so roles alternate.
func convertToAnthropic(messages []Message) ([]anthropic.MessageParam, []string) {
	var system []string
	var out []anthropic.MessageParam

	appendBlocks := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if len(out) == 0 {
				system = append(system, m.Content)
				continue
			}
			appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewTextBlock("[system] "+m.Content))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			appendBlocks(anthropic.MessageParamRoleAssistant, blocks...)
		case RoleTool:
			isErr := strings.Contains(m.Content, `"error"`)
			appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isErr))
		default:
			if m.Content == "" {
				continue
			}
			appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
		}
	}
	return out, system
}

func toAnthropicTools(specs []map[string]any) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		name, desc, params, ok := toolFunction(spec)
		if !ok {
			continue
		}
		schema := anthropic.ToolInputSchemaParam{Properties: params["properties"]}
		switch req := params["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, name)
		if desc != "" && tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(desc)
		}
		tools = append(tools, tool)
	}
	return tools
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return fmt.Errorf("anthropic: http_%d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
