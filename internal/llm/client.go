package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools are OpenAI-style function specs
	// ({"type":"function","function":{name,description,parameters}}).
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any, opts ChatOptions) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// toolFunction unpacks the name, description and parameter schema from an
// OpenAI-style tool spec. ok is false when the spec has no function name.
func toolFunction(spec map[string]any) (name, description string, params map[string]any, ok bool) {
	fn, _ := spec["function"].(map[string]any)
	if fn == nil {
		fn = spec
	}
	name, _ = fn["name"].(string)
	if name == "" {
		return "", "", nil, false
	}
	description, _ = fn["description"].(string)
	params, _ = fn["parameters"].(map[string]any)
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return name, description, params, true
}
