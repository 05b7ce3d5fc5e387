// Package tools is the tool registry and dispatcher: it maps tool names
// to handlers with a declared JSON-schema, exposes the specs to the model
// and executes model-requested calls, turning every failure into an error
// payload the model can read.
package tools

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// ReasoningParam is injected into every tool schema as a required string.
// Its value is logged and never passed to handlers.
const ReasoningParam = "reasoning"

// Handler executes a tool. The returned value must be JSON-serializable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Observer is notified after each dispatch (metrics).
type Observer interface {
	ToolExecuted(name string, d time.Duration, err error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxParallel bounds concurrent handler executions within one
// DispatchAll call. Values below 1 mean sequential.
func WithMaxParallel(n int) Option {
	return func(r *Registry) { r.maxParallel = n }
}

// WithObserver installs a dispatch observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// Registry holds available tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string

	maxParallel int
	observer    Observer
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:       make(map[string]*Tool),
		maxParallel: 4,
		logger:      logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a tool. The name must be non-empty and unused and a
// handler is required. The stored schema always declares a required
// reasoning string.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" || t.Handler == nil {
		return ErrInvalidTool
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return &ErrDuplicateTool{ToolName: t.Name}
	}

	stored := *t
	stored.Parameters = withReasoning(t.Parameters)
	r.tools[t.Name] = &stored
	r.order = append(r.order, t.Name)
	return nil
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tools))
}

// Specs returns OpenAI-style function specs in registration order. When
// names are given only those tools are included; unknown names are
// skipped.
func (r *Registry) Specs(names ...string) []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := r.order
	if len(names) > 0 {
		selected = names
	}
	specs := make([]map[string]any, 0, len(selected))
	for _, name := range selected {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		specs = append(specs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return specs
}

// withReasoning returns a copy of params whose properties include the
// reasoning string and whose required list names it.
func withReasoning(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+2)
	maps.Copy(out, params)
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}

	props := map[string]any{}
	if p, ok := params["properties"].(map[string]any); ok {
		maps.Copy(props, p)
	}
	props[ReasoningParam] = map[string]any{
		"type":        "string",
		"description": "Briefly explain why you are calling this tool.",
	}
	out["properties"] = props

	var required []string
	switch req := params["required"].(type) {
	case []string:
		required = append(required, req...)
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	if !slices.Contains(required, ReasoningParam) {
		required = append(required, ReasoningParam)
	}
	out["required"] = required
	return out
}
