package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stewardhq/steward/internal/llm"
)

// Result is the outcome of one tool call. Content is always a JSON
// document; on failure it is {"error": "..."} and Err holds the cause.
type Result struct {
	ToolCallID string
	Name       string
	Content    string
	Err        error
	Duration   time.Duration
}

// Message converts the result into the tool message appended to the
// conversation.
func (r Result) Message() llm.Message {
	return llm.Message{Role: llm.RoleTool, Content: r.Content, ToolCallID: r.ToolCallID}
}

// Dispatch executes a single tool call. It never returns an error: an
// unknown tool, undecodable arguments, a handler error, a panic or an
// unserializable value each produce an error payload instead.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) Result {
	name := call.Function.Name
	res := Result{ToolCallID: call.ID, Name: name}
	start := time.Now()

	var reasoning string
	defer func() {
		res.Duration = time.Since(start)
		r.logger.Info("tool executed",
			"tool", name,
			"reasoning", reasoning,
			"duration", res.Duration.Round(time.Millisecond),
			"error", errString(res.Err),
			"session_id", SessionIDFromContext(ctx),
		)
		if r.observer != nil {
			r.observer.ToolExecuted(name, res.Duration, res.Err)
		}
	}()

	t := r.Get(name)
	if t == nil {
		res.Err = &ErrToolNotFound{ToolName: name}
		res.Content = errorContent(res.Err.Error())
		return res
	}

	args, err := call.ArgumentsMap()
	if err != nil {
		res.Err = err
		res.Content = errorContent(fmt.Sprintf("Error executing %s: %v", name, err))
		return res
	}
	reasoning, _ = args[ReasoningParam].(string)
	delete(args, ReasoningParam)

	value, err := invoke(ctx, t.Handler, args)
	if err == nil {
		var data []byte
		if data, err = json.Marshal(value); err == nil {
			res.Content = string(data)
			return res
		}
		err = fmt.Errorf("encode result: %w", err)
	}
	res.Err = err
	res.Content = errorContent(fmt.Sprintf("Error executing %s: %v", name, err))
	return res
}

// DispatchAll executes every call of one turn, concurrently up to the
// registry's parallel limit. Results are returned in request order and
// only after all calls have finished.
func (r *Registry) DispatchAll(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	limit := r.maxParallel
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.Dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func invoke(ctx context.Context, h Handler, args map[string]any) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			value, err = nil, &PanicError{Value: p}
		}
	}()
	return h(ctx, args)
}

func errorContent(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"unencodable error"}`
	}
	return string(data)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
