// Package agent implements the bounded tool-calling conversation loop.
//
// One Run turns a user message into a sequence of model calls
// interleaved with tool dispatch. The loop ends when a turn without tool
// calls is marked final, or when the iteration budget runs out, in which
// case the best content seen so far is returned as a forced final answer.
// A Run never makes more than MaxIterations+1 model calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/tools"
)

// DefaultMaxIterations is used when neither the Request nor the Loop
// sets a budget.
const DefaultMaxIterations = 10

// ErrNoModel is returned when no model is configured for a run.
var ErrNoModel = errors.New("no model configured")

// State names the loop's position, logged on every transition.
type State string

const (
	StateAwaitingModel    State = "AWAITING_MODEL"
	StateDispatchingTools State = "DISPATCHING_TOOLS"
	StateBudgetExceeded   State = "BUDGET_EXCEEDED"
	StateFinalized        State = "FINALIZED"
)

// ToolRegistry is the part of the tool registry the loop consumes.
type ToolRegistry interface {
	Specs(names ...string) []map[string]any
	DispatchAll(ctx context.Context, calls []llm.ToolCall) []tools.Result
}

// Request is one external call into the loop.
type Request struct {
	SystemPrompt string
	History      []llm.Message
	UserMessage  string

	// Tools restricts the tool specs offered to the model. Nil offers all.
	Tools []string

	// MaxIterations overrides the loop default when positive.
	MaxIterations int

	// Model overrides the loop default when set.
	Model string

	SessionID string
}

// Response is the final answer of a run.
type Response struct {
	Content string
	IsFinal bool

	// Forced is set when the budget ran out before a final turn.
	Forced bool

	Model      string
	ModelCalls int

	// ToolCalls lists dispatched tool names in dispatch order.
	ToolCalls []string

	// Messages is the full in-flight transcript, system prompt included.
	Messages []llm.Message

	InputTokens  int
	OutputTokens int
}

// Config holds loop defaults.
type Config struct {
	Model         string
	MaxIterations int

	// Options are passed to every model call. ToolChoice and
	// ResponseFormat default to auto and JSON.
	Options llm.ChatOptions
}

// Loop is the conversation orchestrator.
type Loop struct {
	logger   *slog.Logger
	llm      llm.Client
	tools    ToolRegistry
	cfg      Config
	recorder Recorder
}

// NewLoop creates a loop. A nil registry offers no tools.
func NewLoop(logger *slog.Logger, client llm.Client, registry ToolRegistry, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = tools.NewRegistry(logger)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Options.ToolChoice == "" {
		cfg.Options.ToolChoice = llm.ToolChoiceAuto
	}
	if cfg.Options.ResponseFormat == "" {
		cfg.Options.ResponseFormat = llm.FormatJSON
	}
	return &Loop{logger: logger, llm: client, tools: registry, cfg: cfg}
}

// SetRecorder installs a metrics recorder.
func (l *Loop) SetRecorder(r Recorder) {
	l.recorder = r
}

// Run executes the loop for one user message. Model failures are returned
// as errors; tool failures and budget exhaustion are not.
func (l *Loop) Run(ctx context.Context, req *Request, onEvent EventFunc) (*Response, error) {
	model := req.Model
	if model == "" {
		model = l.cfg.Model
	}
	if model == "" {
		return nil, ErrNoModel
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = l.cfg.MaxIterations
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	log := l.logger.With("session_id", req.SessionID, "model", model)
	ctx = tools.WithSessionID(ctx, req.SessionID)

	messages := make([]llm.Message, 0, len(req.History)+4)
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.UserMessage})
	messages = ensureJSONInstruction(messages)

	specs := l.tools.Specs(req.Tools...)

	resp := &Response{Model: model}
	var best string
	remaining := maxIter

	log.Info("agent loop started", "history", len(req.History), "tools", len(specs), "max_iterations", maxIter)

	for call := 1; ; call++ {
		l.transition(ctx, log, StateAwaitingModel, "call", call, "remaining", remaining)

		chatResp, err := l.chat(ctx, model, messages, specs)
		if err != nil {
			log.Error("model call failed", "call", call, "error", err)
			return nil, fmt.Errorf("model call %d: %w", call, err)
		}
		resp.ModelCalls = call
		resp.InputTokens += chatResp.InputTokens
		resp.OutputTokens += chatResp.OutputTokens
		if chatResp.Model != "" {
			resp.Model = chatResp.Model
		}

		assistant := chatResp.Message
		assistant.Role = llm.RoleAssistant
		messages = append(messages, assistant)

		parsed := Parse(assistant.Content)
		if parsed.Content != "" {
			best = parsed.Content
		}

		if len(assistant.ToolCalls) > 0 {
			if call > maxIter {
				log.Warn("tool calls requested at iteration cap, not dispatching",
					"call", call, "tool_calls", len(assistant.ToolCalls))
				return l.force(ctx, log, resp, messages, best, onEvent), nil
			}
			messages, err = l.dispatch(ctx, log, resp, messages, assistant.ToolCalls, onEvent)
			if err != nil {
				log.Error("tool failure aborted the turn", "call", call, "error", err)
				return nil, err
			}
			remaining--
			continue
		}

		if parsed.IsFinal {
			resp.Content = parsed.Content
			resp.IsFinal = true
			resp.Messages = messages
			l.transition(ctx, log, StateFinalized, "model_calls", resp.ModelCalls)
			l.finish(log, resp, onEvent)
			return resp, nil
		}

		if remaining <= 0 {
			return l.force(ctx, log, resp, messages, best, onEvent), nil
		}
		if remaining == 1 {
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: IterationReminder})
			log.Debug("injected iteration reminder", "call", call)
		}
		remaining--
	}
}

func (l *Loop) chat(ctx context.Context, model string, messages []llm.Message, specs []map[string]any) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := l.llm.Chat(ctx, model, messages, specs, l.cfg.Options)
	if l.recorder != nil {
		var in, out int
		if resp != nil {
			in, out = resp.InputTokens, resp.OutputTokens
		}
		l.recorder.ModelCall(model, time.Since(start), in, out, err)
	}
	if err == nil && resp == nil {
		err = errors.New("empty response from provider")
	}
	return resp, err
}

// dispatch runs every call of the turn and appends one tool message per
// call in request order. A result carrying a tools.FatalError is returned
// as an error once every result of the turn has been appended.
func (l *Loop) dispatch(ctx context.Context, log *slog.Logger, resp *Response, messages []llm.Message, calls []llm.ToolCall, onEvent EventFunc) ([]llm.Message, error) {
	l.transition(ctx, log, StateDispatchingTools, "tool_calls", len(calls))

	for _, c := range calls {
		onEvent(Event{Kind: EventToolStart, Tool: c.Function.Name, Arguments: c.Function.Arguments})
	}

	var fatal error
	results := l.tools.DispatchAll(ctx, calls)
	for _, r := range results {
		messages = append(messages, r.Message())
		resp.ToolCalls = append(resp.ToolCalls, r.Name)
		ev := Event{Kind: EventToolDone, Tool: r.Name, Result: r.Content}
		if r.Err != nil {
			ev.Error = r.Err.Error()
			if fatal == nil && tools.IsFatal(r.Err) {
				fatal = fmt.Errorf("tool %s: %w", r.Name, r.Err)
			}
		}
		onEvent(ev)
	}
	return messages, fatal
}

func (l *Loop) force(ctx context.Context, log *slog.Logger, resp *Response, messages []llm.Message, best string, onEvent EventFunc) *Response {
	l.transition(ctx, log, StateBudgetExceeded, "model_calls", resp.ModelCalls)
	if best == "" {
		best = ExhaustedApology
	}
	resp.Content = best
	resp.IsFinal = true
	resp.Forced = true
	resp.Messages = messages
	l.transition(ctx, log, StateFinalized, "forced", true)
	log.Warn("iteration budget exhausted, forcing final answer", "model_calls", resp.ModelCalls)
	l.finish(log, resp, onEvent)
	return resp
}

func (l *Loop) finish(log *slog.Logger, resp *Response, onEvent EventFunc) {
	if l.recorder != nil {
		l.recorder.LoopFinished(resp.ModelCalls, resp.Forced)
	}
	onEvent(Event{Kind: EventFinal, Content: resp.Content, Forced: resp.Forced})
	log.Info("agent loop completed",
		"model_calls", resp.ModelCalls,
		"tool_calls", len(resp.ToolCalls),
		"forced", resp.Forced,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
}

func (l *Loop) transition(ctx context.Context, log *slog.Logger, s State, attrs ...any) {
	log.Log(ctx, slog.LevelDebug, "loop state", append([]any{"state", string(s)}, attrs...)...)
}
