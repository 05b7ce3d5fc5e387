// Package chat is the entry point of the conversation pipeline. Every
// inbound message, whether from WhatsApp, the HTTP API, a WebSocket or a
// fired scheduler task, goes through [Service.Handle]: the session's
// history is loaded, the agent loop runs, the exchange is stored and the
// reply is delivered on the channel it belongs to.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/stewardhq/steward/internal/agent"
	"github.com/stewardhq/steward/internal/delivery"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/memory"
	"github.com/stewardhq/steward/internal/tools"
)

// Sources of inbound messages.
const (
	SourceWhatsApp  = "whatsapp"
	SourceAPI       = "api"
	SourceWebSocket = "ws"
	SourceScheduler = "scheduler"
	SourceCLI       = "cli"
)

// DefaultSession is used when an inbound message names no session.
const DefaultSession = "default"

// ErrEmptyMessage is returned for inbound messages without text.
var ErrEmptyMessage = errors.New("message text is empty")

// Inbound is one user (or synthetic) message entering the pipeline.
type Inbound struct {
	SessionID string
	Text      string
	Source    string

	// ReplyTo routes the reply to a specific channel. When nil, replies
	// from the scheduler go to the notify channels and replies to API
	// callers are only returned.
	ReplyTo *ReplyTarget

	// Model overrides the configured default model.
	Model string

	// OnEvent receives loop events while the reply is produced.
	OnEvent agent.EventFunc
}

// ReplyTarget names the channel and recipient of a reply.
type ReplyTarget struct {
	Channel string
	To      string
	Quoted  map[string]any
	APIKey  string
}

// Reply is the outcome of one Handle call.
type Reply struct {
	SessionID  string   `json:"session_id"`
	Content    string   `json:"content"`
	Forced     bool     `json:"forced,omitempty"`
	Model      string   `json:"model,omitempty"`
	ModelCalls int      `json:"model_calls"`
	ToolCalls  []string `json:"tool_calls,omitempty"`
	// Delivered lists the channels the reply was sent on.
	Delivered []string `json:"delivered,omitempty"`
}

// Runner runs the agent loop.
type Runner interface {
	Run(ctx context.Context, req *agent.Request, onEvent agent.EventFunc) (*agent.Response, error)
}

// Deliverer sends replies out of the process.
type Deliverer interface {
	Deliver(ctx context.Context, channel string, msg delivery.Message) error
	Channels() []string
}

// Journal is the domain store part the pipeline uses for prompt context
// and the interaction log.
type Journal interface {
	SchemaSummary(ctx context.Context) (string, error)
	Preferences(ctx context.Context) (map[string]any, error)
	LogInteraction(ctx context.Context, message, response, intent string, contextData map[string]any) error
}

// Recorder counts handled messages (metrics).
type Recorder interface {
	MessageHandled(source string, err error)
}

// Config shapes the pipeline.
type Config struct {
	Name string
	// Persona replaces the built-in persona when non-empty.
	Persona  string
	Location *time.Location

	HistoryLimit  int
	HistoryTokens int

	// Notify lists the channels for replies without a ReplyTo. Empty
	// means every registered channel.
	Notify []string

	// Tools are the registered tool names, used to select prompt guides.
	Tools []string
}

// Service is the conversation pipeline.
type Service struct {
	logger   *slog.Logger
	runner   Runner
	sessions memory.Sessions
	counter  *memory.TokenCounter
	cfg      Config

	journal   Journal
	deliverer Deliverer
	recorder  Recorder
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures optional collaborators.
type Option func(*Service)

// WithJournal adds schema, preferences and interaction logging.
func WithJournal(j Journal) Option { return func(s *Service) { s.journal = j } }

// WithDeliverer enables outbound delivery.
func WithDeliverer(d Deliverer) Option { return func(s *Service) { s.deliverer = d } }

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithClock overrides the time source used in the prompt.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New creates a Service.
func New(logger *slog.Logger, runner Runner, sessions memory.Sessions, cfg Config, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Name == "" {
		cfg.Name = "James"
	}
	s := &Service{
		logger:   logger,
		runner:   runner,
		sessions: sessions,
		counter:  memory.NewTokenCounter(),
		cfg:      cfg,
		now:      time.Now,
		locks:    make(map[string]*sessionLock),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// lock serializes turns of one session. The returned func releases it.
func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Handle runs one conversation turn. Model and fatal tool failures are
// returned as errors; delivery failures are logged and only reflected
// in Reply.Delivered.
func (s *Service) Handle(ctx context.Context, in Inbound) (reply *Reply, err error) {
	if in.SessionID == "" {
		in.SessionID = DefaultSession
	}
	if s.recorder != nil {
		defer func() { s.recorder.MessageHandled(in.Source, err) }()
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	log := s.logger.With("session_id", in.SessionID, "source", in.Source)
	unlock := s.lock(in.SessionID)
	defer unlock()

	history := s.sessions.Session(in.SessionID)
	stored, err := history.GetMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	window := s.counter.Window(stored, s.cfg.HistoryLimit, s.cfg.HistoryTokens)

	if err := history.AddMessage(ctx, llm.RoleUser, text); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	log.Info("handling message", "chars", len(text), "history", len(window), "stored", len(stored))

	runCtx := tools.WithSource(ctx, in.Source)
	resp, err := s.runner.Run(runCtx, &agent.Request{
		SystemPrompt: s.SystemPrompt(ctx),
		History:      memory.ToLLM(window),
		UserMessage:  text,
		Model:        in.Model,
		SessionID:    in.SessionID,
	}, in.OnEvent)
	if err != nil {
		return nil, fmt.Errorf("agent loop: %w", err)
	}

	if err := history.AddMessage(ctx, llm.RoleAssistant, resp.Content); err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}

	reply = &Reply{
		SessionID:  in.SessionID,
		Content:    resp.Content,
		Forced:     resp.Forced,
		Model:      resp.Model,
		ModelCalls: resp.ModelCalls,
		ToolCalls:  resp.ToolCalls,
	}

	if s.journal != nil {
		data := map[string]any{
			"session_id":  in.SessionID,
			"source":      in.Source,
			"model":       resp.Model,
			"model_calls": resp.ModelCalls,
			"tool_calls":  resp.ToolCalls,
			"forced":      resp.Forced,
		}
		if err := s.journal.LogInteraction(ctx, text, resp.Content, in.Source, data); err != nil {
			log.Warn("failed to log interaction", "error", err)
		}
	}

	reply.Delivered = s.deliver(ctx, log, in, resp.Content)
	return reply, nil
}

// deliver sends content on the reply channel, or on the notify channels
// for scheduler-originated turns. It returns the channels that accepted
// the message.
func (s *Service) deliver(ctx context.Context, log *slog.Logger, in Inbound, content string) []string {
	if s.deliverer == nil {
		return nil
	}

	msg := delivery.Message{SessionID: in.SessionID, Text: content}
	var channels []string
	switch {
	case in.ReplyTo != nil:
		msg.To = in.ReplyTo.To
		msg.Quoted = in.ReplyTo.Quoted
		msg.APIKey = in.ReplyTo.APIKey
		channels = []string{in.ReplyTo.Channel}
	case in.Source == SourceScheduler:
		channels = s.cfg.Notify
		if len(channels) == 0 {
			channels = s.deliverer.Channels()
		}
	default:
		return nil
	}

	var delivered []string
	for _, ch := range channels {
		if err := s.deliverer.Deliver(ctx, ch, msg); err != nil {
			log.Warn("reply delivery failed", "channel", ch, "error", err)
			continue
		}
		delivered = append(delivered, ch)
	}
	return delivered
}

// History returns the stored messages of a session.
func (s *Service) History(ctx context.Context, sessionID string) ([]memory.Message, error) {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	return s.sessions.Session(sessionID).GetMessages(ctx)
}

// Clear removes the stored history of a session. It waits for a turn in
// progress on the same session to finish.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	unlock := s.lock(sessionID)
	defer unlock()
	if err := s.sessions.Session(sessionID).ClearMessages(ctx); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	s.logger.Info("session cleared", "session_id", sessionID)
	return nil
}
