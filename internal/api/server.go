// Package api implements the HTTP surface: the Evolution API webhook for
// WhatsApp, a JSON chat endpoint, session history, a WebSocket chat and
// the operational endpoints.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stewardhq/steward/internal/buildinfo"
	"github.com/stewardhq/steward/internal/chat"
	"github.com/stewardhq/steward/internal/connwatch"
	"github.com/stewardhq/steward/internal/memory"
)

// maxBodyBytes bounds request bodies on every JSON endpoint.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Pipeline is the part of chat.Service the server drives.
type Pipeline interface {
	Handle(ctx context.Context, in chat.Inbound) (*chat.Reply, error)
	History(ctx context.Context, sessionID string) ([]memory.Message, error)
	Clear(ctx context.Context, sessionID string) error
}

// WebhookConfig filters inbound Evolution API events.
type WebhookConfig struct {
	// TargetNumber must appear in the remote JID of accepted messages.
	TargetNumber string
	// Key, when set, must equal the apikey field of the event body.
	Key string
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	pipeline Pipeline
	webhook  WebhookConfig
	metrics  http.Handler
	health   HealthReporter
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(address string, port int, pipeline Pipeline, webhook WebhookConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		pipeline: pipeline,
		webhook:  webhook,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// SetMetricsHandler mounts h on GET /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// HealthReporter reports the reachability of external services.
type HealthReporter interface {
	Status() map[string]connwatch.Status
}

// SetHealth makes /health include per-service status.
func (s *Server) SetHealth(h HealthReporter) {
	s.health = h
}

// Handler builds the routed handler with logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook/evolution", s.handleEvolutionWebhook)

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", s.handleSessionMessages)
	mux.HandleFunc("DELETE /v1/sessions/{id}/messages", s.handleSessionClear)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Agent turns with several tool rounds take a while.
		WriteTimeout: 180 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack exposes the connection for the WebSocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", reqID,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Steward",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// HealthResponse is the /health body. A degraded status still answers 200
// so that the process is not restarted over a remote outage.
type HealthResponse struct {
	Status   string                      `json:"status"`
	Services map[string]connwatch.Status `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if s.health != nil {
		resp.Services = s.health.Status()
		for _, st := range resp.Services {
			if !st.Ready {
				resp.Status = "degraded"
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// ChatResponse is the reply of POST /v1/chat.
type ChatResponse struct {
	Response   string   `json:"response"`
	SessionID  string   `json:"session_id"`
	Model      string   `json:"model,omitempty"`
	ModelCalls int      `json:"model_calls"`
	ToolCalls  []string `json:"tool_calls,omitempty"`
	Forced     bool     `json:"forced,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = chat.DefaultSession
	}

	reply, err := s.pipeline.Handle(r.Context(), chat.Inbound{
		SessionID: sessionID,
		Text:      req.Message,
		Source:    chat.SourceAPI,
		Model:     req.Model,
	})
	if err != nil {
		s.pipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Response:   reply.Content,
		SessionID:  reply.SessionID,
		Model:      reply.Model,
		ModelCalls: reply.ModelCalls,
		ToolCalls:  reply.ToolCalls,
		Forced:     reply.Forced,
	}, s.logger)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.pipeline.History(r.Context(), id)
	if err != nil {
		s.logger.Error("history lookup failed", "session_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"messages":   msgs,
	}, s.logger)
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.pipeline.Clear(r.Context(), id); err != nil {
		s.logger.Error("clear session failed", "session_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"session_id": id, "status": "cleared"}, s.logger)
}

// pipelineError maps a failed turn to a user-visible response.
func (s *Server) pipelineError(w http.ResponseWriter, err error) {
	if errors.Is(err, chat.ErrEmptyMessage) {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	s.logger.Error("conversation turn failed", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "agent error: "+err.Error())
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
