package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stewardhq/steward/internal/agent"
	"github.com/stewardhq/steward/internal/chat"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// wsRequest is one chat message sent by a WebSocket client.
type wsRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// wsFrame is every message the server writes. Type is "event", "reply"
// or "error".
type wsFrame struct {
	Type  string       `json:"type"`
	Event *agent.Event `json:"event,omitempty"`
	Reply *chat.Reply  `json:"reply,omitempty"`
	Error string       `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent
// writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(f wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(f)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWebSocket runs a chat over one WebSocket connection. Messages
// are handled in order; loop events stream back before the reply.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer raw.Close()

	conn := &wsConn{conn: raw}
	ctx := r.Context()

	_ = raw.SetReadDeadline(time.Now().Add(wsPongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		var req wsRequest
		if err := raw.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed by client")
			} else if !websocket.IsUnexpectedCloseError(err) {
				s.logger.Debug("websocket read ended", "error", err)
			} else {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		// A turn can outlast the pong window.
		_ = raw.SetReadDeadline(time.Time{})

		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = chat.DefaultSession
		}
		reply, err := s.pipeline.Handle(ctx, chat.Inbound{
			SessionID: sessionID,
			Text:      req.Message,
			Source:    chat.SourceWebSocket,
			Model:     req.Model,
			OnEvent: func(ev agent.Event) {
				if werr := conn.write(wsFrame{Type: "event", Event: &ev}); werr != nil {
					s.logger.Debug("websocket event write failed", "error", werr)
				}
			},
		})

		var frame wsFrame
		if err != nil {
			frame = wsFrame{Type: "error", Error: err.Error()}
		} else {
			frame = wsFrame{Type: "reply", Reply: reply}
		}
		if err := conn.write(frame); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}
