package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/stewardhq/steward/internal/chat"
	"github.com/stewardhq/steward/internal/delivery"
)

// evolutionEvent is the subset of an Evolution API "messages.upsert"
// webhook body the assistant reads.
type evolutionEvent struct {
	Instance string         `json:"instance"`
	APIKey   string         `json:"apikey"`
	Data     *evolutionData `json:"data"`
}

type evolutionData struct {
	Key     map[string]any `json:"key"`
	Message map[string]any `json:"message"`
}

// messageText extracts the user text from a WhatsApp message payload.
// Plain messages carry it in "conversation"; replies and messages with
// previews carry it in "extendedTextMessage.text".
func messageText(msg map[string]any) string {
	if s, ok := msg["conversation"].(string); ok && s != "" {
		return s
	}
	if ext, ok := msg["extendedTextMessage"].(map[string]any); ok {
		if s, ok := ext["text"].(string); ok {
			return s
		}
	}
	return ""
}

// accepts reports whether the event comes from the owner's chat. A
// missing fromMe flag counts as true.
func (s *Server) accepts(key map[string]any) bool {
	jid, _ := key["remoteJid"].(string)
	if !strings.Contains(jid, s.webhook.TargetNumber) {
		return false
	}
	if fromMe, ok := key["fromMe"].(bool); ok && !fromMe {
		return false
	}
	return true
}

func (s *Server) handleEvolutionWebhook(w http.ResponseWriter, r *http.Request) {
	var ev evolutionEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		s.logger.Warn("invalid webhook body", "error", err)
		s.errorResponse(w, http.StatusBadRequest, "Invalid webhook data")
		return
	}
	if ev.Data == nil || len(ev.Data.Key) == 0 {
		s.logger.Warn("invalid webhook data: missing data or key")
		s.errorResponse(w, http.StatusBadRequest, "Invalid webhook data")
		return
	}
	if s.webhook.Key != "" && ev.APIKey != s.webhook.Key {
		s.errorResponse(w, http.StatusUnauthorized, "invalid webhook key")
		return
	}

	jid, _ := ev.Data.Key["remoteJid"].(string)
	log := s.logger.With("remote_jid", jid, "instance", ev.Instance)

	if !s.accepts(ev.Data.Key) {
		log.Debug("webhook message ignored")
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]string{"message": "Message ignored"}, s.logger)
		return
	}

	text := strings.TrimSpace(messageText(ev.Data.Message))
	if text == "" {
		log.Warn("webhook message has no text")
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]string{"message": "message_sent: false"}, s.logger)
		return
	}

	reply, err := s.pipeline.Handle(r.Context(), chat.Inbound{
		SessionID: jid,
		Text:      text,
		Source:    chat.SourceWhatsApp,
		ReplyTo: &chat.ReplyTarget{
			Channel: delivery.ChannelWhatsApp,
			To:      jid,
			Quoted:  map[string]any{"key": ev.Data.Key, "message": ev.Data.Message},
			APIKey:  ev.APIKey,
		},
	})
	if err != nil {
		log.Error("failed to process webhook message", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to process webhook data")
		return
	}

	sent := slices.Contains(reply.Delivered, delivery.ChannelWhatsApp)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": fmt.Sprintf("message_sent: %t", sent)}, s.logger)
}
