// Package delivery sends assistant replies out of the process: to
// WhatsApp through the Evolution API, to an MQTT broker, and by email.
// Each channel implements [Sender]; a [Router] picks the channel for a
// reply or fans a notification out to every configured channel.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Channel names used in configuration and on inbound requests.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelMQTT     = "mqtt"
	ChannelEmail    = "email"
)

// ErrUnknownChannel is returned when no sender is registered under the
// requested channel name.
var ErrUnknownChannel = errors.New("unknown delivery channel")

// Message is one outbound reply.
type Message struct {
	SessionID string
	// To is the channel-specific recipient: a WhatsApp JID, an email
	// address. Channels with a fixed destination ignore it.
	To      string
	Subject string
	Text    string
	// Quoted is the inbound message being answered, passed through to
	// channels that can thread replies.
	Quoted map[string]any
	// APIKey overrides the channel credential for this message. The
	// Evolution webhook delivers the instance key with every event.
	APIKey string
}

// Sender delivers messages on a single channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Router holds the configured senders keyed by channel name.
type Router struct {
	logger *slog.Logger

	mu      sync.RWMutex
	senders map[string]Sender
	order   []string
}

// NewRouter returns an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger, senders: make(map[string]Sender)}
}

// Register adds s, replacing any sender with the same name.
func (r *Router) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if _, ok := r.senders[name]; !ok {
		r.order = append(r.order, name)
	}
	r.senders[name] = s
}

// Channels returns registered channel names in registration order.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Deliver sends msg on the named channel.
func (r *Router) Deliver(ctx context.Context, channel string, msg Message) error {
	r.mu.RLock()
	s, ok := r.senders[channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	if err := s.Send(ctx, msg); err != nil {
		r.logger.Warn("delivery failed",
			"channel", channel, "session", msg.SessionID, "error", err)
		return fmt.Errorf("deliver via %s: %w", channel, err)
	}
	r.logger.Debug("reply delivered",
		"channel", channel, "session", msg.SessionID, "chars", len(msg.Text))
	return nil
}

// Broadcast sends msg on each of channels, or on every registered
// channel when channels is empty. A failing channel does not stop the
// others; the failures are joined into the returned error.
func (r *Router) Broadcast(ctx context.Context, channels []string, msg Message) error {
	if len(channels) == 0 {
		channels = r.Channels()
	}
	var errs []error
	for _, ch := range channels {
		if err := r.Deliver(ctx, ch, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
