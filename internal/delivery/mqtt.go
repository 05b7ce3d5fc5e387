package delivery

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// ErrNotConnected is returned by MQTT sends before Start has created
// the connection manager.
var ErrNotConnected = errors.New("mqtt publisher not started")

// MQTTConfig configures the broker connection used to publish replies.
type MQTTConfig struct {
	// Broker is the broker URL (mqtt://, mqtts://, ssl://, tcp://).
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// DeviceName identifies this instance in topics and the client ID.
	DeviceName string `yaml:"device_name"`
	// TopicPrefix is the first topic segment. Default: "steward".
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// MQTT publishes replies as retained-free JSON events on
// <prefix>/<device>/reply and maintains an availability topic through a
// birth message and a last-will.
type MQTT struct {
	cfg    MQTTConfig
	logger *slog.Logger
	cm     atomic.Pointer[autopaho.ConnectionManager]
	now    func() time.Time
}

// NewMQTT creates a publisher but does not connect. Call [MQTT.Start].
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) *MQTT {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "steward"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "steward"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{cfg: cfg, logger: logger, now: time.Now}
}

// Name implements [Sender].
func (m *MQTT) Name() string { return ChannelMQTT }

func (m *MQTT) baseTopic() string {
	return m.cfg.TopicPrefix + "/" + m.cfg.DeviceName
}

// ReplyTopic is where replies are published.
func (m *MQTT) ReplyTopic() string { return m.baseTopic() + "/reply" }

// AvailabilityTopic carries the retained "online"/"offline" status.
func (m *MQTT) AvailabilityTopic() string { return m.baseTopic() + "/availability" }

// Start connects to the broker and returns once the first connection
// attempt has finished or timed out; autopaho keeps reconnecting in
// the background until ctx is cancelled.
func (m *MQTT) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   m.AvailabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
			m.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.cfg.TopicPrefix + "-" + m.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.cm.Store(cm)

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes "offline" and disconnects.
func (m *MQTT) Stop(ctx context.Context) error {
	cm := m.cm.Load()
	if cm == nil {
		return nil
	}
	m.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// Ping waits for the broker connection until ctx is done.
func (m *MQTT) Ping(ctx context.Context) error {
	cm := m.cm.Load()
	if cm == nil {
		return ErrNotConnected
	}
	return cm.AwaitConnection(ctx)
}

// replyEvent is the JSON body published for each reply.
type replyEvent struct {
	SessionID string    `json:"session_id"`
	To        string    `json:"to,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *MQTT) encode(msg Message) ([]byte, error) {
	return json.Marshal(replyEvent{
		SessionID: msg.SessionID,
		To:        msg.To,
		Text:      msg.Text,
		Timestamp: m.now().UTC(),
	})
}

// Send implements [Sender].
func (m *MQTT) Send(ctx context.Context, msg Message) error {
	cm := m.cm.Load()
	if cm == nil {
		return ErrNotConnected
	}
	payload, err := m.encode(msg)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.ReplyTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.ReplyTopic(), err)
	}
	return nil
}

func (m *MQTT) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.AvailabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	m.logger.Info("mqtt availability published", "status", status)
}
