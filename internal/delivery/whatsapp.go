package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stewardhq/steward/internal/httpkit"
)

// WhatsAppConfig configures the Evolution API instance used for
// WhatsApp replies.
type WhatsAppConfig struct {
	// URL is the Evolution API base URL (e.g., "http://api:8080").
	URL string `yaml:"url"`
	// Instance is the Evolution instance name.
	Instance string `yaml:"instance"`
	// APIKey authenticates outbound calls. A key delivered with an
	// inbound webhook takes precedence.
	APIKey string `yaml:"api_key"`
	// TargetNumber restricts inbound messages to chats whose remote JID
	// contains this number.
	TargetNumber string `yaml:"target_number"`
	// WebhookKey, when set, must match the apikey field on inbound
	// webhook bodies.
	WebhookKey string `yaml:"webhook_key"`
}

// Configured reports whether outbound sends are possible.
func (c WhatsAppConfig) Configured() bool {
	return c.URL != "" && c.Instance != ""
}

// WhatsApp sends replies through the Evolution API sendText endpoint.
type WhatsApp struct {
	cfg        WhatsAppConfig
	senderName string
	client     *http.Client
	logger     *slog.Logger
}

// NewWhatsApp creates a WhatsApp sender. senderName is shown in bold
// at the top of every message so replies are distinguishable from the
// account owner's own messages.
func NewWhatsApp(cfg WhatsAppConfig, senderName string, client *http.Client, logger *slog.Logger) *WhatsApp {
	if client == nil {
		client = httpkit.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &WhatsApp{cfg: cfg, senderName: senderName, client: client, logger: logger}
}

// Name implements [Sender].
func (w *WhatsApp) Name() string { return ChannelWhatsApp }

type sendTextRequest struct {
	Number string         `json:"number"`
	Text   string         `json:"text"`
	Quoted map[string]any `json:"quoted,omitempty"`
}

// ownerJID turns TargetNumber into a chat JID.
func (w *WhatsApp) ownerJID() string {
	n := w.cfg.TargetNumber
	if n == "" || strings.Contains(n, "@") {
		return n
	}
	return n + "@s.whatsapp.net"
}

// FormatText prefixes text with the bold sender name.
func (w *WhatsApp) FormatText(text string) string {
	if w.senderName == "" {
		return text
	}
	return " *" + w.senderName + "*  \n\n" + text
}

// Send implements [Sender]. msg.To is the recipient JID or number and
// defaults to the owner's chat (TargetNumber); msg.APIKey, when set,
// replaces the configured key.
func (w *WhatsApp) Send(ctx context.Context, msg Message) error {
	if !w.cfg.Configured() {
		return errors.New("whatsapp: evolution api not configured")
	}
	if msg.To == "" {
		msg.To = w.ownerJID()
	}
	if msg.To == "" {
		return errors.New("whatsapp: recipient is required")
	}
	apiKey := msg.APIKey
	if apiKey == "" {
		apiKey = w.cfg.APIKey
	}

	endpoint := fmt.Sprintf("%s/message/sendText/%s", w.cfg.URL, url.PathEscape(w.cfg.Instance))
	body := sendTextRequest{
		Number: msg.To,
		Text:   w.FormatText(msg.Text),
		Quoted: msg.Quoted,
	}
	headers := map[string]string{"apikey": apiKey}

	if err := httpkit.DoJSON(ctx, w.client, http.MethodPost, endpoint, headers, body, nil); err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	w.logger.Info("whatsapp message sent", "to", msg.To, "quoted", msg.Quoted != nil)
	return nil
}

type connectionState struct {
	Instance struct {
		State string `json:"state"`
	} `json:"instance"`
}

// Ping reports whether the Evolution instance is connected to WhatsApp.
func (w *WhatsApp) Ping(ctx context.Context) error {
	if !w.cfg.Configured() {
		return errors.New("whatsapp: evolution api not configured")
	}
	endpoint := fmt.Sprintf("%s/instance/connectionState/%s", w.cfg.URL, url.PathEscape(w.cfg.Instance))
	var st connectionState
	if err := httpkit.DoJSON(ctx, w.client, http.MethodGet, endpoint, map[string]string{"apikey": w.cfg.APIKey}, nil, &st); err != nil {
		return fmt.Errorf("whatsapp connection state: %w", err)
	}
	if st.Instance.State != "open" {
		return fmt.Errorf("whatsapp instance %s is %q", w.cfg.Instance, st.Instance.State)
	}
	return nil
}
