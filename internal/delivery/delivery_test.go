package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	name string
	err  error
	got  []Message
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.got = append(f.got, msg)
	return f.err
}

func TestRouter_Deliver(t *testing.T) {
	r := NewRouter(discardLogger())
	wa := &fakeSender{name: ChannelWhatsApp}
	r.Register(wa)

	if err := r.Deliver(context.Background(), ChannelWhatsApp, Message{Text: "hi"}); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if len(wa.got) != 1 || wa.got[0].Text != "hi" {
		t.Errorf("sender got %+v", wa.got)
	}

	err := r.Deliver(context.Background(), "pigeon", Message{Text: "hi"})
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Deliver(pigeon) error = %v, want ErrUnknownChannel", err)
	}
}

func TestRouter_BroadcastContinuesPastFailures(t *testing.T) {
	r := NewRouter(discardLogger())
	broken := &fakeSender{name: ChannelMQTT, err: errors.New("broker down")}
	mail := &fakeSender{name: ChannelEmail}
	r.Register(broken)
	r.Register(mail)

	err := r.Broadcast(context.Background(), nil, Message{Text: "reminder"})
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("Broadcast() error = %v, want broker failure", err)
	}
	if len(mail.got) != 1 {
		t.Errorf("email sender called %d times, want 1", len(mail.got))
	}

	if got := r.Channels(); len(got) != 2 || got[0] != ChannelMQTT || got[1] != ChannelEmail {
		t.Errorf("Channels() = %v", got)
	}
}

func TestRouter_RegisterReplaces(t *testing.T) {
	r := NewRouter(discardLogger())
	first := &fakeSender{name: ChannelEmail}
	second := &fakeSender{name: ChannelEmail}
	r.Register(first)
	r.Register(second)

	if err := r.Broadcast(context.Background(), []string{ChannelEmail}, Message{Text: "x"}); err != nil {
		t.Fatalf("Broadcast() error: %v", err)
	}
	if len(first.got) != 0 || len(second.got) != 1 {
		t.Errorf("first=%d second=%d, want 0 and 1", len(first.got), len(second.got))
	}
	if n := len(r.Channels()); n != 1 {
		t.Errorf("Channels() has %d entries, want 1", n)
	}
}

func TestWhatsApp_Send(t *testing.T) {
	var (
		gotPath string
		gotKey  string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		gotBody = nil
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"key":{"id":"abc"}}`))
	}))
	defer srv.Close()

	wa := NewWhatsApp(WhatsAppConfig{URL: srv.URL + "/", Instance: "home", APIKey: "cfg-key"}, "James", srv.Client(), discardLogger())
	quoted := map[string]any{"key": map[string]any{"id": "in-1"}}

	err := wa.Send(context.Background(), Message{To: "5511999763846@s.whatsapp.net", Text: "Done.", Quoted: quoted})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if gotPath != "/message/sendText/home" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "cfg-key" {
		t.Errorf("apikey = %q, want cfg-key", gotKey)
	}
	if gotBody["number"] != "5511999763846@s.whatsapp.net" {
		t.Errorf("number = %v", gotBody["number"])
	}
	if gotBody["text"] != " *James*  \n\nDone." {
		t.Errorf("text = %q", gotBody["text"])
	}
	if _, ok := gotBody["quoted"]; !ok {
		t.Error("quoted missing from body")
	}

	if err := wa.Send(context.Background(), Message{To: "x", Text: "y", APIKey: "hook-key"}); err != nil {
		t.Fatalf("Send() with key error: %v", err)
	}
	if gotKey != "hook-key" {
		t.Errorf("apikey = %q, want hook-key", gotKey)
	}
	if _, ok := gotBody["quoted"]; ok {
		t.Error("quoted should be omitted when nil")
	}
}

func TestWhatsApp_SendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "instance offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wa := NewWhatsApp(WhatsAppConfig{URL: srv.URL, Instance: "home"}, "", srv.Client(), discardLogger())
	err := wa.Send(context.Background(), Message{To: "123", Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("Send() error = %v, want 503", err)
	}

	if err := wa.Send(context.Background(), Message{Text: "hi"}); err == nil {
		t.Error("Send() without recipient should fail")
	}

	unconfigured := NewWhatsApp(WhatsAppConfig{}, "", nil, discardLogger())
	if err := unconfigured.Send(context.Background(), Message{To: "1", Text: "hi"}); err == nil {
		t.Error("Send() on unconfigured sender should fail")
	}
}

func TestWhatsApp_SendDefaultsToOwner(t *testing.T) {
	var gotNumber string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body sendTextRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotNumber = body.Number
	}))
	defer srv.Close()

	wa := NewWhatsApp(WhatsAppConfig{URL: srv.URL, Instance: "home", TargetNumber: "5511999763846"}, "", srv.Client(), discardLogger())
	if err := wa.Send(context.Background(), Message{Text: "Time to review your goals."}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if gotNumber != "5511999763846@s.whatsapp.net" {
		t.Errorf("number = %q", gotNumber)
	}
}

func TestWhatsApp_Ping(t *testing.T) {
	state := "open"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instance/connectionState/home" || r.Header.Get("apikey") != "k" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"instance":{"instanceName":"home","state":"` + state + `"}}`))
	}))
	defer srv.Close()

	wa := NewWhatsApp(WhatsAppConfig{URL: srv.URL, Instance: "home", APIKey: "k"}, "", srv.Client(), discardLogger())
	if err := wa.Ping(context.Background()); err != nil {
		t.Errorf("Ping() open instance = %v", err)
	}
	state = "close"
	if err := wa.Ping(context.Background()); err == nil || !strings.Contains(err.Error(), `"close"`) {
		t.Errorf("Ping() closed instance = %v", err)
	}
}

func TestWhatsApp_FormatTextWithoutName(t *testing.T) {
	wa := NewWhatsApp(WhatsAppConfig{}, "", nil, discardLogger())
	if got := wa.FormatText("plain"); got != "plain" {
		t.Errorf("FormatText() = %q, want plain", got)
	}
}

func TestMQTT_Topics(t *testing.T) {
	m := NewMQTT(MQTTConfig{Broker: "mqtt://localhost:1883", DeviceName: "kitchen"}, discardLogger())
	if got := m.ReplyTopic(); got != "steward/kitchen/reply" {
		t.Errorf("ReplyTopic() = %q", got)
	}
	if got := m.AvailabilityTopic(); got != "steward/kitchen/availability" {
		t.Errorf("AvailabilityTopic() = %q", got)
	}
}

func TestMQTT_SendBeforeStart(t *testing.T) {
	m := NewMQTT(MQTTConfig{Broker: "mqtt://localhost:1883"}, discardLogger())
	if err := m.Send(context.Background(), Message{Text: "hi"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if err := m.Ping(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping() error = %v, want ErrNotConnected", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}
}

func TestMQTT_Encode(t *testing.T) {
	m := NewMQTT(MQTTConfig{}, discardLogger())
	m.now = func() time.Time { return time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC) }

	data, err := m.encode(Message{SessionID: "s1", Text: "hello"})
	if err != nil {
		t.Fatalf("encode() error: %v", err)
	}
	want := `{"session_id":"s1","text":"hello","timestamp":"2026-04-15T12:00:00Z"}`
	if string(data) != want {
		t.Errorf("encode() = %s\nwant %s", data, want)
	}
}
