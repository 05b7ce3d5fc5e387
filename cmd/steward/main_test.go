package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stewardhq/steward/internal/scheduler"
)

// writeConfig writes a minimal config whose data directory lives in a
// temporary directory and returns its path.
func writeConfig(t *testing.T) (cfgPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	cfgPath = filepath.Join(dir, "config.yaml")
	body := "data_dir: " + dataDir + "\ntimezone: UTC\nlog_level: warn\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfgPath, dataDir
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Fatalf("run(%v) error: %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: steward") {
			t.Errorf("run(%v) printed %q", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown command", args: []string{"launch"}, want: "unknown command: launch"},
		{name: "unknown flag", args: []string{"-verbose"}, want: "unknown flag: -verbose"},
		{name: "bad output", args: []string{"-o", "xml", "version"}, want: "unknown output format"},
		{name: "ask without message", args: []string{"ask"}, want: "usage: steward ask"},
		{name: "schedule without message", args: []string{"schedule", "18:00"}, want: "usage: steward schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), &out, &out, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) error = %v, want %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "steward ") || !strings.Contains(out.String(), "go_version:") {
		t.Errorf("version output = %q", out.String())
	}

	out.Reset()
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("json version output: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("version missing from %v", info)
	}
}

func TestRun_Schedule(t *testing.T) {
	cfgPath, dataDir := writeConfig(t)
	var out bytes.Buffer

	err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "schedule", "23:59", "review", "my", "goals"})
	if err != nil {
		t.Fatalf("schedule error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Interaction scheduled for ") || !strings.Contains(out.String(), "23:59") {
		t.Errorf("output = %q", out.String())
	}

	store, err := scheduler.NewStore(filepath.Join(dataDir, "scheduler.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	tasks, err := store.ListTasks(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	p := tasks[0].Payload
	if p.Kind != scheduler.PayloadWake || p.Message != "review my goals" || p.SessionID != "default" {
		t.Errorf("payload = %+v", p)
	}
}

func TestRun_ScheduleRejectsBadClock(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-config", cfgPath, "schedule", "25:00", "hi"})
	if err == nil || !strings.Contains(err.Error(), "HH:MM") {
		t.Errorf("error = %v, want HH:MM complaint", err)
	}
}

func TestNewApp_WiresTools(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	cfg, _, err := loadConfig(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Search.SearXNG.URL = "http://127.0.0.1:1"

	a, err := newApp(t.Context(), cfg, discardLogger(), appOptions{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	prompt := a.chat.SystemPrompt(t.Context())
	for _, want := range []string{"James", "All times are in UTC", "## Context"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if got := a.router.Channels(); len(got) != 0 {
		t.Errorf("one-shot app registered delivery channels %v", got)
	}
}

func TestLoadPersona(t *testing.T) {
	if p, err := loadPersona(""); err != nil || p != "" {
		t.Errorf("loadPersona(\"\") = %q, %v", p, err)
	}

	path := filepath.Join(t.TempDir(), "persona.md")
	if err := os.WriteFile(path, []byte("You are Ada."), 0o644); err != nil {
		t.Fatal(err)
	}
	if p, err := loadPersona(path); err != nil || p != "You are Ada." {
		t.Errorf("loadPersona() = %q, %v", p, err)
	}

	if _, err := loadPersona(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("missing persona file should fail")
	}
}

func TestRun_Tasks(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	ctx := context.Background()
	var out bytes.Buffer

	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "tasks"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No scheduled tasks.") {
		t.Errorf("empty list output = %q", out.String())
	}

	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "schedule", "07:15", "stretch"}); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "tasks", "list"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "NEXT") || !strings.Contains(out.String(), "07:15") {
		t.Errorf("list output = %q", out.String())
	}

	out.Reset()
	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "-o", "json", "tasks"}); err != nil {
		t.Fatal(err)
	}
	var listing struct {
		Tasks []struct {
			ID      string `json:"id"`
			Enabled bool   `json:"enabled"`
		} `json:"tasks"`
		Stats map[string]any `json:"stats"`
	}
	if err := json.Unmarshal(out.Bytes(), &listing); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if len(listing.Tasks) != 1 || !listing.Tasks[0].Enabled {
		t.Fatalf("tasks = %+v", listing.Tasks)
	}
	if listing.Stats["total_tasks"] != float64(1) {
		t.Errorf("stats = %v", listing.Stats)
	}

	out.Reset()
	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "tasks", "delete", listing.Tasks[0].ID}); err != nil {
		t.Fatal(err)
	}
	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "tasks", "delete", listing.Tasks[0].ID}); !errors.Is(err, scheduler.ErrTaskNotFound) {
		t.Errorf("second delete error = %v, want ErrTaskNotFound", err)
	}
	if err := run(ctx, &out, &out, []string{"-config", cfgPath, "tasks", "run"}); err == nil || !strings.Contains(err.Error(), "usage: steward tasks") {
		t.Errorf("tasks run without id error = %v", err)
	}
}
