package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func intp(n int) *int { return &n }

func TestResolveFireTime(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	now := time.Date(2026, 4, 15, 15, 0, 0, 0, loc) // 15:00 local

	tests := []struct {
		name   string
		day    string
		hour   *int
		minute *int
		want   time.Time
	}{
		{"later today", "", intp(16), intp(30), time.Date(2026, 4, 15, 16, 30, 0, 0, loc)},
		{"earlier today rolls to tomorrow", "", intp(14), intp(0), time.Date(2026, 4, 16, 14, 0, 0, 0, loc)},
		{"exactly now rolls to tomorrow", "", intp(15), intp(0), time.Date(2026, 4, 16, 15, 0, 0, 0, loc)},
		{"defaults to midnight tomorrow", "", nil, nil, time.Date(2026, 4, 16, 0, 0, 0, 0, loc)},
		{"hour only", "", intp(20), nil, time.Date(2026, 4, 15, 20, 0, 0, 0, loc)},
		{"explicit future day", "2026-04-20", intp(9), intp(15), time.Date(2026, 4, 20, 9, 15, 0, 0, loc)},
		{"explicit today past time", "2026-04-15", intp(8), nil, time.Date(2026, 4, 16, 8, 0, 0, 0, loc)},
		{"explicit past day treated as today", "2026-04-01", intp(18), nil, time.Date(2026, 4, 15, 18, 0, 0, 0, loc)},
		{"month boundary", "2026-04-30", intp(23), intp(59), time.Date(2026, 4, 30, 23, 59, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveFireTime(now, loc, tt.day, tt.hour, tt.minute)
			if err != nil {
				t.Fatalf("ResolveFireTime: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if !got.After(now) {
				t.Errorf("result %v is not after now", got)
			}
		})
	}
}

func TestResolveFireTime_UsesLocationForToday(t *testing.T) {
	// 02:00 UTC on the 16th is still the 15th in UTC-5.
	loc := time.FixedZone("EST", -5*3600)
	now := time.Date(2026, 4, 16, 2, 0, 0, 0, time.UTC)

	got, err := ResolveFireTime(now, loc, "", intp(22), intp(0))
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 4, 15, 22, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveFireTime_Invalid(t *testing.T) {
	now := time.Date(2026, 4, 15, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		day    string
		hour   *int
		minute *int
	}{
		{"hour too large", "", intp(24), nil},
		{"negative minute", "", intp(1), intp(-1)},
		{"minute too large", "", nil, intp(60)},
		{"bad day", "15/04/2026", intp(9), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveFireTime(now, time.UTC, tt.day, tt.hour, tt.minute)
			if !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("err = %v, want ErrInvalidSchedule", err)
			}
		})
	}
}

func newTestScheduler(t *testing.T, now time.Time, execute ExecuteFunc) (*Scheduler, *Store) {
	t.Helper()
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(logger, store, execute, WithClock(func() time.Time { return now }), WithLocation(time.UTC))
	return s, store
}

func TestScheduleInteraction_PastTimeRollsToTomorrow(t *testing.T) {
	now := time.Date(2026, 4, 15, 15, 0, 0, 0, time.UTC)
	s, store := newTestScheduler(t, now, nil)
	ctx := context.Background()

	res, err := s.ScheduleInteraction(ctx, InteractionRequest{
		Message:   "Check whether the quarterly report was sent",
		Hour:      intp(9),
		Minute:    intp(30),
		SessionID: "15551234567",
	})
	if err != nil {
		t.Fatalf("ScheduleInteraction: %v", err)
	}
	if !res.Success || res.Message != "Interaction scheduled for 2026-04-16 09:30" {
		t.Fatalf("res = %+v", res)
	}

	task, err := store.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Schedule.Kind != ScheduleAt || !task.Schedule.At.Equal(res.FireAt) {
		t.Errorf("schedule = %+v", task.Schedule)
	}
	if task.Payload.Kind != PayloadWake || task.Payload.SessionID != "15551234567" ||
		task.Payload.Message != "Check whether the quarterly report was sent" {
		t.Errorf("payload = %+v", task.Payload)
	}
}

func TestScheduleInteraction_NoDedup(t *testing.T) {
	now := time.Date(2026, 4, 15, 15, 0, 0, 0, time.UTC)
	s, store := newTestScheduler(t, now, nil)
	ctx := context.Background()

	req := InteractionRequest{Message: "stretch", Hour: intp(17)}
	for range 2 {
		if res, err := s.ScheduleInteraction(ctx, req); err != nil || !res.Success {
			t.Fatalf("ScheduleInteraction = %+v, %v", res, err)
		}
	}
	tasks, err := store.ListTasks(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Errorf("tasks = %d, want 2", len(tasks))
	}
}

func TestScheduleInteraction_InvalidInput(t *testing.T) {
	now := time.Date(2026, 4, 15, 15, 0, 0, 0, time.UTC)
	s, store := newTestScheduler(t, now, nil)
	ctx := context.Background()

	for _, req := range []InteractionRequest{
		{Message: "  "},
		{Message: "x", Hour: intp(30)},
		{Message: "x", Day: "tomorrow"},
	} {
		res, err := s.ScheduleInteraction(ctx, req)
		if err != nil {
			t.Fatalf("invalid input should not be an error: %v", err)
		}
		if res.Success || !strings.HasPrefix(res.Message, "Failed to schedule interaction: ") {
			t.Errorf("res = %+v", res)
		}
	}
	if tasks, _ := store.ListTasks(ctx, false); len(tasks) != 0 {
		t.Errorf("no task should be created, got %d", len(tasks))
	}
}

func TestScheduleInteractionTool(t *testing.T) {
	now := time.Date(2026, 4, 15, 15, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now, nil)

	tool := s.Tool()
	if tool.Name != "schedule_interaction" {
		t.Fatalf("name = %q", tool.Name)
	}
	required, _ := tool.Parameters["required"].([]string)
	if len(required) != 1 || required[0] != "message" {
		t.Errorf("required = %v", required)
	}

	out, err := tool.Handler(context.Background(), map[string]any{
		"message": "Ask about dinner plans",
		"hour":    float64(18),
		"minute":  "5",
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	b, _ := json.Marshal(out)
	if string(b) != `{"success":true,"message":"Interaction scheduled for 2026-04-15 18:05"}` {
		t.Errorf("payload = %s", b)
	}

	if _, err := tool.Handler(context.Background(), map[string]any{"message": "x", "hour": 1.5}); err == nil {
		t.Error("fractional hour should fail")
	}
}
