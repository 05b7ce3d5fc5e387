package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "scheduler_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetTaskByName_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTaskByName(context.Background(), "nonexistent")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestCreateTask_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 5, 1, 14, 30, 0, 0, time.UTC)
	want := &Task{
		Name:     "interaction 2026-05-01 14:30",
		Schedule: Schedule{Kind: ScheduleAt, At: &at},
		Payload: Payload{
			Kind:      PayloadWake,
			SessionID: "15551234567",
			Message:   "Ask how the garden project is going",
		},
		Enabled:   true,
		CreatedBy: "15551234567",
	}
	if err := s.CreateTask(ctx, want); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if want.ID == "" {
		t.Fatal("CreateTask should assign an ID")
	}

	got, err := s.GetTask(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != want.Name || !got.Enabled || got.CreatedBy != "15551234567" {
		t.Errorf("got %+v", got)
	}
	if got.Schedule.At == nil || !got.Schedule.At.Equal(at) {
		t.Errorf("At = %v, want %v", got.Schedule.At, at)
	}
	if got.Payload.Message != want.Payload.Message || got.Payload.SessionID != "15551234567" {
		t.Errorf("Payload = %+v", got.Payload)
	}
}

func TestListTasks_EnabledOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, task := range []*Task{
		{Name: "on", Schedule: Schedule{Kind: ScheduleDaily, Daily: "05:00"}, Payload: Payload{Kind: PayloadCheckin}, Enabled: true},
		{Name: "off", Schedule: Schedule{Kind: ScheduleDaily, Daily: "10:00"}, Payload: Payload{Kind: PayloadCheckin}},
	} {
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask(%s): %v", task.Name, err)
		}
	}

	all, err := s.ListTasks(ctx, false)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}

	enabled, err := s.ListTasks(ctx, true)
	if err != nil {
		t.Fatalf("ListTasks(enabled): %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "on" {
		t.Errorf("enabled = %+v", enabled)
	}
}

func TestUpdateAndDeleteTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Name: "checkin", Schedule: Schedule{Kind: ScheduleDaily, Daily: "05:00"}, Payload: Payload{Kind: PayloadCheckin}, Enabled: true}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	task.Enabled = false
	task.Schedule.Daily = "06:15"
	if err := s.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Enabled || got.Schedule.Daily != "06:15" {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := s.DeleteTask(ctx, task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("second delete err = %v, want ErrTaskNotFound", err)
	}
	if err := s.UpdateTask(ctx, task); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("update of deleted task err = %v, want ErrTaskNotFound", err)
	}
}

func TestExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{Name: "t", Schedule: Schedule{Kind: ScheduleEvery, Every: &Duration{Duration: time.Hour}}, Payload: Payload{Kind: PayloadWake}, Enabled: true}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := range 3 {
		started := base.Add(time.Duration(i) * time.Hour)
		e := &Execution{TaskID: task.ID, ScheduledAt: started, StartedAt: &started, Status: StatusRunning}
		if err := s.CreateExecution(ctx, e); err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}
		done := started.Add(time.Second)
		e.CompletedAt = &done
		e.Status = StatusCompleted
		e.Result = "success"
		if err := s.UpdateExecution(ctx, e); err != nil {
			t.Fatalf("UpdateExecution: %v", err)
		}
	}

	last, err := s.LastExecution(ctx, task.ID)
	if err != nil {
		t.Fatalf("LastExecution: %v", err)
	}
	if last == nil || !last.ScheduledAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("last = %+v", last)
	}
	if last.Status != StatusCompleted || last.CompletedAt == nil || last.Result != "success" {
		t.Errorf("last = %+v", last)
	}

	execs, err := s.ListExecutions(ctx, task.ID, 2)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 2 {
		t.Errorf("len = %d, want 2", len(execs))
	}

	none, err := s.LastExecution(ctx, "missing")
	if err != nil || none != nil {
		t.Errorf("LastExecution(missing) = %v, %v", none, err)
	}
}
