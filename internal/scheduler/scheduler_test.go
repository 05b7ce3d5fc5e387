package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type firedTask struct {
	name    string
	message string
}

func startScheduler(t *testing.T, execute ExecuteFunc) (*Scheduler, *Store) {
	t.Helper()
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(logger, store, execute, WithLocation(time.UTC))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, store
}

func recordingExecutor() (ExecuteFunc, <-chan firedTask) {
	ch := make(chan firedTask, 16)
	return func(_ context.Context, task *Task, _ *Execution) error {
		ch <- firedTask{name: task.Name, message: task.Payload.Text()}
		return nil
	}, ch
}

func waitFired(t *testing.T, ch <-chan firedTask) firedTask {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("task did not fire")
		return firedTask{}
	}
}

func TestScheduler_OneShotFiresOnce(t *testing.T) {
	execute, fired := recordingExecutor()
	s, store := startScheduler(t, execute)
	ctx := context.Background()

	at := time.Now().Add(50 * time.Millisecond)
	task := &Task{
		Name:     "wake",
		Schedule: Schedule{Kind: ScheduleAt, At: &at},
		Payload:  Payload{Kind: PayloadWake, Message: "Time to review the backlog"},
		Enabled:  true,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got := waitFired(t, fired)
	if got.message != "Time to review the backlog" {
		t.Errorf("message = %q", got.message)
	}

	select {
	case extra := <-fired:
		t.Fatalf("one-shot fired twice: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}

	stored, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Enabled {
		t.Error("fired one-shot should be disabled")
	}

	var last *Execution
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		last, _ = store.LastExecution(ctx, task.ID)
		if last != nil && last.Status == StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if last == nil || last.Status != StatusCompleted {
		t.Errorf("execution = %+v, want completed", last)
	}
}

func TestScheduler_FailedExecutionRecorded(t *testing.T) {
	store := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(logger, store, func(context.Context, *Task, *Execution) error {
		return errors.New("model unreachable")
	})
	ctx := context.Background()

	task := &Task{Name: "every", Schedule: Schedule{Kind: ScheduleEvery, Every: &Duration{Duration: time.Hour}}, Payload: Payload{Kind: PayloadWake}, Enabled: true}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	exec, err := s.TriggerTask(ctx, task.ID)
	if err == nil {
		t.Fatal("expected execution error")
	}
	if exec.Status != StatusFailed || exec.Result != "model unreachable" {
		t.Errorf("exec = %+v", exec)
	}
	stored, _ := store.LastExecution(ctx, task.ID)
	if stored == nil || stored.Status != StatusFailed {
		t.Errorf("stored = %+v", stored)
	}
}

func TestScheduler_DeleteCancelsTimer(t *testing.T) {
	execute, fired := recordingExecutor()
	s, _ := startScheduler(t, execute)
	ctx := context.Background()

	at := time.Now().Add(100 * time.Millisecond)
	task := &Task{Name: "cancelled", Schedule: Schedule{Kind: ScheduleAt, At: &at}, Payload: Payload{Kind: PayloadWake}, Enabled: true}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTask(ctx, task.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-fired:
		t.Fatalf("deleted task fired: %+v", f)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestScheduler_StartCatchesUpRecentMissedTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	recent := time.Now().Add(-time.Hour)
	stale := time.Now().Add(-48 * time.Hour)
	for _, task := range []*Task{
		{Name: "recent", Schedule: Schedule{Kind: ScheduleAt, At: &recent}, Payload: Payload{Kind: PayloadWake, Message: "catch up"}, Enabled: true},
		{Name: "stale", Schedule: Schedule{Kind: ScheduleAt, At: &stale}, Payload: Payload{Kind: PayloadWake, Message: "too late"}, Enabled: true},
	} {
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	var ran []string
	done := make(chan struct{}, 4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(logger, store, func(_ context.Context, task *Task, _ *Execution) error {
		mu.Lock()
		ran = append(ran, task.Name)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("recent missed task was not caught up")
	}
	select {
	case <-done:
		t.Fatal("stale task should not run")
	case <-time.After(200 * time.Millisecond):
	}

	mu.Lock()
	if len(ran) != 1 || ran[0] != "recent" {
		t.Errorf("ran = %v", ran)
	}
	mu.Unlock()

	staleTask, err := store.GetTaskByName(ctx, "stale")
	if err != nil {
		t.Fatal(err)
	}
	if staleTask.Enabled {
		t.Error("stale task should be disabled")
	}
	last, _ := store.LastExecution(ctx, staleTask.ID)
	if last == nil || last.Status != StatusSkipped {
		t.Errorf("stale execution = %+v, want skipped", last)
	}
}

func TestScheduler_EnsureTaskIsIdempotent(t *testing.T) {
	s, store := startScheduler(t, nil)
	ctx := context.Background()

	checkin := func(clock string) *Task {
		return &Task{
			Name:      "checkin-morning",
			Schedule:  Schedule{Kind: ScheduleDaily, Daily: clock, Timezone: "UTC"},
			Payload:   Payload{Kind: PayloadCheckin, SessionID: "owner", Choices: []string{"Good morning!"}},
			Enabled:   true,
			CreatedBy: "config",
		}
	}

	first, err := s.EnsureTask(ctx, checkin("05:00"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.EnsureTask(ctx, checkin("05:00"))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("EnsureTask created a duplicate: %s vs %s", first.ID, second.ID)
	}

	if _, err := s.EnsureTask(ctx, checkin("06:30")); err != nil {
		t.Fatal(err)
	}
	tasks, _ := store.ListTasks(ctx, false)
	if len(tasks) != 1 || tasks[0].Schedule.Daily != "06:30" {
		t.Errorf("tasks = %+v", tasks)
	}

	stats := s.Stats(ctx)
	if stats["total_tasks"] != 1 || stats["running"] != true {
		t.Errorf("stats = %v", stats)
	}
}

func TestScheduler_CreateRejectsInvalidSchedule(t *testing.T) {
	s, _ := startScheduler(t, nil)
	err := s.CreateTask(context.Background(), &Task{Name: "bad", Schedule: Schedule{Kind: ScheduleDaily, Daily: "noon"}})
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("err = %v, want ErrInvalidSchedule", err)
	}
}
