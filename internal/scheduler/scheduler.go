package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// catchUpWindow is how late a missed one-shot task may still run after
// a restart.
const catchUpWindow = 24 * time.Hour

// ExecuteFunc is called when a task fires.
type ExecuteFunc func(ctx context.Context, task *Task, execution *Execution) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocation sets the timezone used to interpret interaction requests.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithExecTimeout bounds each task execution.
func WithExecTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.execTimeout = d
		}
	}
}

// Scheduler manages task scheduling and execution.
type Scheduler struct {
	logger      *slog.Logger
	store       *Store
	execute     ExecuteFunc
	now         func() time.Time
	loc         *time.Location
	execTimeout time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer // taskID -> timer
	running bool
	wg      sync.WaitGroup
}

// New creates a new scheduler.
func New(logger *slog.Logger, store *Store, execute ExecuteFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:      logger,
		store:       store,
		execute:     execute,
		now:         time.Now,
		loc:         time.Local,
		execTimeout: 5 * time.Minute,
		timers:      make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the timezone interaction requests are resolved in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Start loads enabled tasks, catches up missed one-shots, and arms timers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	tasks, err := s.store.ListTasks(ctx, true)
	if err != nil {
		return err
	}

	now := s.now()
	for _, task := range tasks {
		if task.Schedule.Kind == ScheduleAt && task.Schedule.At != nil && !task.Schedule.At.After(now) {
			s.handleMissed(ctx, task, now)
			continue
		}
		s.scheduleTask(task)
	}

	s.logger.Info("scheduler started", "tasks", len(tasks))
	return nil
}

// Stop halts the scheduler and waits for in-flight executions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// CreateTask validates, persists and arms a new task.
func (s *Scheduler) CreateTask(ctx context.Context, task *Task) error {
	if err := task.Schedule.Validate(); err != nil {
		return err
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return err
	}

	if task.Enabled {
		s.scheduleTask(task)
	}

	s.logger.Info("task created",
		"id", task.ID,
		"name", task.Name,
		"schedule", task.Schedule.Kind,
	)
	return nil
}

// UpdateTask modifies a task and reschedules it.
func (s *Scheduler) UpdateTask(ctx context.Context, task *Task) error {
	if err := task.Schedule.Validate(); err != nil {
		return err
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	s.cancelTimer(task.ID)
	if task.Enabled {
		s.scheduleTask(task)
	}

	s.logger.Info("task updated", "id", task.ID, "name", task.Name)
	return nil
}

// DeleteTask removes a task.
func (s *Scheduler) DeleteTask(ctx context.Context, id string) error {
	s.cancelTimer(id)
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.logger.Info("task deleted", "id", id)
	return nil
}

// GetTask retrieves a task by ID.
func (s *Scheduler) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns all tasks.
func (s *Scheduler) ListTasks(ctx context.Context, enabledOnly bool) ([]*Task, error) {
	return s.store.ListTasks(ctx, enabledOnly)
}

// TaskExecutions returns execution history for a task.
func (s *Scheduler) TaskExecutions(ctx context.Context, taskID string, limit int) ([]*Execution, error) {
	return s.store.ListExecutions(ctx, taskID, limit)
}

// EnsureTask creates the named task unless one with that name exists.
// Config-defined check-ins use it so restarts do not duplicate them.
func (s *Scheduler) EnsureTask(ctx context.Context, task *Task) (*Task, error) {
	existing, err := s.store.GetTaskByName(ctx, task.Name)
	switch {
	case err == nil:
		if !scheduleEqual(existing.Schedule, task.Schedule) || !payloadEqual(existing.Payload, task.Payload) {
			existing.Schedule = task.Schedule
			existing.Payload = task.Payload
			existing.Enabled = task.Enabled
			if err := s.UpdateTask(ctx, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	case errors.Is(err, ErrTaskNotFound):
		return task, s.CreateTask(ctx, task)
	default:
		return nil, err
	}
}

// TriggerTask immediately executes a task, bypassing its schedule.
func (s *Scheduler) TriggerTask(ctx context.Context, taskID string) (*Execution, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.executeTask(ctx, task, s.now())
}

// scheduleTask sets up a timer for the next execution.
func (s *Scheduler) scheduleTask(task *Task) {
	now := s.now()
	next, ok := task.NextRun(now)
	if !ok {
		s.logger.Debug("task has no future runs", "id", task.ID, "name", task.Name)
		return
	}

	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if timer, exists := s.timers[task.ID]; exists {
		timer.Stop()
	}

	id := task.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		s.onTaskFire(id, next)
	})

	s.logger.Debug("task scheduled",
		"id", task.ID,
		"name", task.Name,
		"next", next,
		"delay", delay,
	)
}

// onTaskFire is called when a task's timer fires.
func (s *Scheduler) onTaskFire(taskID string, scheduledAt time.Time) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.timers, taskID)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.execTimeout)
	defer cancel()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.logger.Error("failed to load task for execution", "id", taskID, "error", err)
		return
	}
	if !task.Enabled {
		return
	}

	if task.Schedule.Kind == ScheduleAt {
		// Consume the one-shot before running it so a crash mid-run
		// cannot fire it twice.
		s.disable(ctx, task)
	}

	if _, err := s.executeTask(ctx, task, scheduledAt); err != nil {
		s.logger.Error("task execution failed", "id", taskID, "name", task.Name, "error", err)
	}

	if task.Schedule.Kind != ScheduleAt {
		s.scheduleTask(task)
	}
}

// handleMissed deals with a one-shot task whose time passed while the
// scheduler was down.
func (s *Scheduler) handleMissed(ctx context.Context, task *Task, now time.Time) {
	at := *task.Schedule.At
	if now.Sub(at) > catchUpWindow {
		s.disable(ctx, task)
		started := now
		exec := &Execution{
			TaskID:      task.ID,
			ScheduledAt: at,
			StartedAt:   &started,
			CompletedAt: &started,
			Status:      StatusSkipped,
			Result:      "missed execution window (>24h)",
		}
		if err := s.store.CreateExecution(ctx, exec); err != nil {
			s.logger.Error("failed to record skipped execution", "id", task.ID, "error", err)
		}
		s.logger.Info("skipped stale task", "id", task.ID, "name", task.Name, "scheduled", at)
		return
	}

	s.logger.Info("catching up missed task", "id", task.ID, "name", task.Name, "scheduled", at)
	s.mu.Lock()
	if s.running {
		id := task.ID
		s.timers[id] = time.AfterFunc(0, func() {
			s.onTaskFire(id, at)
		})
	}
	s.mu.Unlock()
}

func (s *Scheduler) disable(ctx context.Context, task *Task) {
	task.Enabled = false
	if err := s.store.UpdateTask(ctx, task); err != nil {
		s.logger.Error("failed to disable one-shot task", "id", task.ID, "error", err)
	}
}

// executeTask runs a task and records the execution.
func (s *Scheduler) executeTask(ctx context.Context, task *Task, scheduledAt time.Time) (*Execution, error) {
	started := s.now()
	exec := &Execution{
		ID:          NewID(),
		TaskID:      task.ID,
		ScheduledAt: scheduledAt,
		StartedAt:   &started,
		Status:      StatusRunning,
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	s.logger.Info("executing task",
		"task_id", task.ID,
		"task_name", task.Name,
		"execution_id", exec.ID,
	)

	var execErr error
	if s.execute != nil {
		execErr = s.execute(ctx, task, exec)
	}

	completed := s.now()
	exec.CompletedAt = &completed
	if execErr != nil {
		exec.Status = StatusFailed
		exec.Result = execErr.Error()
	} else {
		exec.Status = StatusCompleted
		if exec.Result == "" {
			exec.Result = "success"
		}
	}

	// The callback may have consumed ctx; the record is still worth saving.
	if err := s.store.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
		s.logger.Error("failed to update execution", "id", exec.ID, "error", err)
	}

	s.logger.Info("task execution completed",
		"task_id", task.ID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"duration", completed.Sub(started),
	)
	return exec, execErr
}

// cancelTimer stops and removes a task's timer.
func (s *Scheduler) cancelTimer(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, exists := s.timers[taskID]; exists {
		timer.Stop()
		delete(s.timers, taskID)
	}
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats(ctx context.Context) map[string]any {
	tasks, _ := s.store.ListTasks(ctx, false)
	enabled := 0
	for _, t := range tasks {
		if t.Enabled {
			enabled++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"running":       s.running,
		"total_tasks":   len(tasks),
		"enabled_tasks": enabled,
		"active_timers": len(s.timers),
	}
}

func payloadEqual(a, b Payload) bool {
	if a.Kind != b.Kind || a.SessionID != b.SessionID || a.Message != b.Message || len(a.Choices) != len(b.Choices) {
		return false
	}
	for i := range a.Choices {
		if a.Choices[i] != b.Choices[i] {
			return false
		}
	}
	return true
}

func scheduleEqual(a, b Schedule) bool {
	if a.Kind != b.Kind || a.Daily != b.Daily || a.Timezone != b.Timezone {
		return false
	}
	if (a.At == nil) != (b.At == nil) || (a.At != nil && !a.At.Equal(*b.At)) {
		return false
	}
	if (a.Every == nil) != (b.Every == nil) || (a.Every != nil && a.Every.Duration != b.Every.Duration) {
		return false
	}
	return true
}
