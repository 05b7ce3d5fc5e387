package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stewardhq/steward/internal/chat"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/scheduler"
)

// checkinTaskPrefix names the scheduler tasks created from config
// check-ins.
const checkinTaskPrefix = "checkin "

// messageHandler abstracts the chat pipeline for task execution testing.
type messageHandler interface {
	Handle(ctx context.Context, in chat.Inbound) (*chat.Reply, error)
}

// taskRecorder receives task outcomes (metrics).
type taskRecorder interface {
	TaskExecuted(kind string, err error)
}

// taskExecDeps holds the dependencies of the scheduled task executor.
type taskExecDeps struct {
	handler        messageHandler
	recorder       taskRecorder // may be nil
	defaultSession string
	logger         *slog.Logger
}

// runScheduledTask re-enters the chat pipeline with the task's message,
// exactly as if the user had sent it. The reply goes out on the notify
// channels. Unsupported payload kinds are logged and ignored.
func runScheduledTask(ctx context.Context, task *scheduler.Task, exec *scheduler.Execution, deps taskExecDeps) (err error) {
	deps.logger.Debug("task executing",
		"task_id", task.ID,
		"task_name", task.Name,
		"payload_kind", task.Payload.Kind,
	)

	switch task.Payload.Kind {
	case scheduler.PayloadWake, scheduler.PayloadCheckin:
	default:
		deps.logger.Warn("unsupported task payload kind", "kind", task.Payload.Kind)
		return nil
	}
	if deps.recorder != nil {
		defer func() { deps.recorder.TaskExecuted(string(task.Payload.Kind), err) }()
	}

	msg := strings.TrimSpace(task.Payload.Text())
	if msg == "" {
		msg = "Scheduled wake: " + task.Name
	}
	sessionID := task.Payload.SessionID
	if sessionID == "" {
		sessionID = deps.defaultSession
	}

	reply, err := deps.handler.Handle(ctx, chat.Inbound{
		SessionID: sessionID,
		Text:      msg,
		Source:    chat.SourceScheduler,
	})
	if err != nil {
		return fmt.Errorf("scheduled task %q: %w", task.Name, err)
	}
	exec.Result = reply.Content

	deps.logger.Info("scheduled interaction delivered",
		"task_id", task.ID,
		"task_name", task.Name,
		"session_id", sessionID,
		"channels", reply.Delivered,
	)
	return nil
}

// ensureCheckins registers one daily task per configured check-in.
// Existing tasks with the same name are updated in place.
func ensureCheckins(ctx context.Context, sched *scheduler.Scheduler, cfg *config.Config) error {
	for _, c := range cfg.Checkins {
		task := &scheduler.Task{
			Name: checkinTaskPrefix + c.Name,
			Schedule: scheduler.Schedule{
				Kind:     scheduler.ScheduleDaily,
				Daily:    c.At,
				Timezone: cfg.Timezone,
			},
			Payload: scheduler.Payload{
				Kind:      scheduler.PayloadCheckin,
				SessionID: cfg.Assistant.DefaultSession,
				Choices:   c.Messages,
			},
			Enabled:   true,
			CreatedBy: "config",
		}
		if _, err := sched.EnsureTask(ctx, task); err != nil {
			return fmt.Errorf("register check-in %q: %w", c.Name, err)
		}
	}
	return nil
}
