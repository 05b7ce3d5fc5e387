package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// InteractionRequest asks for a message to re-enter the conversation
// pipeline later. Nil Hour or Minute mean 0; an empty Day means today.
type InteractionRequest struct {
	Message   string
	Day       string // YYYY-MM-DD in the scheduler's location
	Hour      *int
	Minute    *int
	SessionID string
}

// InteractionResult mirrors what the scheduling tool reports to the model.
type InteractionResult struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	TaskID  string    `json:"-"`
	FireAt  time.Time `json:"-"`
}

// ResolveFireTime turns an optional day and clock time into an absolute
// instant in loc. A result at or before now is moved forward by exactly
// one day, so the answer is always in the future. A day earlier than
// today is treated as today before that rule applies.
func ResolveFireTime(now time.Time, loc *time.Location, day string, hour, minute *int) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)

	h, m := 0, 0
	if hour != nil {
		h = *hour
	}
	if minute != nil {
		m = *minute
	}
	if h < 0 || h > 23 {
		return time.Time{}, fmt.Errorf("%w: hour %d outside 0-23", ErrInvalidSchedule, h)
	}
	if m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("%w: minute %d outside 0-59", ErrInvalidSchedule, m)
	}

	year, month, dom := local.Date()
	if day = strings.TrimSpace(day); day != "" {
		d, err := time.ParseInLocation(time.DateOnly, day, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: day %q must be YYYY-MM-DD", ErrInvalidSchedule, day)
		}
		today := time.Date(year, month, dom, 0, 0, 0, 0, loc)
		if !d.Before(today) {
			year, month, dom = d.Date()
		}
	}

	target := time.Date(year, month, dom, h, m, 0, 0, loc)
	if !target.After(now) {
		target = time.Date(year, month, dom+1, h, m, 0, 0, loc)
	}
	return target, nil
}

// ScheduleInteraction creates exactly one deferred invocation. Invalid
// input yields an unsuccessful result and a nil error; only a storage
// failure is returned as an error.
func (s *Scheduler) ScheduleInteraction(ctx context.Context, req InteractionRequest) (InteractionResult, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return InteractionResult{Message: "Failed to schedule interaction: message is required"}, nil
	}

	fireAt, err := ResolveFireTime(s.now(), s.loc, req.Day, req.Hour, req.Minute)
	if err != nil {
		return InteractionResult{Message: "Failed to schedule interaction: " + err.Error()}, nil
	}

	stamp := fireAt.In(s.loc).Format("2006-01-02 15:04")
	task := &Task{
		Name:     "interaction " + stamp,
		Schedule: Schedule{Kind: ScheduleAt, At: &fireAt},
		Payload: Payload{
			Kind:      PayloadWake,
			SessionID: req.SessionID,
			Message:   msg,
		},
		Enabled:   true,
		CreatedBy: req.SessionID,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		return InteractionResult{}, fmt.Errorf("schedule interaction: %w", err)
	}

	return InteractionResult{
		Success: true,
		Message: "Interaction scheduled for " + stamp,
		TaskID:  task.ID,
		FireAt:  fireAt,
	}, nil
}
