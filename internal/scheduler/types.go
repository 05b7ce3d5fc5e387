// Package scheduler persists future tasks and fires them on timers. It
// backs deferred interactions (a message re-entering the conversation
// pipeline at a chosen time) and daily check-ins.
package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrInvalidSchedule is returned for schedules that can never fire.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Task is a persisted timer. Names are unique so that config-defined
// tasks can be registered idempotently on every start.
type Task struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Schedule Schedule `json:"schedule"`
	Payload  Payload  `json:"payload"`
	Enabled  bool     `json:"enabled"`

	// CreatedBy is the session that asked for the task, or "config".
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleKind selects which Schedule fields apply.
type ScheduleKind string

const (
	// ScheduleAt fires once at At.
	ScheduleAt ScheduleKind = "at"
	// ScheduleEvery fires every Every, counted from the task's creation.
	ScheduleEvery ScheduleKind = "every"
	// ScheduleDaily fires at the Daily wall-clock time in Timezone.
	ScheduleDaily ScheduleKind = "daily"
)

type Schedule struct {
	Kind     ScheduleKind `json:"kind"`
	At       *time.Time   `json:"at,omitempty"`
	Every    *Duration    `json:"every,omitempty"`
	Daily    string       `json:"daily,omitempty"`
	Timezone string       `json:"timezone,omitempty"`
}

// Validate reports whether the schedule is well formed.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleAt:
		if s.At == nil {
			return fmt.Errorf("%w: at schedule needs a time", ErrInvalidSchedule)
		}
	case ScheduleEvery:
		if s.Every == nil || s.Every.Duration <= 0 {
			return fmt.Errorf("%w: every schedule needs a positive interval", ErrInvalidSchedule)
		}
	case ScheduleDaily:
		if _, _, err := ParseClock(s.Daily); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		if _, err := s.location(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	return nil
}

func (s Schedule) location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("time of day %q must be HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Duration is stored in JSON as a Go duration string such as "1h30m".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Payload defines what happens when a task fires.
type Payload struct {
	Kind PayloadKind `json:"kind"`

	// SessionID is the conversation the synthetic message enters.
	SessionID string `json:"session_id,omitempty"`

	// Message is the synthetic user message for wake payloads.
	Message string `json:"message,omitempty"`

	// Choices holds candidate messages for check-ins; one is picked at
	// random on each run.
	Choices []string `json:"choices,omitempty"`
}

type PayloadKind string

const (
	// PayloadWake re-enters the pipeline with Message.
	PayloadWake PayloadKind = "wake"
	// PayloadCheckin re-enters the pipeline with one of Choices.
	PayloadCheckin PayloadKind = "checkin"
)

// ExecutionStatus is the outcome of one firing.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	// StatusSkipped marks a firing missed while the process was down and
	// too old to catch up.
	StatusSkipped ExecutionStatus = "skipped"
)

// Execution records one firing of a task. Result holds the reply text
// on success and the error text on failure.
type Execution struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"`
}

// NextRun returns the first firing strictly after the given instant, or
// false when the task will not fire again.
func (t *Task) NextRun(after time.Time) (time.Time, bool) {
	s := t.Schedule
	switch s.Kind {
	case ScheduleAt:
		if s.At == nil || !s.At.After(after) {
			return time.Time{}, false
		}
		return *s.At, true

	case ScheduleEvery:
		if s.Every == nil || s.Every.Duration <= 0 {
			return time.Time{}, false
		}
		step := s.Every.Duration
		origin := t.CreatedAt
		if origin.IsZero() {
			origin = after
		}
		if after.Before(origin) {
			return origin, true
		}
		n := after.Sub(origin)/step + 1
		return origin.Add(n * step), true

	case ScheduleDaily:
		hour, minute, err := ParseClock(s.Daily)
		if err != nil {
			return time.Time{}, false
		}
		loc, err := s.location()
		if err != nil {
			return time.Time{}, false
		}
		local := after.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
		if !next.After(after) {
			next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
		}
		return next, true

	default:
		return time.Time{}, false
	}
}

// Text returns the message a firing payload delivers. Check-ins pick
// one of their choices at random; wake payloads return Message.
func (p Payload) Text() string {
	if p.Kind == PayloadCheckin && len(p.Choices) > 0 {
		return p.Choices[rand.IntN(len(p.Choices))]
	}
	return p.Message
}
