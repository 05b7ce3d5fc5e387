package scheduler

import (
	"context"

	"github.com/stewardhq/steward/internal/tools"
)

// Tool returns the schedule_interaction tool bound to s.
func (s *Scheduler) Tool() *tools.Tool {
	return &tools.Tool{
		Name: "schedule_interaction",
		Description: "Schedule a future interaction. At the chosen time the message is sent back to you " +
			"as if the user had written it, so phrase it as an instruction to yourself. " +
			"Times in the past are moved to the same time tomorrow.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "The message to deliver at the scheduled time.",
				},
				"day": map[string]any{
					"type":        "string",
					"description": "Date in YYYY-MM-DD format. Defaults to today.",
				},
				"hour": map[string]any{
					"type":        "integer",
					"minimum":     0,
					"maximum":     23,
					"description": "Hour of day (0-23). Defaults to 0.",
				},
				"minute": map[string]any{
					"type":        "integer",
					"minimum":     0,
					"maximum":     59,
					"description": "Minute (0-59). Defaults to 0.",
				},
			},
			"required": []string{"message"},
		},
		Handler: s.handleScheduleInteraction,
	}
}

func (s *Scheduler) handleScheduleInteraction(ctx context.Context, args map[string]any) (any, error) {
	hour, err := tools.OptionalIntArg(args, "hour")
	if err != nil {
		return nil, err
	}
	minute, err := tools.OptionalIntArg(args, "minute")
	if err != nil {
		return nil, err
	}

	res, err := s.ScheduleInteraction(ctx, InteractionRequest{
		Message:   tools.StringArg(args, "message"),
		Day:       tools.StringArg(args, "day"),
		Hour:      hour,
		Minute:    minute,
		SessionID: tools.SessionIDFromContext(ctx),
	})
	if err != nil {
		return nil, tools.Fatal(err)
	}
	return res, nil
}
