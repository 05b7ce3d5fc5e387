package agent

import "time"

// EventKind identifies a loop event.
type EventKind string

const (
	// EventToolStart fires before a requested tool is dispatched.
	EventToolStart EventKind = "tool_start"

	// EventToolDone fires when a tool call has produced its result.
	EventToolDone EventKind = "tool_done"

	// EventFinal fires once with the answer returned to the caller.
	EventFinal EventKind = "final"
)

// Event is delivered to an EventFunc while a loop runs.
type Event struct {
	Kind      EventKind `json:"kind"`
	Tool      string    `json:"tool,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Content   string    `json:"content,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
}

// EventFunc receives loop events. It is called from the goroutine running
// the loop and must not block for long.
type EventFunc func(Event)

// Recorder receives loop measurements (metrics).
type Recorder interface {
	ModelCall(model string, d time.Duration, inputTokens, outputTokens int, err error)
	LoopFinished(modelCalls int, forced bool)
}
