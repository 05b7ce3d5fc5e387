// Package memory provides conversation history storage behind a uniform
// Provider interface, with an in-process variant and a SQLite variant
// keyed by session.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/stewardhq/steward/internal/llm"
)

// Message represents a stored conversation message.
type Message struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider is append-only history for one conversation.
type Provider interface {
	// GetMessages returns the history in insertion order, possibly empty.
	GetMessages(ctx context.Context) ([]Message, error)

	// AddMessage appends a message. Role must be user or assistant.
	AddMessage(ctx context.Context, role, content string) error

	// ClearMessages removes the whole history.
	ClearMessages(ctx context.Context) error
}

// Sessions hands out the Provider for a session id.
type Sessions interface {
	Session(id string) Provider
}

// InvalidRoleError is returned by AddMessage for roles other than user
// and assistant.
type InvalidRoleError struct {
	Role string
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("invalid role %q: must be user or assistant", e.Role)
}

func validateRole(role string) error {
	if role != llm.RoleUser && role != llm.RoleAssistant {
		return &InvalidRoleError{Role: role}
	}
	return nil
}

// ToLLM converts stored history to model messages.
func ToLLM(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
