package agent

import (
	"strings"

	"github.com/stewardhq/steward/internal/llm"
)

// JSONInstruction is prepended when no system message mentions JSON.
const JSONInstruction = `You must respond with JSON that matches this structure: {"content": string, "is_final": boolean}. The content field should contain your message, and is_final should be true only when you have completed all necessary tool calls and have a final answer.`

// IterationReminder is injected before the last permitted model call.
const IterationReminder = "WARNING: Maximum iterations approaching. You MUST provide a Final Answer with is_final: true in your response on this turn."

// ExhaustedApology is returned on forced finalization when the model
// never produced any text.
const ExhaustedApology = "I'm sorry, I wasn't able to finish working on that. Please try again or rephrase your request."

// ensureJSONInstruction inserts JSONInstruction at index 0 unless a
// system message already mentions JSON.
func ensureJSONInstruction(messages []llm.Message) []llm.Message {
	for _, m := range messages {
		if m.Role == llm.RoleSystem && strings.Contains(m.Content, "JSON") {
			return messages
		}
	}
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: JSONInstruction})
	return append(out, messages...)
}
