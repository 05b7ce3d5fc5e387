package memory

import "github.com/tiktoken-go/tokenizer"

// TokenCounter counts tokens with the GPT-4 encoding, falling back to a
// four-characters-per-token estimate when the codec is unavailable.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter. It never fails.
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Window returns the newest messages that fit both limit (message count)
// and tokenBudget. Zero disables either bound. Order is preserved. The
// window never starts with an assistant reply, so the model always sees
// the user turn it answered.
func (tc *TokenCounter) Window(msgs []Message, limit, tokenBudget int) []Message {
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}

	if tokenBudget > 0 {
		used := 0
		i := len(msgs)
		for i > start {
			cost := tc.Count(msgs[i-1].Content) + 4 // per-message framing
			if used+cost > tokenBudget {
				break
			}
			used += cost
			i--
		}
		start = i
	}

	for start < len(msgs) && msgs[start].Role != "user" {
		start++
	}

	out := make([]Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}
