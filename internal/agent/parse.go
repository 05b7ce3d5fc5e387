package agent

import (
	"encoding/json"
	"strings"
)

// StructuredResponse is the {content, is_final} envelope the model is
// instructed to emit.
type StructuredResponse struct {
	Content string `json:"content"`
	IsFinal bool   `json:"is_final"`
}

// Legacy markers that mark an unstructured reply as final.
var finalMarkers = []string{"finalize", "final answer:"}

// Parse decodes raw model output. It never fails: text that is not a
// JSON object with a string content field becomes the content of a
// response that is final only when it carries a legacy marker.
func Parse(raw string) StructuredResponse {
	text := strings.TrimSpace(raw)
	if text == "" {
		return StructuredResponse{}
	}

	if sr, ok := decodeEnvelope(stripCodeFence(text)); ok {
		return sr
	}

	lower := strings.ToLower(raw)
	final := false
	for _, m := range finalMarkers {
		if strings.Contains(lower, m) {
			final = true
			break
		}
	}
	return StructuredResponse{Content: raw, IsFinal: final}
}

func decodeEnvelope(text string) (StructuredResponse, bool) {
	if !strings.HasPrefix(text, "{") {
		return StructuredResponse{}, false
	}
	var env struct {
		Content *string `json:"content"`
		IsFinal *bool   `json:"is_final"`
	}
	if err := json.Unmarshal([]byte(text), &env); err != nil || env.Content == nil {
		return StructuredResponse{}, false
	}
	sr := StructuredResponse{Content: *env.Content}
	if env.IsFinal != nil {
		sr.IsFinal = *env.IsFinal
	}
	return sr, true
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl != -1 && !strings.Contains(inner[:nl], "{") {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner)
}
