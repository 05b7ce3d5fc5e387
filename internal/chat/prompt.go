package chat

import (
	"context"
	"strings"

	"github.com/stewardhq/steward/internal/prompts"
)

// SystemPrompt assembles the persona, the tool guides and the context
// block for one turn. Journal failures drop the affected section.
func (s *Service) SystemPrompt(ctx context.Context) string {
	persona := strings.TrimSpace(s.cfg.Persona)
	if persona == "" {
		persona = prompts.BasePersona(s.cfg.Name)
	}

	var schema string
	var prefs map[string]any
	if s.journal != nil {
		var err error
		if schema, err = s.journal.SchemaSummary(ctx); err != nil {
			s.logger.Warn("schema summary unavailable", "error", err)
		}
		if prefs, err = s.journal.Preferences(ctx); err != nil {
			s.logger.Warn("preferences unavailable", "error", err)
		}
	}

	guide := prompts.ToolGuide{
		Schema:   schema,
		Timezone: s.cfg.Location.String(),
		Tools:    s.cfg.Tools,
	}.String()

	parts := []string{persona}
	if guide != "" {
		parts = append(parts, guide)
	}
	parts = append(parts, prompts.ContextBlock(s.now().In(s.cfg.Location), prefs))
	return strings.Join(parts, "\n\n")
}
