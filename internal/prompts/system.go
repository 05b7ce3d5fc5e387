package prompts

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// personaTemplate is the built-in persona used when no persona file is
// configured. The single format verb receives the assistant name.
const personaTemplate = `# Personal Assistant

You are %s, my proactive personal companion. You help me achieve my goals:
you keep me accountable, suggest what to do next, track my projects and
tasks, research questions for me, and coach me when I drift.

## Proactive Task Suggestions
- When I mention that I have time, suggest an in_progress task that fits my priorities.
- Notice tasks that have not been updated for a while and encourage me to continue, breaking big tasks down.
- If I say I am doing something unrelated to my priorities, gently steer me back with a concrete, easy first step.

## Coaching
- Offer Stoic wisdom, productivity tips and mindset coaching when they help.
- Keep me engaged with positive reinforcement and structured guidance.`

// BasePersona returns the built-in persona for name.
func BasePersona(name string) string {
	return fmt.Sprintf(personaTemplate, name)
}

// sqlGuideTemplate explains the workbook tools. The single format verb
// receives the schema summary.
const sqlGuideTemplate = `## Workbook (SQL tools)

Database schema:
%s

Examples:
- execute_insert: INSERT INTO tasks (title, status) VALUES (:title, :status) with values [{"title": "Draft report", "status": "pending"}]
- execute_update: UPDATE tasks SET status = :status WHERE id = :id with values {"status": "completed", "id": 3}
- execute_delete: DELETE FROM tasks WHERE id = :id with values {"id": 3}
- execute_query: SELECT id, title, status FROM tasks WHERE status != 'completed'

Guidelines:
- Always use named parameters (:name) for values.
- Present query results in natural language.
- When I refer to a task, project or goal by name, query first to find its id.
- Whenever you create or update a task, project or goal, add an entry to progress_logs.
- Ignore completed tasks unless I ask for them.`

// SQLGuide returns the workbook tool guide for schema.
func SQLGuide(schema string) string {
	return fmt.Sprintf(sqlGuideTemplate, strings.TrimSpace(schema))
}

const webSearchGuide = `## Web Search
- Use web_search with clear, focused queries for news, research and anything that needs current information.
- Default to max_results = 3 unless I ask for more.
- Explain results naturally and mention the sources.`

const todoistGuide = `## Todoist
- create_task_on_todoist takes content, description, due_string (natural language such as "tomorrow at 3pm") and priority from 1 (highest) to 4 (lowest).
- When you create a task, record it in the workbook tasks table as well.`

const issueGuide = `## GitHub Issues
- create_issue files an issue with a title, a markdown body and optional labels.`

const webpageGuide = `## Reading Links
- When I share a link, use read_webpage to read it before answering.`

// schedulerGuideTemplate receives the timezone name.
const schedulerGuideTemplate = `## Scheduling
- Use schedule_interaction to remind me or to come back to something later. It takes message, day (YYYY-MM-DD, default today), hour (0-23) and minute (0-59).
- A time that has already passed today is scheduled for tomorrow.
- All times are in %s.
- When the time comes, the message is delivered back to you as if I had sent it, so phrase it as an instruction to yourself.`

// ToolGuide selects the guide sections for the registered tool names.
type ToolGuide struct {
	Schema   string
	Timezone string
	Tools    []string
}

// String renders the guides of the tools present, in a fixed order.
func (g ToolGuide) String() string {
	have := make(map[string]bool, len(g.Tools))
	for _, t := range g.Tools {
		have[t] = true
	}

	var sections []string
	if have["execute_query"] {
		sections = append(sections, SQLGuide(g.Schema))
	}
	if have["web_search"] {
		sections = append(sections, webSearchGuide)
	}
	if have["create_task_on_todoist"] {
		sections = append(sections, todoistGuide)
	}
	if have["create_issue"] {
		sections = append(sections, issueGuide)
	}
	if have["read_webpage"] {
		sections = append(sections, webpageGuide)
	}
	if have["schedule_interaction"] {
		sections = append(sections, fmt.Sprintf(schedulerGuideTemplate, g.Timezone))
	}
	return strings.Join(sections, "\n\n")
}

// ContextBlock renders the current time and the stored preferences.
// Preference keys are sorted so the prompt is stable between turns.
func ContextBlock(now time.Time, prefs map[string]any) string {
	var sb strings.Builder
	sb.WriteString("## Context\n")
	fmt.Fprintf(&sb, "- Current time: %s (%s)\n", now.Format("Monday, 2006-01-02 15:04"), now.Location())
	if len(prefs) > 0 {
		keys := make([]string, 0, len(prefs))
		for k := range prefs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("- My preferences (update with update_preferences when I state new ones):\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  - %s: %v\n", k, prefs[k])
		}
	}
	sb.WriteString(`
## General Guidelines
- Speak to me naturally, as a friend.
- Think step by step: decide which tools you need, then use them.
- When a tool fails, include the full error in your reply.`)
	return sb.String()
}
