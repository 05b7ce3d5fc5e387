package workbook

// schema is the productivity domain: projects break down into tasks,
// goals track measurable targets, and progress logs record what
// actually happened. Datetime columns are declared TIMESTAMP and
// structured columns JSON; the SQL tools rely on those declared types
// to normalize values.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id INTEGER PRIMARY KEY,
	whatsapp_number TEXT NOT NULL UNIQUE,
	name TEXT,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	last_active TIMESTAMP,
	settings JSON
);

CREATE TABLE IF NOT EXISTS projects (
	project_id INTEGER PRIMARY KEY,
	user_id INTEGER REFERENCES users(user_id),
	name TEXT NOT NULL,
	description TEXT,
	status TEXT DEFAULT 'planning' CHECK (status IN ('planning', 'active', 'paused', 'completed', 'abandoned')),
	priority TEXT DEFAULT 'medium' CHECK (priority IN ('high', 'medium', 'low')),
	start_date TIMESTAMP,
	deadline TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	task_id INTEGER PRIMARY KEY,
	project_id INTEGER REFERENCES projects(project_id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT DEFAULT 'todo' CHECK (status IN ('todo', 'in_progress', 'blocked', 'completed')),
	priority TEXT DEFAULT 'medium' CHECK (priority IN ('high', 'medium', 'low')),
	estimated_duration INTEGER,
	actual_duration INTEGER,
	due_date TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	completed_at TIMESTAMP,
	parent_task_id INTEGER REFERENCES tasks(task_id),
	CHECK (parent_task_id IS NULL OR parent_task_id != task_id)
);

CREATE TABLE IF NOT EXISTS goals (
	goal_id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	goal_type TEXT CHECK (goal_type IN ('fitness', 'learning', 'project', 'habit', 'personal')),
	target_value NUMERIC,
	current_value NUMERIC DEFAULT 0,
	unit TEXT,
	frequency TEXT,
	status TEXT DEFAULT 'active' CHECK (status IN ('active', 'achieved', 'abandoned')),
	deadline TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS progress_logs (
	log_id INTEGER PRIMARY KEY,
	user_id INTEGER REFERENCES users(user_id),
	log_type TEXT NOT NULL CHECK (log_type IN ('task_update', 'goal_progress', 'media_upload', 'activity', 'focus_session')),
	related_task_id INTEGER REFERENCES tasks(task_id),
	related_goal_id INTEGER REFERENCES goals(goal_id),
	related_project_id INTEGER REFERENCES projects(project_id),
	value NUMERIC,
	description TEXT,
	media_url TEXT,
	duration INTEGER,
	energy_level INTEGER CHECK (energy_level BETWEEN 1 AND 5),
	mood TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS procrastination_patterns (
	pattern_id INTEGER PRIMARY KEY,
	trigger_type TEXT NOT NULL,
	description TEXT,
	frequency INTEGER DEFAULT 1,
	impact_level INTEGER CHECK (impact_level BETWEEN 1 AND 5),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ai_interactions (
	interaction_id INTEGER PRIMARY KEY,
	message_text TEXT NOT NULL,
	response_text TEXT NOT NULL,
	intent TEXT,
	context_data JSON,
	effectiveness_rating INTEGER CHECK (effectiveness_rating BETWEEN 1 AND 5),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value JSON NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`
