// Package workbook is the user's productivity database: projects,
// tasks, goals, progress logs and preferences in SQLite. The model reads
// and edits it directly with SQL through the tools in this package.
package workbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Store wraps a SQLite handle holding the domain schema. It works with
// any database/sql SQLite driver; the server opens it with go-sqlite3.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	loc    *time.Location

	mu      sync.Mutex
	columns map[string][]Column // table -> columns, filled lazily
}

// Column describes one table column as SQLite reports it.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// New migrates db and returns a Store. Datetime values without a zone
// are stored as wall-clock time in loc.
func New(db *sql.DB, logger *slog.Logger, loc *time.Location) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate workbook: %w", err)
	}
	return &Store{db: db, logger: logger, loc: loc, columns: make(map[string][]Column)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tables returns the names of user tables.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Columns returns a table's columns, or nil if the table does not exist.
func (s *Store) Columns(ctx context.Context, table string) ([]Column, error) {
	s.mu.Lock()
	cached, ok := s.columns[table]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	// PRAGMA arguments cannot be bound; table names reaching here come
	// from \w+ matches.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols = append(cols, Column{Name: name, Type: strings.ToUpper(typ), Nullable: notNull == 0})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) > 0 {
		s.mu.Lock()
		s.columns[table] = cols
		s.mu.Unlock()
	}
	return cols, nil
}

// SchemaSummary renders every table as "name(col TYPE, ...)", one per
// line, for the system prompt.
func (s *Store) SchemaSummary(ctx context.Context) (string, error) {
	tables, err := s.Tables(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, t := range tables {
		cols, err := s.Columns(ctx, t)
		if err != nil {
			return "", err
		}
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = c.Name + " " + c.Type
		}
		fmt.Fprintf(&b, "%s(%s)\n", t, strings.Join(parts, ", "))
	}
	return b.String(), nil
}

// Preferences returns every stored preference.
func (s *Store) Preferences(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		prefs[key] = v
	}
	return prefs, rows.Err()
}

// UpdatePreferences merges updates into the stored preferences and
// returns the result. A null value deletes the key.
func (s *Store) UpdatePreferences(ctx context.Context, updates map[string]any) (map[string]any, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().In(s.loc).Format(time.DateTime)
	for key, value := range updates {
		if value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key); err != nil {
				return nil, fmt.Errorf("delete preference %s: %w", key, err)
			}
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode preference %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, string(raw), now); err != nil {
			return nil, fmt.Errorf("store preference %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.Preferences(ctx)
}

// LogInteraction records one exchange in ai_interactions.
func (s *Store) LogInteraction(ctx context.Context, message, response, intent string, contextData map[string]any) error {
	var data any
	if len(contextData) > 0 {
		raw, err := json.Marshal(contextData)
		if err != nil {
			return fmt.Errorf("encode context: %w", err)
		}
		data = string(raw)
	}
	var intentValue any
	if intent != "" {
		intentValue = intent
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_interactions (message_text, response_text, intent, context_data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, message, response, intentValue, data, time.Now().In(s.loc).Format(time.DateTime))
	if err != nil {
		return fmt.Errorf("log interaction: %w", err)
	}
	return nil
}
