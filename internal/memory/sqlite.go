package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is durable history keyed by session id. A session's rows
// live until ClearMessages is called.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the history database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS chat_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(session_id, seq);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Session returns the Provider for one session id.
func (s *SQLiteStore) Session(id string) Provider {
	return &sqliteSession{store: s, id: id}
}

// Stats reports how many sessions and messages are stored.
func (s *SQLiteStore) Stats(ctx context.Context) (sessions, messages int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT session_id), COUNT(*) FROM chat_history`).Scan(&sessions, &messages)
	if err != nil {
		return 0, 0, fmt.Errorf("stats: %w", err)
	}
	return sessions, messages, nil
}

type sqliteSession struct {
	store *SQLiteStore
	id    string
}

func (p *sqliteSession) GetMessages(ctx context.Context) ([]Message, error) {
	rows, err := p.store.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM chat_history
		WHERE session_id = ?
		ORDER BY seq ASC
	`, p.id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (p *sqliteSession) AddMessage(ctx context.Context, role, content string) error {
	if err := validateRole(role); err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}
	_, err = p.store.db.ExecContext(ctx, `
		INSERT INTO chat_history (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), p.id, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *sqliteSession) ClearMessages(ctx context.Context) error {
	if _, err := p.store.db.ExecContext(ctx, `DELETE FROM chat_history WHERE session_id = ?`, p.id); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
