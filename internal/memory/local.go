package memory

import (
	"context"
	"sync"
	"time"
)

// Local is an ephemeral in-process history. Its lifetime is the process.
type Local struct {
	mu       sync.RWMutex
	messages []Message
	now      func() time.Time
}

// NewLocal creates an empty in-process history.
func NewLocal() *Local {
	return &Local{now: time.Now}
}

// GetMessages returns a copy of the history.
func (l *Local) GetMessages(context.Context) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out, nil
}

// AddMessage appends a message.
func (l *Local) AddMessage(_ context.Context, role, content string) error {
	if err := validateRole(role); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, Message{Role: role, Content: content, Timestamp: l.now()})
	return nil
}

// ClearMessages drops the history.
func (l *Local) ClearMessages(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
	return nil
}

// LocalStore keeps one Local per session id.
type LocalStore struct {
	mu       sync.Mutex
	sessions map[string]*Local
}

// NewLocalStore creates an empty store.
func NewLocalStore() *LocalStore {
	return &LocalStore{sessions: make(map[string]*Local)}
}

// Session returns the history for id, creating it on first use.
func (s *LocalStore) Session(id string) Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[id]
	if !ok {
		l = NewLocal()
		s.sessions[id] = l
	}
	return l
}
