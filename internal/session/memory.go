package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]Session
	now      func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]Session),
		now:      time.Now,
	}
}

// Get returns a copy of the user's session.
func (m *MemoryStore) Get(_ context.Context, userID int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Data = append([]byte(nil), s.Data...)
	return &s, nil
}

// Set replaces the user's session.
func (m *MemoryStore) Set(_ context.Context, userID int64, s *Session) error {
	if s == nil {
		return m.Clear(context.Background(), userID)
	}
	stored := *s
	stored.Data = append([]byte(nil), s.Data...)
	stored.UpdatedAt = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = stored
	return nil
}

// Clear removes the user's session. Clearing an absent session is not an error.
func (m *MemoryStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *MemoryStore) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
