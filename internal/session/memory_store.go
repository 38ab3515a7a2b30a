package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory session store for demo/development mode.
type MemoryStore struct {
	sessions map[string]*Session // by session ID
	open     map[string]string   // accountID -> open session ID
	order    []string            // session IDs in creation order
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		open:     make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.open[s.AccountID]; exists {
		return ErrSessionAlreadyActive
	}

	cp := *s
	m.sessions[s.ID] = &cp
	m.open[s.AccountID] = s.ID
	m.order = append(m.order, s.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetOpen(ctx context.Context, accountID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.open[accountID]
	if !ok {
		return nil, nil
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return ErrSessionNotFound
	}

	cp := *s
	m.sessions[s.ID] = &cp

	if !s.State.Open() {
		if openID, ok := m.open[s.AccountID]; ok && openID == s.ID {
			delete(m.open, s.AccountID)
		}
	}
	return nil
}

func (m *MemoryStore) History(ctx context.Context, accountID string, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		s := m.sessions[m.order[i]]
		if s.AccountID == accountID && s.State == StateClosed {
			cp := *s
			result = append(result, &cp)
		}
	}
	return result, nil
}
