// Package session holds the in-process SessionStore used when Redis is not configured.
package session

import (
	"context"
	"sync"
	"time"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/repository"
)

var _ repository.SessionStore = (*MemoryStore)(nil)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*model.Session)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) Append(ctx context.Context, id string, now time.Time, turns ...model.ConversationTurn) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = model.NewSession(id, now)
		m.sessions[id] = s
	}
	s.Append(now, turns...)
	return copySession(s), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SweepExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.Expired(now, ttl) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func copySession(s *model.Session) *model.Session {
	c := *s
	c.Turns = append([]model.ConversationTurn(nil), s.Turns...)
	return &c
}
