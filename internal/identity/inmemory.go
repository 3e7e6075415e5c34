package identity

import (
	"context"
	"sync"
)

// InMemoryStore keeps the id for the lifetime of the process only.
type InMemoryStore struct {
	mu sync.RWMutex
	id string
}

func NewInMemoryStore() *InMemoryStore { return &InMemoryStore{} }

func (s *InMemoryStore) Load(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id == "" {
		return "", ErrNoSession
	}
	return s.id, nil
}

func (s *InMemoryStore) Save(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = sessionID
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
