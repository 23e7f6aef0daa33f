package credentials

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewMemoryStore() Store {
	return &memoryStore{tokens: make(map[string]string)}
}

func (m *memoryStore) GetToken(_ context.Context, deviceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[deviceID]
	if !ok {
		return "", ErrTokenNotFound
	}
	return tok, nil
}

func (m *memoryStore) SetToken(_ context.Context, deviceID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[deviceID] = token
	return nil
}

func (m *memoryStore) DeleteToken(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, deviceID)
	return nil
}
