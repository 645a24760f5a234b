package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the pair in process memory only.
type MemoryStore struct {
	mu   sync.RWMutex
	pair *CredentialPair
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements CredentialStore.Load.
func (m *MemoryStore) Load(_ context.Context) (*CredentialPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pair == nil {
		return nil, ErrStorageNotFound
	}
	pair := *m.pair
	return &pair, nil
}

// Store implements CredentialStore.Store.
func (m *MemoryStore) Store(_ context.Context, pair CredentialPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.pair = &pair
	m.mu.Unlock()
	return nil
}

// Clear implements CredentialStore.Clear.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.pair = nil
	m.mu.Unlock()
	return nil
}

// HasCredentials implements CredentialStore.HasCredentials.
func (m *MemoryStore) HasCredentials(_ context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair != nil
}

// GetStoragePath implements CredentialStore.GetStoragePath.
func (m *MemoryStore) GetStoragePath() string {
	return "memory"
}
