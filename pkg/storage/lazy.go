package storage

import (
	"context"
	"fmt"
	"sync"
)

// LazyStore defers construction of the backing store until first use, so
// creating a client performs no I/O.
type LazyStore struct {
	open func() (CredentialStore, error)
}

// NewLazyStore wraps a store constructor. The constructor runs at most once.
func NewLazyStore(factory func() (CredentialStore, error)) *LazyStore {
	return &LazyStore{open: sync.OnceValues(factory)}
}

func (l *LazyStore) store() (CredentialStore, error) {
	s, err := l.open()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}
	return s, nil
}

// Load implements CredentialStore.Load.
func (l *LazyStore) Load(ctx context.Context) (*CredentialPair, error) {
	s, err := l.store()
	if err != nil {
		return nil, err
	}
	return s.Load(ctx)
}

// Store implements CredentialStore.Store.
func (l *LazyStore) Store(ctx context.Context, pair CredentialPair) error {
	s, err := l.store()
	if err != nil {
		return err
	}
	return s.Store(ctx, pair)
}

// Clear implements CredentialStore.Clear.
func (l *LazyStore) Clear(ctx context.Context) error {
	s, err := l.store()
	if err != nil {
		return err
	}
	return s.Clear(ctx)
}

// HasCredentials implements CredentialStore.HasCredentials.
func (l *LazyStore) HasCredentials(ctx context.Context) bool {
	s, err := l.store()
	if err != nil {
		return false
	}
	return s.HasCredentials(ctx)
}

// GetStoragePath implements CredentialStore.GetStoragePath.
func (l *LazyStore) GetStoragePath() string {
	s, err := l.store()
	if err != nil {
		return ""
	}
	return s.GetStoragePath()
}
