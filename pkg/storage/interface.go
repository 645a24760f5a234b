// Package storage provides persistence for the session's credential pair.
package storage

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/oauth2"
)

// CredentialPair is the access/refresh token tuple of an authenticated session.
// Both tokens are always written together.
type CredentialPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// IsZero reports whether the pair carries no access token.
func (p *CredentialPair) IsZero() bool {
	return p == nil || p.AccessToken == ""
}

// Validate checks that both halves of the pair are present.
func (p CredentialPair) Validate() error {
	if p.AccessToken == "" || p.RefreshToken == "" {
		return ErrIncompletePair
	}
	return nil
}

// Token converts the pair to an oauth2 bearer token.
func (p *CredentialPair) Token() *oauth2.Token {
	if p == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
	}
}

// PairFromToken converts an oauth2 token into a credential pair.
func PairFromToken(token *oauth2.Token) *CredentialPair {
	if token == nil {
		return nil
	}
	return &CredentialPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
}

// CredentialStore persists the credential pair. Implementations must give
// read-after-write consistency within the process.
type CredentialStore interface {
	// Load returns the stored pair, or ErrStorageNotFound if there is none.
	Load(ctx context.Context) (*CredentialPair, error)

	// Store replaces the stored pair in a single step.
	Store(ctx context.Context, pair CredentialPair) error

	// Clear removes the stored pair. Clearing an empty store is not an error.
	Clear(ctx context.Context) error

	// HasCredentials reports whether a pair is stored.
	HasCredentials(ctx context.Context) bool

	// GetStoragePath returns where credentials live, for diagnostics.
	GetStoragePath() string
}

// Sentinel errors for storage operations
var (
	ErrStorageNotFound   = errors.New("storage item not found")
	ErrStorageCorrupted  = errors.New("storage data corrupted")
	ErrStoragePermission = errors.New("storage permission denied")
	ErrIncompletePair    = errors.New("credential pair requires both access and refresh tokens")
)

var defaultStore = sync.OnceValue(func() *LazyStore {
	return NewLazyStore(func() (CredentialStore, error) {
		return NewFileSystemStore("")
	})
})

// Default returns the process-wide credential store. The backing filesystem
// store is created on first use.
func Default() *LazyStore {
	return defaultStore()
}
