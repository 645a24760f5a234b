// Package auth keeps a short-lived access token valid across concurrent
// requests. It attaches the credential to each call, detects expiry from 401
// responses, runs at most one refresh at a time and replays or rejects every
// request that observed the same expiry.
package auth

import (
	"context"

	"github.com/d-kuro/crmclient/pkg/storage"
	"github.com/d-kuro/crmclient/pkg/types"
)

// Transport sends a single request with no retry. It returns a Response for
// every HTTP status and an error only when no response was received.
type Transport interface {
	Send(ctx context.Context, req *types.Request) (*types.Response, error)
}

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*storage.CredentialPair, error)
}

// LogoutHandler is invoked once per failed refresh cycle. The application
// routes the user to its login entry point.
type LogoutHandler func()

// Authenticatable is the authentication surface shared by Session and the
// root client.
type Authenticatable interface {
	// IsAuthenticated reports whether a credential pair is stored.
	IsAuthenticated(ctx context.Context) bool

	// GetAuthStatus returns the current authentication status.
	GetAuthStatus(ctx context.Context) (*AuthStatus, error)

	// ClearAuthentication removes stored credentials.
	ClearAuthentication(ctx context.Context) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *types.Request) (*types.Response, error)

// Send implements Transport.
func (f TransportFunc) Send(ctx context.Context, req *types.Request) (*types.Response, error) {
	return f(ctx, req)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (*storage.CredentialPair, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*storage.CredentialPair, error) {
	return f(ctx, refreshToken)
}
