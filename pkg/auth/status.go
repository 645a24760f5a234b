package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthStatus represents the current authentication status.
type AuthStatus struct {
	Authenticated   bool          `json:"authenticated"`
	TokenType       string        `json:"tokenType,omitempty"`
	Subject         string        `json:"subject,omitempty"`
	ExpiresAt       time.Time     `json:"expiresAt,omitempty"`
	ExpiresIn       time.Duration `json:"expiresIn,omitempty"`
	IsExpired       bool          `json:"isExpired,omitempty"`
	HasRefreshToken bool          `json:"hasRefreshToken,omitempty"`
	StoragePath     string        `json:"storagePath,omitempty"`
	Refreshing      bool          `json:"refreshing,omitempty"`
	RefreshCycles   uint64        `json:"refreshCycles,omitempty"`
	RefreshFailures uint64        `json:"refreshFailures,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// TokenInfo holds claims read from a JWT access token.
type TokenInfo struct {
	Subject   string
	ExpiresAt time.Time
}

// InspectAccessToken reads the subject and expiry of a JWT access token
// without verifying its signature. It is for display only; the server
// remains the authority on validity. Opaque tokens return an error.
func InspectAccessToken(accessToken string) (*TokenInfo, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, err
	}

	info := &TokenInfo{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// GetAuthStatus returns the current authentication status.
func (s *Session) GetAuthStatus(ctx context.Context) (*AuthStatus, error) {
	stats := s.coordinator.Stats()
	status := &AuthStatus{
		StoragePath:     s.store.GetStoragePath(),
		Refreshing:      stats.Refreshing,
		RefreshCycles:   stats.Cycles,
		RefreshFailures: stats.Failures,
	}

	pair, err := s.store.Load(ctx)
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}

	status.Authenticated = !pair.IsZero()
	status.TokenType = pair.Token().Type()
	status.HasRefreshToken = pair.RefreshToken != ""

	if info, err := InspectAccessToken(pair.AccessToken); err == nil {
		status.Subject = info.Subject
		if !info.ExpiresAt.IsZero() {
			status.ExpiresAt = info.ExpiresAt
			status.ExpiresIn = time.Until(info.ExpiresAt)
			status.IsExpired = info.ExpiresAt.Before(time.Now())
		}
	}

	return status, nil
}
