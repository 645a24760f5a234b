package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers of Session.Do. Every error returned for
// an authentication failure is an *AuthError wrapping one of these.
var (
	// ErrRefreshFailed means the refresh call failed, timed out, or returned
	// an incomplete pair. Every waiter of the cycle receives it.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrNoRefreshToken means no refresh credential was stored, so
	// re-authentication is required without any network call.
	ErrNoRefreshToken = errors.New("no refresh token available - re-authentication required")

	// ErrAuthExhausted means a replayed request was rejected again.
	ErrAuthExhausted = errors.New("request rejected after credential refresh")

	// ErrIncompleteRefresh means the refresh endpoint answered without a
	// rotated refresh token or without an access token.
	ErrIncompleteRefresh = errors.New("refresh response missing access or refresh token")

	// ErrReplayNotMarked guards against replaying an attempt that was not
	// marked as retried.
	ErrReplayNotMarked = errors.New("replay requires an attempt marked as retried")
)

// AuthError represents an authentication error.
type AuthError struct {
	Op      string // The operation that failed
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("auth %s: %s", e.Op, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether err means the session must re-authenticate.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrRefreshFailed) ||
		errors.Is(err, ErrNoRefreshToken) ||
		errors.Is(err, ErrAuthExhausted)
}
