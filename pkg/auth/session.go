package auth

import (
	"context"
	"errors"

	"github.com/d-kuro/crmclient/pkg/storage"
	"github.com/d-kuro/crmclient/pkg/types"
)

// Session is the authenticated call path: every request goes through Do.
type Session struct {
	transport   Transport
	store       storage.CredentialStore
	refresher   *HTTPRefresher
	classifier  Classifier
	coordinator *Coordinator
	replayer    *Replayer
	opts        options
}

// NewSession wires the decorator, classifier, coordinator and replay driver
// over transport and store.
func NewSession(transport Transport, store storage.CredentialStore, endpoints Endpoints, opts ...Option) *Session {
	return NewSessionWithRefresher(transport, store, endpoints, nil, opts...)
}

// NewSessionWithRefresher is NewSession with a custom refresher. A nil
// refresher uses the HTTP refresh endpoint. Login and Logout always use the
// HTTP auth endpoints.
func NewSessionWithRefresher(transport Transport, store storage.CredentialStore, endpoints Endpoints, refresher Refresher, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	classifier := endpoints.Classifier()
	httpRefresher := NewHTTPRefresher(transport, endpoints)
	if refresher == nil {
		refresher = httpRefresher
	}

	return &Session{
		transport:   transport,
		store:       store,
		refresher:   httpRefresher,
		classifier:  classifier,
		coordinator: NewCoordinator(store, refresher, opts...),
		replayer:    NewReplayer(transport, classifier),
		opts:        o,
	}
}

// Do sends req with the current credential. On an expired credential it
// refreshes (or joins the in-flight refresh) and replays once. Callers see
// either the final outcome of the request or an *AuthError.
func (s *Session) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	pair := s.currentCredential(ctx)

	resp, attempt, err := send(ctx, s.transport, types.NewAttempt(req), pair)
	if err == nil {
		return resp, nil
	}

	classification := s.classifier.Classify(err, attempt)
	switch classification {
	case NotEligible:
		return nil, err
	case EligibleExhausted:
		return nil, exhausted(err)
	}

	s.opts.logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Str("classification", classification.String()).
		Msg("Credential expired")

	fresh, err := s.coordinator.Await(ctx, attempt.Credential)
	if err != nil {
		return nil, err
	}
	return s.replayer.Replay(ctx, attempt.Retry(), fresh)
}

// Login exchanges user credentials for a pair and stores it.
func (s *Session) Login(ctx context.Context, email, password string) error {
	pair, err := s.refresher.Login(ctx, email, password)
	if err != nil {
		return err
	}
	return s.SetCredentials(ctx, pair)
}

// Logout tells the server the session ended, ignoring failures, then clears
// the stored credentials.
func (s *Session) Logout(ctx context.Context) error {
	if pair := s.currentCredential(ctx); pair != nil {
		if err := s.refresher.Logout(ctx, pair); err != nil {
			s.opts.logger.Debug().Err(err).Msg("Server logout failed, clearing local credentials anyway")
		}
	}
	return s.ClearAuthentication(ctx)
}

// SetCredentials stores pair, or clears the store when pair is nil.
func (s *Session) SetCredentials(ctx context.Context, pair *storage.CredentialPair) error {
	if pair == nil {
		return s.ClearAuthentication(ctx)
	}
	if err := s.store.Store(ctx, *pair); err != nil {
		return &AuthError{
			Op:      "store_token",
			Message: "failed to store credentials",
			Err:     err,
		}
	}
	return nil
}

// ClearAuthentication removes stored credentials.
func (s *Session) ClearAuthentication(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return &AuthError{
			Op:      "clear_token",
			Message: "failed to clear stored token",
			Err:     err,
		}
	}
	return nil
}

// IsAuthenticated reports whether a credential pair is stored.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	return s.currentCredential(ctx) != nil
}

// Stats returns the refresh coordinator counters.
func (s *Session) Stats() CoordinatorStats {
	return s.coordinator.Stats()
}

// currentCredential reads the store. A store failure sends the request
// undecorated; the server's 401 then takes the normal expiry path.
func (s *Session) currentCredential(ctx context.Context) *storage.CredentialPair {
	pair, err := s.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrStorageNotFound) {
			s.opts.logger.Warn().Err(err).Msg("Failed to load credentials, sending request undecorated")
		}
		return nil
	}
	if pair.IsZero() {
		return nil
	}
	return pair
}

var _ Authenticatable = (*Session)(nil)
