package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/d-kuro/crmclient/pkg/constants"
	"github.com/d-kuro/crmclient/pkg/storage"
)

// Option configures a Coordinator or Session.
type Option func(*options)

type options struct {
	logger         zerolog.Logger
	onLogout       LogoutHandler
	refreshTimeout time.Duration
}

func defaultOptions() options {
	return options{
		logger:         zerolog.Nop(),
		refreshTimeout: constants.TokenRefreshTimeout,
	}
}

// WithLogger sets the logger. Token values are never logged.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogoutHandler sets the hard-logout side effect.
func WithLogoutHandler(handler LogoutHandler) Option {
	return func(o *options) {
		o.onLogout = handler
	}
}

// WithRefreshTimeout bounds the refresh call. A timed-out refresh is a
// failed refresh.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.refreshTimeout = timeout
		}
	}
}

// refreshOutcome is the settled result of one refresh cycle, shared by the
// owner and every waiter.
type refreshOutcome struct {
	pair *storage.CredentialPair
	err  error
}

// CoordinatorStats is a snapshot of the coordinator counters.
type CoordinatorStats struct {
	Cycles     uint64 `json:"cycles"`
	Failures   uint64 `json:"failures"`
	Waiting    int    `json:"waiting"`
	Refreshing bool   `json:"refreshing"`
}

// Coordinator guarantees at most one in-flight refresh. The first caller to
// observe an expiry becomes the owner and performs the refresh; callers that
// arrive while it runs are queued and settled in arrival order with the
// owner's outcome.
//
// refreshing and waiters are only touched under mu, and the queue is emptied
// in the same critical section that resets refreshing. The queue is therefore
// non-empty only while a refresh is in flight.
type Coordinator struct {
	store     storage.CredentialStore
	refresher Refresher
	opts      options

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshOutcome
	cycles     uint64
	failures   uint64
}

// NewCoordinator creates a coordinator over store and refresher.
func NewCoordinator(store storage.CredentialStore, refresher Refresher, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator{
		store:     store,
		refresher: refresher,
		opts:      o,
	}
}

// Await handles an expired credential. stale is the access token the failed
// attempt was sent with. It returns the pair to replay with, or the refresh
// failure shared by every caller of the cycle.
//
// Waiters have no independent cancellation: they share the fate of the
// refresh they wait on, which is itself bounded by the refresh timeout.
func (c *Coordinator) Await(ctx context.Context, stale string) (*storage.CredentialPair, error) {
	c.mu.Lock()
	if c.refreshing {
		done := make(chan refreshOutcome, 1)
		c.waiters = append(c.waiters, done)
		waiting := len(c.waiters)
		c.mu.Unlock()

		c.opts.logger.Debug().Int("position", waiting).Msg("Waiting for in-flight token refresh")
		outcome := <-done
		return outcome.pair, outcome.err
	}

	if pair := c.newerCredential(ctx, stale); pair != nil {
		c.mu.Unlock()
		c.opts.logger.Debug().Msg("Credential already rotated by a settled refresh, replaying")
		return pair, nil
	}

	c.refreshing = true
	c.cycles++
	cycle := c.cycles
	c.mu.Unlock()

	outcome := refreshOutcome{err: &AuthError{
		Op:      "refresh_token",
		Message: "token refresh aborted",
		Err:     ErrRefreshFailed,
	}}
	defer func() {
		c.settle(cycle, outcome)
	}()

	outcome = c.refresh(ctx, cycle)
	return outcome.pair, outcome.err
}

// Stats returns a snapshot of the coordinator state.
func (c *Coordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CoordinatorStats{
		Cycles:     c.cycles,
		Failures:   c.failures,
		Waiting:    len(c.waiters),
		Refreshing: c.refreshing,
	}
}

// newerCredential returns the stored pair when it differs from the one the
// failed attempt used, meaning a refresh cycle has already settled since the
// attempt was sent. Called with mu held.
func (c *Coordinator) newerCredential(ctx context.Context, stale string) *storage.CredentialPair {
	pair, err := c.store.Load(ctx)
	if err != nil || pair.IsZero() || pair.AccessToken == stale {
		return nil
	}
	return pair
}

// refresh performs the single refresh call of a cycle and updates the store
// before any waiter is resumed.
func (c *Coordinator) refresh(ctx context.Context, cycle uint64) refreshOutcome {
	logger := c.opts.logger.With().Uint64("cycle", cycle).Logger()

	// The refresh is shared by every waiter, so the owner's cancellation
	// must not abort it. The timeout bounds only the refresh call; store
	// updates must still land after it expires.
	ctx = context.WithoutCancel(ctx)

	current, err := c.store.Load(ctx)
	if err != nil && !errors.Is(err, storage.ErrStorageNotFound) {
		return c.fail(ctx, logger, &AuthError{
			Op:      "load_token",
			Message: "failed to load stored credentials",
			Err:     fmt.Errorf("%w: %w", ErrRefreshFailed, err),
		})
	}
	if current == nil || current.RefreshToken == "" {
		return c.fail(ctx, logger, &AuthError{
			Op:      "refresh_token",
			Message: "token expired and no refresh token available",
			Err:     ErrNoRefreshToken,
		})
	}

	logger.Debug().Msg("Refreshing access token")
	started := time.Now()
	refreshCtx, cancel := context.WithTimeout(ctx, c.opts.refreshTimeout)
	defer cancel()
	next, err := c.refresher.Refresh(refreshCtx, current.RefreshToken)
	if err != nil {
		message := "failed to refresh token"
		if errors.Is(refreshCtx.Err(), context.DeadlineExceeded) {
			message = "token refresh timeout"
		}
		return c.fail(ctx, logger, &AuthError{
			Op:      "refresh_token",
			Message: message,
			Err:     fmt.Errorf("%w: %w", ErrRefreshFailed, err),
		})
	}
	if next == nil || next.Validate() != nil {
		return c.fail(ctx, logger, &AuthError{
			Op:      "refresh_token",
			Message: "refreshed credentials incomplete",
			Err:     fmt.Errorf("%w: %w", ErrRefreshFailed, ErrIncompleteRefresh),
		})
	}

	if err := c.store.Store(ctx, *next); err != nil {
		return c.fail(ctx, logger, &AuthError{
			Op:      "store_token",
			Message: "failed to store refreshed token",
			Err:     fmt.Errorf("%w: %w", ErrRefreshFailed, err),
		})
	}

	logger.Info().Dur("took", time.Since(started)).Msg("Access token refreshed")
	return refreshOutcome{pair: next}
}

// fail clears the store; the logout handler runs once the queue is settled.
func (c *Coordinator) fail(ctx context.Context, logger zerolog.Logger, err error) refreshOutcome {
	logger.Warn().Err(err).Msg("Token refresh failed, clearing credentials")
	if clearErr := c.store.Clear(ctx); clearErr != nil {
		logger.Error().Err(clearErr).Msg("Failed to clear credentials after refresh failure")
	}
	return refreshOutcome{err: err}
}

// settle drains the queue and resets refreshing in one critical section,
// then resumes waiters in FIFO order with the owner's outcome.
func (c *Coordinator) settle(cycle uint64, outcome refreshOutcome) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	if outcome.err != nil {
		c.failures++
	}
	c.mu.Unlock()

	for _, done := range waiters {
		done <- outcome
	}

	if outcome.err == nil {
		c.opts.logger.Debug().Uint64("cycle", cycle).Int("waiters", len(waiters)).Msg("Resumed waiters with refreshed credentials")
		return
	}

	c.opts.logger.Debug().Uint64("cycle", cycle).Int("waiters", len(waiters)).Msg("Rejected waiters after refresh failure")
	if c.opts.onLogout != nil {
		c.opts.onLogout()
	}
}
