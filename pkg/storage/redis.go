package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d-kuro/crmclient/pkg/constants"
)

const (
	redisFieldAccess  = "access_token"
	redisFieldRefresh = "refresh_token"
)

// ErrRedisUnavailable is returned when the redis server cannot be reached.
var ErrRedisUnavailable = errors.New("redis unavailable")

// RedisStore keeps the pair in a single redis hash so both tokens change in
// one command. Useful when several processes share a session.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisKey overrides the hash key.
func WithRedisKey(key string) RedisStoreOption {
	return func(s *RedisStore) {
		s.key = key
	}
}

// WithRedisTTL expires the stored pair after ttl. Zero keeps it forever.
func WithRedisTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a store on top of an existing redis client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		key:    constants.DefaultRedisKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load implements CredentialStore.Load.
func (s *RedisStore) Load(ctx context.Context) (*CredentialPair, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStorageNotFound
		}
		return nil, fmt.Errorf("failed to load credentials from %s: %w: %v", s.key, ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no credentials at %s: %w", s.key, ErrStorageNotFound)
	}

	pair := &CredentialPair{
		AccessToken:  fields[redisFieldAccess],
		RefreshToken: fields[redisFieldRefresh],
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("credentials at %s have no access token: %w", s.key, ErrStorageCorrupted)
	}
	return pair, nil
}

// Store implements CredentialStore.Store.
func (s *RedisStore) Store(ctx context.Context, pair CredentialPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, redisFieldAccess, pair.AccessToken, redisFieldRefresh, pair.RefreshToken)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		} else {
			pipe.Persist(ctx, s.key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store credentials at %s: %w: %v", s.key, ErrRedisUnavailable, err)
	}
	return nil
}

// Clear implements CredentialStore.Clear.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear credentials at %s: %w: %v", s.key, ErrRedisUnavailable, err)
	}
	return nil
}

// HasCredentials implements CredentialStore.HasCredentials.
func (s *RedisStore) HasCredentials(ctx context.Context) bool {
	n, err := s.client.Exists(ctx, s.key).Result()
	return err == nil && n > 0
}

// GetStoragePath implements CredentialStore.GetStoragePath.
func (s *RedisStore) GetStoragePath() string {
	return "redis://" + s.key
}
