package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Skotchmaster/bookly/internal/domain"
)

const (
	keyPrefix         = "jti:"
	defaultRetryDelay = 100 * time.Millisecond
)

var ErrEmptyJTI = errors.New("jti is empty")

// Cache is a key-value store with per-key expiry.
type Cache interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// Store records revoked token ids until the tokens would have expired anyway.
type Store struct {
	cache      Cache
	retryDelay time.Duration
	timeout    time.Duration
}

type Option func(*Store)

func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) { s.retryDelay = d }
}

// WithTimeout bounds each attempt against the cache. Zero leaves attempts
// bounded only by the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func NewStore(cache Cache, opts ...Option) *Store {
	s := &Store{cache: cache, retryDelay: defaultRetryDelay}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Revoke marks jti as revoked for ttl. A non-positive ttl is a no-op.
func (s *Store) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return ErrEmptyJTI
	}
	if ttl <= 0 {
		return nil
	}
	_, err := retryOnce(ctx, s.retryDelay, s.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.cache.SetWithTTL(ctx, keyPrefix+jti, "", ttl)
	})
	if err != nil {
		return domain.Unavailable("revoke", err)
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, ErrEmptyJTI
	}
	found, err := retryOnce(ctx, s.retryDelay, s.timeout, func(ctx context.Context) (bool, error) {
		_, ok, err := s.cache.Get(ctx, keyPrefix+jti)
		return ok, err
	})
	if err != nil {
		return false, domain.Unavailable("is_revoked", err)
	}
	return found, nil
}

func retryOnce[T any](ctx context.Context, delay, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		attemptCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		v, err := op(attemptCtx)
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(2),
	)
}
