package identity

import (
	"context"
	"errors"
	"time"

	"github.com/Skotchmaster/bookly/internal/domain"
	"github.com/Skotchmaster/bookly/internal/models"
	"github.com/Skotchmaster/bookly/internal/tokens"
)

type UserFinder interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Resolver loads the current account behind verified claims.
type Resolver struct {
	users   UserFinder
	timeout time.Duration
}

func NewResolver(users UserFinder, timeout time.Duration) *Resolver {
	return &Resolver{users: users, timeout: timeout}
}

func (r *Resolver) Resolve(ctx context.Context, claims *tokens.Claims) (*models.User, error) {
	if claims == nil || claims.User.Email == "" {
		return nil, domain.ErrInvalidToken
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	user, err := r.users.FindUserByEmail(ctx, claims.User.Email)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded):
		return nil, domain.Unavailable("resolve_user", err)
	case errors.Is(err, domain.ErrInternal):
		return nil, err
	case err != nil:
		return nil, domain.Internal("resolve_user", err)
	case user == nil:
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}
