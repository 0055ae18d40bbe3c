package auth

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/bookly/internal/domain"
	"github.com/Skotchmaster/bookly/internal/guard"
	"github.com/Skotchmaster/bookly/internal/logging"
	"github.com/Skotchmaster/bookly/internal/models"
	"github.com/Skotchmaster/bookly/internal/rbac"
	"github.com/Skotchmaster/bookly/internal/tokens"
)

const CtxUser = "current_user"

type Resolver interface {
	Resolve(ctx context.Context, claims *tokens.Claims) (*models.User, error)
}

// Protect chains the access guard, identity lookup and role gate.
type Protect struct {
	Guard    *guard.Guard
	Resolver Resolver
}

func (p *Protect) RequireRole(gate *rbac.Gate) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{p.Guard.Middleware(), p.loadUser, requireGate(gate)}
}

func (p *Protect) loadUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := guard.ClaimsFrom(c)
		if !ok {
			return domain.ErrNotAuthenticated
		}
		user, err := p.Resolver.Resolve(c.Request().Context(), claims)
		if err != nil {
			return err
		}
		c.Set(CtxUser, user)
		return next(c)
	}
}

func requireGate(gate *rbac.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, _ := UserFrom(c)
			if err := gate.Authorize(user); err != nil {
				logging.FromContext(c.Request().Context()).Warnw("access_denied", "roles", gate.Roles(), "reason", err.Error())
				return err
			}
			return next(c)
		}
	}
}

func UserFrom(c echo.Context) (*models.User, bool) {
	u, ok := c.Get(CtxUser).(*models.User)
	return u, ok && u != nil
}
