package guard

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/bookly/internal/domain"
	"github.com/Skotchmaster/bookly/internal/logging"
	"github.com/Skotchmaster/bookly/internal/tokens"
)

type Variant int

const (
	Access Variant = iota
	Refresh
)

func (v Variant) String() string {
	if v == Refresh {
		return "refresh"
	}
	return "access"
}

const claimsKey = "auth_claims"

type Verifier interface {
	Verify(token string) (*tokens.Claims, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Guard admits requests bearing a valid, unrevoked token of one kind.
type Guard struct {
	variant Variant
	codec   Verifier
	revoked RevocationChecker
}

func New(variant Variant, codec Verifier, revoked RevocationChecker) *Guard {
	return &Guard{variant: variant, codec: codec, revoked: revoked}
}

func (g *Guard) Variant() Variant { return g.variant }

// Check validates an Authorization header value and returns the token claims.
func (g *Guard) Check(ctx context.Context, header string) (*tokens.Claims, error) {
	raw, ok := bearer(header)
	if !ok {
		return nil, domain.ErrNotAuthenticated
	}

	claims, err := g.codec.Verify(raw)
	if err != nil {
		return nil, err
	}

	switch {
	case g.variant == Access && claims.Refresh:
		return nil, domain.ErrAccessTokenRequired
	case g.variant == Refresh && !claims.Refresh:
		return nil, domain.ErrRefreshTokenRequired
	}

	revoked, err := g.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, domain.ErrRevokedToken
	}

	return claims, nil
}

func (g *Guard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			claims, err := g.Check(ctx, c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				logging.FromContext(ctx).Warnw("token_rejected", "guard", g.variant.String(), "reason", err.Error())
				return err
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// ClaimsFrom returns the claims stored by a guard earlier in the chain.
func ClaimsFrom(c echo.Context) (*tokens.Claims, bool) {
	claims, ok := c.Get(claimsKey).(*tokens.Claims)
	return claims, ok && claims != nil
}

func bearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
