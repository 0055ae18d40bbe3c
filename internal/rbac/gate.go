package rbac

import (
	"slices"

	"github.com/Skotchmaster/bookly/internal/domain"
	"github.com/Skotchmaster/bookly/internal/models"
)

// Gate is an immutable allow-list of roles.
type Gate struct {
	roles           []string
	requireVerified bool
}

func NewGate(roles ...string) *Gate {
	return &Gate{roles: slices.Clone(roles)}
}

// RequireVerified returns a copy of g that also rejects unverified accounts.
func (g *Gate) RequireVerified() *Gate {
	return &Gate{roles: g.roles, requireVerified: true}
}

func (g *Gate) Roles() []string { return slices.Clone(g.roles) }

func (g *Gate) Allows(user *models.User) bool {
	return user != nil && slices.Contains(g.roles, user.Role)
}

func (g *Gate) Authorize(user *models.User) error {
	if user == nil {
		return domain.ErrNotAuthenticated
	}
	if g.requireVerified && !user.IsVerified {
		return domain.ErrAccountNotVerified
	}
	if !g.Allows(user) {
		return domain.ErrInsufficientPermission
	}
	return nil
}
