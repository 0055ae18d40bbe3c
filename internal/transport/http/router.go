package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Skotchmaster/bookly/internal/guard"
	"github.com/Skotchmaster/bookly/internal/handlers"
	authmw "github.com/Skotchmaster/bookly/internal/middleware/auth"
	loggingmw "github.com/Skotchmaster/bookly/internal/middleware/logging"
	"github.com/Skotchmaster/bookly/internal/models"
	"github.com/Skotchmaster/bookly/internal/rbac"
	"github.com/Skotchmaster/bookly/internal/transport"
)

type Deps struct {
	AuthHandler  *handlers.AuthHandler
	AdminHandler *handlers.AdminHandler
	AccessGuard  *guard.Guard
	RefreshGuard *guard.Guard
	Resolver     authmw.Resolver
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

// New builds the echo instance with the shared middleware stack and routes.
func New(log *zap.SugaredLogger, d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = transport.NewValidator()
	e.HTTPErrorHandler = ErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID(), loggingmw.RequestLogger(log))

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(c.Request().Context()); err != nil {
				return c.NoContent(http.StatusServiceUnavailable)
			}
		}
		return c.NoContent(http.StatusOK)
	})

	protect := &authmw.Protect{Guard: d.AccessGuard, Resolver: d.Resolver}
	members := rbac.NewGate(models.RoleAdmin, models.RoleUser).RequireVerified()
	admins := rbac.NewGate(models.RoleAdmin)

	v1 := e.Group("/api/v1")

	auth := v1.Group("/auth")
	auth.POST("/signup", d.AuthHandler.Signup)
	auth.GET("/verify/:token", d.AuthHandler.VerifyEmail)
	auth.POST("/resend-verification", d.AuthHandler.ResendVerification)
	auth.POST("/login", d.AuthHandler.Login)
	auth.GET("/refresh_token", d.AuthHandler.Refresh, d.RefreshGuard.Middleware())
	auth.GET("/me", d.AuthHandler.Me, protect.RequireRole(members)...)
	auth.GET("/logout", d.AuthHandler.Logout, d.AccessGuard.Middleware())
	auth.POST("/password-reset-request", d.AuthHandler.PasswordResetRequest)
	auth.POST("/password-reset-confirm/:token", d.AuthHandler.PasswordResetConfirm)

	admin := v1.Group("/admin", protect.RequireRole(admins)...)
	admin.GET("/users", d.AdminHandler.ListUsers)
}
