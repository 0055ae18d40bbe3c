package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/bookly/internal/domain"
	"github.com/Skotchmaster/bookly/internal/guard"
	"github.com/Skotchmaster/bookly/internal/logging"
	authmw "github.com/Skotchmaster/bookly/internal/middleware/auth"
	"github.com/Skotchmaster/bookly/internal/service"
	"github.com/Skotchmaster/bookly/internal/transport"
)

type AuthHandler struct {
	Svc *service.AuthService
}

func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: invalid body", domain.ErrValidation)
	}
	return c.Validate(req)
}

func (h *AuthHandler) Signup(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_signup")

	var req transport.SignupRequest
	if err := bind(c, &req); err != nil {
		l.Warnw("signup_error", "status", 400, "error", err)
		return err
	}

	user, err := h.Svc.Signup(ctx, service.SignupInput{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Account Created! Check email to verify your account",
		"user":    user,
	})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	if err := h.Svc.VerifyEmail(c.Request().Context(), c.Param("token")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.MessageResponse{Message: "Account verified successfully"})
}

func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req transport.EmailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.Svc.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.MessageResponse{Message: "Please check your email for instructions to verify your account"})
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req transport.LoginRequest
	if err := bind(c, &req); err != nil {
		l.Warnw("login_error", "status", 400, "error", err)
		return err
	}

	res, err := h.Svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, transport.LoginResponse{
		Message:      "Logged in successfully",
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		AccessExp:    res.AccessExp,
		RefreshExp:   res.RefreshExp,
		User:         transport.UserSummary{Email: res.User.Email, ID: res.User.ID.String()},
	})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	claims, ok := guard.ClaimsFrom(c)
	if !ok {
		return domain.ErrRefreshTokenRequired
	}
	res, err := h.Svc.Refresh(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.RefreshResponse{AccessToken: res.AccessToken, AccessExp: res.AccessExp})
}

func (h *AuthHandler) Me(c echo.Context) error {
	user, ok := authmw.UserFrom(c)
	if !ok {
		return domain.ErrNotAuthenticated
	}
	return c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) Logout(c echo.Context) error {
	claims, ok := guard.ClaimsFrom(c)
	if !ok {
		return domain.ErrAccessTokenRequired
	}
	if err := h.Svc.Logout(c.Request().Context(), claims); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.MessageResponse{Message: "Logged Out Successfully"})
}

func (h *AuthHandler) PasswordResetRequest(c echo.Context) error {
	var req transport.EmailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.Svc.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.MessageResponse{Message: "Please check your email for instructions to reset your password"})
}

func (h *AuthHandler) PasswordResetConfirm(c echo.Context) error {
	var req transport.PasswordResetConfirmRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: invalid body", domain.ErrValidation)
	}
	if req.NewPassword != req.ConfirmPassword {
		return domain.ErrPasswordMismatch
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := h.Svc.ConfirmPasswordReset(c.Request().Context(), c.Param("token"), req.NewPassword, req.ConfirmPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.MessageResponse{Message: "Password reset Successfully"})
}
