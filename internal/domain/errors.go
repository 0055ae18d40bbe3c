package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrInvalidToken           = errors.New("token is invalid or expired")
	ErrMalformedToken         = fmt.Errorf("%w: malformed token", ErrInvalidToken)
	ErrRevokedToken           = errors.New("token has been revoked")
	ErrAccessTokenRequired    = errors.New("access token required")
	ErrRefreshTokenRequired   = errors.New("refresh token required")
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrUserAlreadyExists      = errors.New("user already exists")
	ErrUserNotFound           = errors.New("user not found")
	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrPasswordMismatch       = errors.New("passwords do not match")
	ErrAccountNotVerified     = errors.New("account not verified")
	ErrValidation             = errors.New("validation failed")
	ErrInternal               = errors.New("internal error")

	// ErrStoreUnavailable is an ErrInternal the caller may retry.
	ErrStoreUnavailable = fmt.Errorf("%w: store unavailable", ErrInternal)
)

// Internal wraps a low-level failure so it never leaves the service unnamed.
func Internal(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
}

// Unavailable wraps a storage failure that is worth retrying.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
