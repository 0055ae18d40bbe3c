package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/bookly/internal/domain"
	"github.com/Skotchmaster/bookly/internal/logging"
)

type ErrorResponse struct {
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code"`
	Resolution string `json:"resolution,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type errorEntry struct {
	err    error
	status int
	body   ErrorResponse
}

// errorTable is matched top to bottom with errors.Is, so wrapped kinds
// (ErrMalformedToken, ErrStoreUnavailable) come before their parents.
var errorTable = []errorEntry{
	{domain.ErrValidation, http.StatusBadRequest, ErrorResponse{Message: "Invalid request", ErrorCode: "validation_error"}},
	{domain.ErrInvalidCredentials, http.StatusBadRequest, ErrorResponse{Message: "Invalid Email Or Password", ErrorCode: "invalid_email_or_password"}},
	{domain.ErrPasswordMismatch, http.StatusBadRequest, ErrorResponse{Message: "User password do not match", ErrorCode: "password_not_match"}},
	{domain.ErrNotAuthenticated, http.StatusUnauthorized, ErrorResponse{Message: "Not authenticated", ErrorCode: "not_authenticated", Resolution: "Send an Authorization: Bearer <token> header"}},
	{domain.ErrMalformedToken, http.StatusUnauthorized, ErrorResponse{Message: "Token is malformed", ErrorCode: "malformed_token", Resolution: "Please get new token"}},
	{domain.ErrInvalidToken, http.StatusUnauthorized, ErrorResponse{Message: "Token is invalid Or expired", ErrorCode: "invalid_token", Resolution: "Please get new token"}},
	{domain.ErrRevokedToken, http.StatusUnauthorized, ErrorResponse{Message: "Token is invalid or has been revoked", ErrorCode: "token_revoked", Resolution: "Please get new token"}},
	{domain.ErrAccessTokenRequired, http.StatusUnauthorized, ErrorResponse{Message: "Please provide a valid access token", ErrorCode: "access_token_required", Resolution: "Please get an access token"}},
	{domain.ErrRefreshTokenRequired, http.StatusForbidden, ErrorResponse{Message: "Please provide a valid refresh token", ErrorCode: "refresh_token_required", Resolution: "Please get an refresh token"}},
	{domain.ErrInsufficientPermission, http.StatusForbidden, ErrorResponse{Message: "You do not have enough permissions to perform this action", ErrorCode: "insufficient_permissions"}},
	{domain.ErrAccountNotVerified, http.StatusForbidden, ErrorResponse{Message: "User account not verified", ErrorCode: "account_not_verified", Resolution: "please check your email and verify your account"}},
	{domain.ErrUserNotFound, http.StatusNotFound, ErrorResponse{Message: "User not found", ErrorCode: "user_not_found"}},
	{domain.ErrUserAlreadyExists, http.StatusConflict, ErrorResponse{Message: "User with email already exists", ErrorCode: "user_exists"}},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, ErrorResponse{Message: "Service temporarily unavailable", ErrorCode: "service_unavailable", Resolution: "Please retry shortly"}},
	{domain.ErrInternal, http.StatusInternalServerError, ErrorResponse{Message: "Oops! Something went wrong", ErrorCode: "server_error"}},
}

var internalError = ErrorResponse{Message: "Oops! Something went wrong", ErrorCode: "server_error"}

// Lookup maps err to its status and response body. Unknown errors are 500.
func Lookup(err error) (int, ErrorResponse) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			body := e.body
			if e.err == domain.ErrValidation {
				body.Detail = validationDetail(err)
			}
			return e.status, body
		}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		return he.Code, ErrorResponse{Message: msg, ErrorCode: strings.ReplaceAll(strings.ToLower(http.StatusText(he.Code)), " ", "_")}
	}

	return http.StatusInternalServerError, internalError
}

func validationDetail(err error) string {
	_, detail, found := strings.Cut(err.Error(), domain.ErrValidation.Error()+": ")
	if !found {
		return ""
	}
	return detail
}

// ErrorHandler renders errors through Lookup; it is installed as echo's HTTPErrorHandler.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := Lookup(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Errorw("request_failed", "status", status, "error", err)
	}
	switch status {
	case http.StatusUnauthorized:
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	case http.StatusServiceUnavailable:
		c.Response().Header().Set("Retry-After", "1")
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, body)
	}
	if werr != nil {
		logging.FromContext(c.Request().Context()).Errorw("error_response_failed", "error", werr)
	}
}
