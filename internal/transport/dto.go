package transport

import (
	"time"

	"github.com/Skotchmaster/bookly/internal/models"
)

type SignupRequest struct {
	Username  string `json:"username"   validate:"required,max=8"`
	Email     string `json:"email"      validate:"required,email,max=40"`
	FirstName string `json:"first_name" validate:"max=25"`
	LastName  string `json:"last_name"  validate:"max=25"`
	Password  string `json:"password"   validate:"required,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type PasswordResetConfirmRequest struct {
	NewPassword     string `json:"new_password"     validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

type UserSummary struct {
	Email string `json:"email"`
	ID    string `json:"id"`
}

type LoginResponse struct {
	Message      string      `json:"message"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	AccessExp    time.Time   `json:"access_expires_at"`
	RefreshExp   time.Time   `json:"refresh_expires_at"`
	User         UserSummary `json:"user"`
}

type RefreshResponse struct {
	AccessToken string    `json:"access_token"`
	AccessExp   time.Time `json:"access_expires_at"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type UserListResponse struct {
	Items []models.User `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Size  int           `json:"size"`
}
