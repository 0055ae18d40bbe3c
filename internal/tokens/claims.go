package tokens

import "github.com/golang-jwt/jwt/v5"

// UserSummary is the identity snapshot embedded in every auth token.
type UserSummary struct {
	Email  string `json:"email"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type Claims struct {
	User    UserSummary `json:"user"`
	Refresh bool        `json:"refresh"`
	jwt.RegisteredClaims
}

type purposeClaims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}
