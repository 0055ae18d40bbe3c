package tokens

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/Skotchmaster/bookly/internal/domain"
)

const (
	PurposeEmailVerification = "email-verification"
	PurposePasswordReset     = "password-reset"
)

const derivedKeyInfo = "bookly purpose token"

// PurposeCodec signs single-purpose email tokens with a key derived from
// the process secret, so tokens of one purpose never verify as another.
type PurposeCodec struct {
	purpose string
	key     []byte
	maxAge  time.Duration
	now     func() time.Time
	parser  *jwt.Parser
}

func NewPurposeCodec(secret []byte, purpose string, maxAge time.Duration, opts ...Option) (*PurposeCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	if purpose == "" {
		return nil, errors.New("token purpose is empty")
	}
	if maxAge <= 0 {
		return nil, errors.New("purpose token max age must be positive")
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte(purpose), []byte(derivedKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	o := buildOptions(opts)

	return &PurposeCodec{
		purpose: purpose,
		key:     key,
		maxAge:  maxAge,
		now:     o.now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(o.now),
		),
	}, nil
}

func (p *PurposeCodec) Purpose() string { return p.purpose }

func (p *PurposeCodec) Issue(email string) (string, error) {
	now := p.now()
	claims := purposeClaims{
		Email:   email,
		Purpose: p.purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.maxAge)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", p.purpose, err)
	}
	return signed, nil
}

// Decode returns the email a token was issued for.
func (p *PurposeCodec) Decode(token string) (string, error) {
	var claims purposeClaims
	_, err := p.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.key, nil
	})
	if err != nil {
		return "", classify(err)
	}
	if claims.Purpose != p.purpose || claims.Email == "" {
		return "", domain.ErrInvalidToken
	}
	return claims.Email, nil
}
