package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skotchmaster/bookly/internal/domain"
)

var ErrNegativeTTL = errors.New("token ttl must not be negative")

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for issuing and checking expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	}
	return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
}

type Codec struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

func NewCodec(secret []byte, alg string, accessTTL, refreshTTL time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	return &Codec{
		secret:     secret,
		method:     method,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        o.now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(o.now),
		),
	}, nil
}

// Issue signs a new token for user. A zero ttl selects the default for the kind.
func (c *Codec) Issue(user UserSummary, ttl time.Duration, refresh bool) (string, *Claims, error) {
	if ttl < 0 {
		return "", nil, ErrNegativeTTL
	}
	if ttl == 0 {
		ttl = c.accessTTL
		if refresh {
			ttl = c.refreshTTL
		}
	}

	now := c.now()
	claims := &Claims{
		User:    user,
		Refresh: refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

func (c *Codec) Verify(token string) (*Claims, error) {
	var claims Claims
	_, err := c.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if claims.ID == "" || claims.User.Email == "" {
		return nil, domain.ErrInvalidToken
	}
	return &claims, nil
}

// Remaining is how long claims stay valid from now, never negative.
func (c *Codec) Remaining(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	return max(claims.ExpiresAt.Time.Sub(c.now()), 0)
}

func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
}
