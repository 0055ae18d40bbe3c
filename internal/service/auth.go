package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Skotchmaster/bookly/internal/domain"
	"github.com/Skotchmaster/bookly/internal/hash"
	"github.com/Skotchmaster/bookly/internal/logging"
	"github.com/Skotchmaster/bookly/internal/mailer"
	"github.com/Skotchmaster/bookly/internal/models"
	"github.com/Skotchmaster/bookly/internal/tokens"
	"github.com/Skotchmaster/bookly/internal/util"
)

const MinPasswordLen = 6

type UserRepository interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	Save(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context, offset, limit int) ([]models.User, int64, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

type TokenCodec interface {
	Issue(user tokens.UserSummary, ttl time.Duration, refresh bool) (string, *tokens.Claims, error)
	Remaining(claims *tokens.Claims) time.Duration
}

type PurposeTokens interface {
	Issue(email string) (string, error)
	Decode(token string) (string, error)
}

type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

type Options struct {
	Domain      string
	EventsTopic string
	MailTimeout time.Duration

	// StoreTimeout bounds each repository call. Zero leaves calls bounded
	// only by the caller's context.
	StoreTimeout time.Duration

	// JTIExpiry bounds a revocation when the token carries no expiry.
	JTIExpiry time.Duration
}

type AuthService struct {
	Repo         UserRepository
	Hasher       PasswordHasher
	Tokens       TokenCodec
	Verification PurposeTokens
	Reset        PurposeTokens
	Revocations  Revoker
	Mailer       mailer.Mailer
	Events       EventPublisher
	Opts         Options

	dummyOnce sync.Once
	dummyHash string
}

type SignupInput struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
	User         *models.User
}

type RefreshResult struct {
	AccessToken string
	AccessExp   time.Time
}

type UserPage struct {
	Users []models.User
	Total int64
	Page  int
	Size  int
}

type UserEvent struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	Email  string    `json:"email"`
	At     time.Time `json:"at"`
}

const (
	EventUserRegistered = "user_registered"
	EventUserLoggedIn   = "user_logged_in"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, MinPasswordLen)
	}
	if len(password) > hash.MaxPasswordLen {
		return fmt.Errorf("%w: password must be at most %d bytes", domain.ErrValidation, hash.MaxPasswordLen)
	}
	return nil
}

func summaryOf(u *models.User) tokens.UserSummary {
	return tokens.UserSummary{Email: u.Email, UserID: u.ID.String(), Role: u.Role}
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.signup")

	in.Email = normalizeEmail(in.Email)
	if in.Email == "" || strings.TrimSpace(in.Username) == "" {
		return nil, fmt.Errorf("%w: username and email are required", domain.ErrValidation)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	_, err := s.findUser(ctx, in.Email)
	switch {
	case err == nil:
		l.Warnw("signup_failed", "status", 409, "reason", "user already exists")
		return nil, domain.ErrUserAlreadyExists
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, err
	}

	pwHash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		l.Errorw("signup_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, domain.Internal("signup", err)
	}

	user := &models.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         models.RoleUser,
		PasswordHash: pwHash,
	}
	if err := s.save(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			l.Warnw("signup_failed", "status", 409, "reason", "user already exists")
			return nil, err
		}
		l.Errorw("signup_failed", "status", 500, "error", err)
		return nil, storeError("signup", err)
	}

	s.sendVerification(ctx, user.Email)
	s.publish(ctx, EventUserRegistered, user)

	l.Infow("signup_successful", "user_id", user.ID.String())
	return user, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	l := logging.FromContext(ctx).With("svc", "auth.verify_email")

	email, err := s.Verification.Decode(token)
	if err != nil {
		l.Warnw("verify_failed", "status", 401, "reason", err.Error())
		return err
	}

	user, err := s.findUser(ctx, email)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return nil
	}

	user.IsVerified = true
	if err := s.save(ctx, user); err != nil {
		l.Errorw("verify_failed", "status", 500, "error", err)
		return storeError("verify_email", err)
	}

	l.Infow("email_verified", "user_id", user.ID.String())
	return nil
}

// ResendVerification mails a fresh verification link. Unknown and already
// verified addresses succeed silently.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.findUser(ctx, email)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return nil
	case err != nil:
		return err
	}
	if !user.IsVerified {
		s.sendVerification(ctx, user.Email)
	}
	return nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	user, err := s.findUser(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.verifyDummy(password)
			l.Warnw("login_failed", "status", 400, "reason", "invalid email or password")
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.Hasher.Verify(password, user.PasswordHash) {
		l.Warnw("login_failed", "status", 400, "reason", "invalid email or password", "user_id", user.ID.String())
		return nil, domain.ErrInvalidCredentials
	}

	summary := summaryOf(user)
	access, accessClaims, err := s.Tokens.Issue(summary, 0, false)
	if err != nil {
		l.Errorw("login_failed", "status", 500, "error", err)
		return nil, domain.Internal("login", err)
	}
	refresh, refreshClaims, err := s.Tokens.Issue(summary, 0, true)
	if err != nil {
		l.Errorw("login_failed", "status", 500, "error", err)
		return nil, domain.Internal("login", err)
	}

	s.publish(ctx, EventUserLoggedIn, user)
	l.Infow("login_successful", "user_id", user.ID.String())

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessClaims.ExpiresAt.Time,
		RefreshExp:   refreshClaims.ExpiresAt.Time,
		User:         user,
	}, nil
}

// Refresh issues a new access token from claims already admitted by a refresh guard.
func (s *AuthService) Refresh(ctx context.Context, claims *tokens.Claims) (*RefreshResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	if claims == nil || !claims.Refresh {
		return nil, domain.ErrRefreshTokenRequired
	}
	if s.Tokens.Remaining(claims) <= 0 {
		l.Warnw("refresh_failed", "status", 401, "reason", "refresh token expired")
		return nil, domain.ErrInvalidToken
	}

	access, accessClaims, err := s.Tokens.Issue(claims.User, 0, false)
	if err != nil {
		l.Errorw("refresh_failed", "status", 500, "error", err)
		return nil, domain.Internal("refresh", err)
	}

	return &RefreshResult{AccessToken: access, AccessExp: accessClaims.ExpiresAt.Time}, nil
}

// Logout revokes the presented token for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, claims *tokens.Claims) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout")

	if claims == nil || claims.ID == "" {
		return domain.ErrInvalidToken
	}

	ttl := s.Opts.JTIExpiry
	if claims.ExpiresAt != nil {
		ttl = s.Tokens.Remaining(claims)
	}
	if err := s.Revocations.Revoke(ctx, claims.ID, ttl); err != nil {
		l.Errorw("logout_failed", "status", 503, "reason", "cannot revoke token", "error", err)
		if errors.Is(err, domain.ErrInternal) {
			return err
		}
		return domain.Internal("logout", err)
	}

	l.Infow("successful_logout", "user_id", claims.User.UserID)
	return nil
}

// RequestPasswordReset never reveals whether email belongs to an account.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	l := logging.FromContext(ctx).With("svc", "auth.password_reset_request")

	user, err := s.findUser(ctx, email)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		l.Infow("password_reset_skipped", "reason", "unknown email")
		return nil
	case err != nil:
		return err
	}

	token, err := s.Reset.Issue(user.Email)
	if err != nil {
		l.Errorw("password_reset_failed", "status", 500, "error", err)
		return domain.Internal("password_reset_request", err)
	}
	s.dispatch(ctx, user.Email, mailer.SubjectPasswordReset, mailer.PasswordResetBody(s.Opts.Domain, token))
	return nil
}

func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword, confirmPassword string) error {
	l := logging.FromContext(ctx).With("svc", "auth.password_reset_confirm")

	if newPassword != confirmPassword {
		return domain.ErrPasswordMismatch
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	email, err := s.Reset.Decode(token)
	if err != nil {
		l.Warnw("password_reset_failed", "status", 401, "reason", err.Error())
		return err
	}

	user, err := s.findUser(ctx, email)
	if err != nil {
		return err
	}

	pwHash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		l.Errorw("password_reset_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return domain.Internal("password_reset_confirm", err)
	}
	user.PasswordHash = pwHash
	if err := s.save(ctx, user); err != nil {
		l.Errorw("password_reset_failed", "status", 500, "error", err)
		return storeError("password_reset_confirm", err)
	}

	l.Infow("password_reset_successful", "user_id", user.ID.String())
	return nil
}

func (s *AuthService) ListUsers(ctx context.Context, page, size int) (*UserPage, error) {
	offset, limit := util.Calculate(page, size)
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	users, total, err := s.Repo.ListUsers(sctx, offset, limit)
	if err != nil {
		logging.FromContext(ctx).Errorw("list_users_failed", "status", 500, "error", err)
		return nil, storeError("list_users", err)
	}
	return &UserPage{Users: users, Total: total, Page: offset/limit + 1, Size: limit}, nil
}

func (s *AuthService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Opts.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Opts.StoreTimeout)
}

// storeError maps a repository failure to Unavailable on timeout and Internal otherwise.
func storeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Unavailable(op, err)
	}
	return domain.Internal(op, err)
}

func (s *AuthService) findUser(ctx context.Context, email string) (*models.User, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	user, err := s.Repo.FindUserByEmail(sctx, normalizeEmail(email))
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, domain.ErrUserNotFound):
		return nil, err
	default:
		logging.FromContext(ctx).Errorw("user_lookup_failed", "status", 500, "error", err)
		return nil, storeError("find_user", err)
	}
}

func (s *AuthService) save(ctx context.Context, u *models.User) error {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.Repo.Save(sctx, u)
}

// verifyDummy spends the same bcrypt work as a real password check.
func (s *AuthService) verifyDummy(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash("bookly-unknown-account")
	})
	s.Hasher.Verify(password, s.dummyHash)
}

func (s *AuthService) sendVerification(ctx context.Context, email string) {
	token, err := s.Verification.Issue(email)
	if err != nil {
		logging.FromContext(ctx).Errorw("verification_mail_failed", "error", err)
		return
	}
	s.dispatch(ctx, email, mailer.SubjectVerifyEmail, mailer.VerificationBody(s.Opts.Domain, token))
}

func (s *AuthService) dispatch(ctx context.Context, to, subject, body string) {
	if s.Mailer == nil {
		return
	}
	timeout := s.Opts.MailTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mailer.Dispatch(ctx, s.Mailer, timeout, []string{to}, subject, body)
}

func (s *AuthService) publish(ctx context.Context, eventType string, u *models.User) {
	if s.Events == nil || s.Opts.EventsTopic == "" {
		return
	}
	ev := UserEvent{Type: eventType, UserID: u.ID.String(), Email: u.Email, At: time.Now().UTC()}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.Events.PublishEvent(ctx, s.Opts.EventsTopic, ev.UserID, ev); err != nil {
			logging.FromContext(ctx).Warnw("event_publish_failed", "type", eventType, "error", err)
		}
	}()
}
