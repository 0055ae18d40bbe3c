package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Skotchmaster/bookly/internal/domain"
	"github.com/Skotchmaster/bookly/internal/guard"
	"github.com/Skotchmaster/bookly/internal/hash"
	"github.com/Skotchmaster/bookly/internal/identity"
	"github.com/Skotchmaster/bookly/internal/models"
	"github.com/Skotchmaster/bookly/internal/rbac"
	"github.com/Skotchmaster/bookly/internal/repo"
	"github.com/Skotchmaster/bookly/internal/revocation"
	"github.com/Skotchmaster/bookly/internal/tokens"
)

var secret = []byte("test-jwt-secret")

type sentMail struct {
	To      []string
	Subject string
	HTML    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	ch   chan sentMail
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{ch: make(chan sentMail, 16)}
}

func (m *fakeMailer) Send(_ context.Context, to []string, subject, html string) error {
	mail := sentMail{To: to, Subject: subject, HTML: html}
	m.mu.Lock()
	m.sent = append(m.sent, mail)
	m.mu.Unlock()
	m.ch <- mail
	return nil
}

func (m *fakeMailer) wait(t *testing.T) sentMail {
	t.Helper()
	select {
	case mail := <-m.ch:
		return mail
	case <-time.After(2 * time.Second):
		t.Fatal("no mail dispatched")
		return sentMail{}
	}
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []UserEvent
}

func (p *fakeEvents) PublishEvent(_ context.Context, _, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := event.(UserEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *fakeEvents) waitFor(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(p.types()) >= n }, 2*time.Second, 5*time.Millisecond)
	return p.types()
}

func (p *fakeEvents) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	svc      *AuthService
	db       *gorm.DB
	repo     *repo.GormRepo
	codec    *tokens.Codec
	store    *revocation.Store
	access   *guard.Guard
	refresh  *guard.Guard
	resolver *identity.Resolver
	mail     *fakeMailer
	events   *fakeEvents
	clock    *clock
	mini     *miniredis.Miniredis
}

func InitTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err, "failed to connect to in-memory db")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}), "failed to migrate tables")
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clk := &clock{t: time.Now().UTC().Truncate(time.Second)}
	codec, err := tokens.NewCodec(secret, "HS256", 15*time.Minute, 7*24*time.Hour, tokens.WithClock(clk.Now))
	require.NoError(t, err)
	verification, err := tokens.NewPurposeCodec(secret, tokens.PurposeEmailVerification, 24*time.Hour, tokens.WithClock(clk.Now))
	require.NoError(t, err)
	reset, err := tokens.NewPurposeCodec(secret, tokens.PurposePasswordReset, 24*time.Hour, tokens.WithClock(clk.Now))
	require.NoError(t, err)

	mini := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mini.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	store := revocation.NewStore(revocation.NewRedisCache(rdb), revocation.WithRetryDelay(time.Millisecond))

	db := InitTestDB(t)
	r := repo.NewGormRepo(db)
	mail := newFakeMailer()
	events := &fakeEvents{}

	svc := &AuthService{
		Repo:         r,
		Hasher:       hash.NewHasher(bcrypt.MinCost),
		Tokens:       codec,
		Verification: verification,
		Reset:        reset,
		Revocations:  store,
		Mailer:       mail,
		Events:       events,
		Opts: Options{
			Domain:      "bookly.test",
			EventsTopic: "user_events",
			MailTimeout: time.Second,
			JTIExpiry:   time.Hour,
		},
	}

	return &testEnv{
		svc:      svc,
		db:       db,
		repo:     r,
		codec:    codec,
		store:    store,
		access:   guard.New(guard.Access, codec, store),
		refresh:  guard.New(guard.Refresh, codec, store),
		resolver: identity.NewResolver(r, time.Second),
		mail:     mail,
		events:   events,
		clock:    clk,
		mini:     mini,
	}
}

func (e *testEnv) signup(t *testing.T, email, password string) *models.User {
	t.Helper()
	u, err := e.svc.Signup(context.Background(), SignupInput{
		Username: strings.Split(email, "@")[0],
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	e.mail.wait(t)
	return u
}

func tokenFromLink(t *testing.T, html, marker string) string {
	t.Helper()
	i := strings.Index(html, marker)
	require.GreaterOrEqual(t, i, 0, "link with %q not found", marker)
	rest := html[i+len(marker):]
	return rest[:strings.IndexByte(rest, '"')]
}

func TestAuthService_Signup(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	u, err := e.svc.Signup(ctx, SignupInput{Username: "alice", Email: "A@X.com", FirstName: "Alice", Password: "pw123456"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.False(t, u.IsVerified)
	assert.NotEqual(t, "pw123456", u.PasswordHash)

	mail := e.mail.wait(t)
	assert.Equal(t, []string{"a@x.com"}, mail.To)
	assert.Contains(t, mail.HTML, "http://bookly.test/api/v1/auth/verify/")
	assert.Equal(t, []string{EventUserRegistered}, e.events.waitFor(t, 1))

	_, err = e.svc.Signup(ctx, SignupInput{Username: "alice2", Email: "a@x.com", Password: "pw123456"})
	require.ErrorIs(t, err, domain.ErrUserAlreadyExists)
}

func TestAuthService_Signup_Validation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		in   SignupInput
	}{
		{name: "empty email", in: SignupInput{Username: "u", Password: "pw123456"}},
		{name: "empty username", in: SignupInput{Email: "u@x.io", Password: "pw123456"}},
		{name: "short password", in: SignupInput{Username: "u", Email: "u@x.io", Password: "pw"}},
		{name: "long password", in: SignupInput{Username: "u", Email: "u@x.io", Password: strings.Repeat("p", 73)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Signup(context.Background(), tt.in)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Zero(t, e.mail.count())
}

// Scenario A
func TestAuthService_SignupThenLogin(t *testing.T) {
	e := newTestEnv(t)
	u := e.signup(t, "a@x.com", "pw123456")

	res, err := e.svc.Login(context.Background(), "a@x.com", "pw123456")
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	assert.NotEqual(t, res.AccessToken, res.RefreshToken)
	assert.Equal(t, u.ID, res.User.ID)
	assert.True(t, res.RefreshExp.After(res.AccessExp))

	claims, err := e.codec.Verify(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.UserSummary{Email: "a@x.com", UserID: u.ID.String(), Role: models.RoleUser}, claims.User)
	assert.False(t, claims.Refresh)

	assert.ElementsMatch(t, []string{EventUserRegistered, EventUserLoggedIn}, e.events.waitFor(t, 2))
}

// Scenario B
func TestAuthService_Login_NoEnumeration(t *testing.T) {
	e := newTestEnv(t)
	e.signup(t, "a@x.com", "pw123456")
	ctx := context.Background()

	_, wrongPassword := e.svc.Login(ctx, "a@x.com", "nope-nope")
	_, unknownEmail := e.svc.Login(ctx, "ghost@x.com", "pw123456")

	require.ErrorIs(t, wrongPassword, domain.ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, domain.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

// Scenario C
func TestAuthService_LogoutRevokesAccessToken(t *testing.T) {
	e := newTestEnv(t)
	e.signup(t, "a@x.com", "pw123456")
	ctx := context.Background()

	res, err := e.svc.Login(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)

	claims, err := e.access.Check(ctx, "Bearer "+res.AccessToken)
	require.NoError(t, err)
	require.NoError(t, e.svc.Logout(ctx, claims))

	_, err = e.access.Check(ctx, "Bearer "+res.AccessToken)
	require.ErrorIs(t, err, domain.ErrRevokedToken)

	ttl := e.mini.TTL("jti:" + claims.ID)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 15*time.Minute)

	_, err = e.refresh.Check(ctx, "Bearer "+res.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_Logout_StoreDown(t *testing.T) {
	e := newTestEnv(t)
	e.signup(t, "a@x.com", "pw123456")
	ctx := context.Background()

	res, err := e.svc.Login(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	claims, err := e.codec.Verify(res.AccessToken)
	require.NoError(t, err)

	e.mini.Close()
	err = e.svc.Logout(ctx, claims)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestAuthService_Logout_ExpiredTokenIsNoop(t *testing.T) {
	e := newTestEnv(t)
	e.signup(t, "a@x.com", "pw123456")
	ctx := context.Background()

	res, err := e.svc.Login(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	claims, err := e.codec.Verify(res.AccessToken)
	require.NoError(t, err)

	e.clock.Advance(time.Hour)
	require.NoError(t, e.svc.Logout(ctx, claims))
	assert.False(t, e.mini.Exists("jti:"+claims.ID))
}

// Scenario D
func TestAuthService_Refresh(t *testing.T) {
	e := newTestEnv(t)
	e.signup(t, "a@x.com", "pw123456")
	ctx := context.Background()

	res, err := e.svc.Login(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)

	refreshClaims, err := e.refresh.Check(ctx, "Bearer "+res.RefreshToken)
	require.NoError(t, err)

	out, err := e.svc.Refresh(ctx, refreshClaims)
	require.NoError(t, err)
	require.NotEmpty(t, out.AccessToken)

	fresh, err := e.access.Check(ctx, "Bearer "+out.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, refreshClaims.User, fresh.User)
	assert.NotEqual(t, refreshClaims.ID, fresh.ID)

	e.clock.Advance(7*24*time.Hour + time.Second)
	_, err = e.refresh.Check(ctx, "Bearer "+res.RefreshToken)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = e.svc.Refresh(ctx, refreshClaims)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestAuthService_Refresh_RequiresRefreshClaims(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.svc.Refresh(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrRefreshTokenRequired)
	_, err = e.svc.Refresh(context.Background(), &tokens.Claims{})
	require.ErrorIs(t, err, domain.ErrRefreshTokenRequired)
}

// Scenario E
func TestAuthService_AdminOnly(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signup(t, "user@x.com", "pw123456")
	admin := e.signup(t, "admin@x.com", "pw123456")
	admin.Role = models.RoleAdmin
	require.NoError(t, e.repo.Save(ctx, admin))

	gate := rbac.NewGate(models.RoleAdmin)
	authorize := func(email string) error {
		res, err := e.svc.Login(ctx, email, "pw123456")
		require.NoError(t, err)
		claims, err := e.access.Check(ctx, "Bearer "+res.AccessToken)
		require.NoError(t, err)
		u, err := e.resolver.Resolve(ctx, claims)
		require.NoError(t, err)
		return gate.Authorize(u)
	}

	require.ErrorIs(t, authorize("user@x.com"), domain.ErrInsufficientPermission)
	require.NoError(t, authorize("admin@x.com"))
}

func TestAuthService_RoleChangeVisibleWithoutReissue(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	u := e.signup(t, "a@x.com", "pw123456")

	res, err := e.svc.Login(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)

	u.Role = models.RoleAdmin
	require.NoError(t, e.repo.Save(ctx, u))

	claims, err := e.access.Check(ctx, "Bearer "+res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, claims.User.Role)

	resolved, err := e.resolver.Resolve(ctx, claims)
	require.NoError(t, err)
	require.NoError(t, rbac.NewGate(models.RoleAdmin).Authorize(resolved))
}

func TestAuthService_VerifyEmail(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.svc.Signup(ctx, SignupInput{Username: "a", Email: "a@x.com", Password: "pw123456"})
	require.NoError(t, err)
	token := tokenFromLink(t, e.mail.wait(t).HTML, "/verify/")

	require.NoError(t, e.svc.VerifyEmail(ctx, token))
	u, err := e.repo.FindUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, u.IsVerified)

	require.NoError(t, e.svc.VerifyEmail(ctx, token))
}

func TestAuthService_VerifyEmail_Rejections(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signup(t, "a@x.com", "pw123456")

	resetToken, err := e.svc.Reset.Issue("a@x.com")
	require.NoError(t, err)
	require.ErrorIs(t, e.svc.VerifyEmail(ctx, resetToken), domain.ErrInvalidToken)

	access, _, err := e.codec.Issue(tokens.UserSummary{Email: "a@x.com"}, 0, false)
	require.NoError(t, err)
	require.ErrorIs(t, e.svc.VerifyEmail(ctx, access), domain.ErrInvalidToken)
	require.ErrorIs(t, e.svc.VerifyEmail(ctx, "garbage"), domain.ErrInvalidToken)

	u, err := e.repo.FindUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, u.IsVerified)

	ghost, err := e.svc.Verification.Issue("ghost@x.com")
	require.NoError(t, err)
	require.ErrorIs(t, e.svc.VerifyEmail(ctx, ghost), domain.ErrUserNotFound)
}

func TestAuthService_ResendVerification(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signup(t, "a@x.com", "pw123456")

	require.NoError(t, e.svc.ResendVerification(ctx, "a@x.com"))
	mail := e.mail.wait(t)
	assert.Equal(t, []string{"a@x.com"}, mail.To)

	require.NoError(t, e.svc.ResendVerification(ctx, "ghost@x.com"))
	assert.Equal(t, 2, e.mail.count())
}

func TestAuthService_PasswordReset(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.signup(t, "a@x.com", "pw123456")

	require.NoError(t, e.svc.RequestPasswordReset(ctx, "a@x.com"))
	token := tokenFromLink(t, e.mail.wait(t).HTML, "/password-reset-confirm/")

	require.ErrorIs(t, e.svc.ConfirmPasswordReset(ctx, token, "newpass1", "newpass2"), domain.ErrPasswordMismatch)
	require.ErrorIs(t, e.svc.ConfirmPasswordReset(ctx, "garbage", "newpass1", "newpass2"), domain.ErrPasswordMismatch)
	require.ErrorIs(t, e.svc.ConfirmPasswordReset(ctx, "garbage", "newpass1", "newpass1"), domain.ErrInvalidToken)

	verifyToken, err := e.svc.Verification.Issue("a@x.com")
	require.NoError(t, err)
	require.ErrorIs(t, e.svc.ConfirmPasswordReset(ctx, verifyToken, "newpass1", "newpass1"), domain.ErrInvalidToken)

	require.NoError(t, e.svc.ConfirmPasswordReset(ctx, token, "newpass1", "newpass1"))

	_, err = e.svc.Login(ctx, "a@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = e.svc.Login(ctx, "a@x.com", "newpass1")
	require.NoError(t, err)
}

func TestAuthService_PasswordReset_UnknownEmail(t *testing.T) {
	e := newTestEnv(t)

	require.NoError(t, e.svc.RequestPasswordReset(context.Background(), "ghost@x.com"))
	assert.Zero(t, e.mail.count())
}

func TestAuthService_ListUsers(t *testing.T) {
	e := newTestEnv(t)
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		e.signup(t, email, "pw123456")
	}

	page, err := e.svc.ListUsers(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.Size)
	assert.Len(t, page.Users, 1)
}

type failingRepo struct{ UserRepository }

func (failingRepo) FindUserByEmail(context.Context, string) (*models.User, error) {
	return nil, errors.New("connection refused")
}

func TestAuthService_StoreErrorsAreInternal(t *testing.T) {
	e := newTestEnv(t)
	e.svc.Repo = failingRepo{}
	ctx := context.Background()

	_, err := e.svc.Login(ctx, "a@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInternal)
	assert.NotContains(t, err.Error(), "invalid email")

	_, err = e.svc.Signup(ctx, SignupInput{Username: "a", Email: "a@x.com", Password: "pw123456"})
	require.ErrorIs(t, err, domain.ErrInternal)

	require.ErrorIs(t, e.svc.RequestPasswordReset(ctx, "a@x.com"), domain.ErrInternal)
}

type hangingRepo struct{ UserRepository }

func (hangingRepo) FindUserByEmail(ctx context.Context, _ string) (*models.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingRepo) ListUsers(ctx context.Context, _, _ int) ([]models.User, int64, error) {
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

func TestAuthService_StoreTimeout(t *testing.T) {
	e := newTestEnv(t)
	e.svc.Repo = hangingRepo{}
	e.svc.Opts.StoreTimeout = 20 * time.Millisecond
	ctx := context.Background()

	_, err := e.svc.Login(ctx, "a@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = e.svc.Signup(ctx, SignupInput{Username: "a", Email: "a@x.com", Password: "pw123456"})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = e.svc.ListUsers(ctx, 1, 10)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

type countingHasher struct {
	PasswordHasher
	verifies atomic.Int32
}

func (h *countingHasher) Verify(password, hash string) bool {
	h.verifies.Add(1)
	return h.PasswordHasher.Verify(password, hash)
}

func TestAuthService_Login_UnknownEmailStillVerifies(t *testing.T) {
	e := newTestEnv(t)
	h := &countingHasher{PasswordHasher: e.svc.Hasher}
	e.svc.Hasher = h

	_, err := e.svc.Login(context.Background(), "ghost@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Equal(t, int32(1), h.verifies.Load())

	_, err = e.svc.Login(context.Background(), "ghost@x.com", "pw123456")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Equal(t, int32(2), h.verifies.Load())
}

type blockingEvents struct {
	release chan struct{}
	done    chan string
}

func (b *blockingEvents) PublishEvent(ctx context.Context, _, _ string, event any) error {
	<-b.release
	b.done <- event.(UserEvent).Type
	return ctx.Err()
}

func TestAuthService_EventsDoNotBlockRequests(t *testing.T) {
	e := newTestEnv(t)
	ev := &blockingEvents{release: make(chan struct{}), done: make(chan string, 4)}
	e.svc.Events = ev

	ctx, cancel := context.WithCancel(context.Background())
	_, err := e.svc.Signup(ctx, SignupInput{Username: "a", Email: "a@x.com", Password: "pw123456"})
	require.NoError(t, err)
	e.mail.wait(t)

	_, err = e.svc.Login(ctx, "a@x.com", "pw123456")
	require.NoError(t, err)
	cancel()

	close(ev.release)
	got := []string{<-ev.done, <-ev.done}
	assert.ElementsMatch(t, []string{EventUserRegistered, EventUserLoggedIn}, got)
}
