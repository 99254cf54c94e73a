package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/tour-auth-service/internal/config"
	"github.com/spec-kit/tour-auth-service/internal/domain"
	"github.com/spec-kit/tour-auth-service/internal/events"
	"github.com/spec-kit/tour-auth-service/internal/limiter"
	"github.com/spec-kit/tour-auth-service/internal/mail"
	apperrors "github.com/spec-kit/tour-auth-service/pkg/util"
)

// memoryUserRepo mimics the Postgres repository, including active-only
// lookups and expiry filtering on digest lookups.
type memoryUserRepo struct {
	mu    sync.Mutex
	seq   int
	users map[string]*domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: map[string]*domain.User{}}
}

func (r *memoryUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	user.ID = fmt.Sprintf("u%d", r.seq)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	// The SQL store lowercases the column, not the caller's aggregate.
	clone.Email = strings.ToLower(clone.Email)
	r.users[user.ID] = &clone
	return nil
}

func (r *memoryUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || !user.Active {
		return nil, pgx.ErrNoRows
	}
	clone := *user
	return &clone, nil
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Active && user.Email == strings.ToLower(email) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryUserRepo) GetByResetDigest(_ context.Context, digest string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Active && user.ResetTokenDigest != nil && *user.ResetTokenDigest == digest &&
			user.ResetTokenExpiresAt != nil && user.ResetTokenExpiresAt.After(time.Now()) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryUserRepo) GetByVerifyDigest(_ context.Context, digest string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Active && user.VerifyTokenDigest != nil && *user.VerifyTokenDigest == digest &&
			user.VerifyTokenExpiresAt != nil && user.VerifyTokenExpiresAt.After(time.Now()) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryUserRepo) SetResetToken(_ context.Context, id, digest string, expiresAt time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.ResetTokenDigest = &digest
		u.ResetTokenExpiresAt = &expiresAt
	})
}

func (r *memoryUserRepo) ClearResetToken(_ context.Context, id string) error {
	return r.mutate(id, func(u *domain.User) {
		u.ResetTokenDigest = nil
		u.ResetTokenExpiresAt = nil
	})
}

func (r *memoryUserRepo) SetVerifyToken(_ context.Context, id, digest string, expiresAt time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.VerifyTokenDigest = &digest
		u.VerifyTokenExpiresAt = &expiresAt
	})
}

func (r *memoryUserRepo) MarkEmailVerified(_ context.Context, id string) error {
	return r.mutate(id, func(u *domain.User) {
		u.EmailVerified = true
		u.VerifyTokenDigest = nil
		u.VerifyTokenExpiresAt = nil
	})
}

func (r *memoryUserRepo) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	return r.mutate(id, func(u *domain.User) {
		u.PasswordHash = passwordHash
		u.PasswordChangedAt = &changedAt
		u.ResetTokenDigest = nil
		u.ResetTokenExpiresAt = nil
	})
}

func (r *memoryUserRepo) mutate(id string, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || !user.Active {
		return pgx.ErrNoRows
	}
	fn(user)
	user.UpdatedAt = time.Now()
	return nil
}

// recordingMailer captures sent messages and can simulate delivery failure.
type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	failWith error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.messages, "expected at least one message")
	return m.messages[len(m.messages)-1]
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func testConfig() config.Config {
	return config.Config{
		App: config.AppConfig{PublicURL: "http://test.local"},
		Auth: config.AuthConfig{
			JWTSecret:             "service-test-secret",
			AccessTokenTTLMinutes: 60,
			OpaqueTokenTTLMinutes: 10,
			BcryptCost:            4,
		},
	}
}

type fixture struct {
	svc    *AuthService
	repo   *memoryUserRepo
	mailer *recordingMailer
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	repo := newMemoryUserRepo()
	mailer := &recordingMailer{}
	svc := NewAuthService(cfg, AuthDependencies{
		UserRepo:   repo,
		Mailer:     mailer,
		Dispatcher: events.NewInMemoryDispatcher(),
	}, zap.NewNop())
	return &fixture{svc: svc, repo: repo, mailer: mailer}
}

// extractMailToken pulls the raw token out of a delivered URL, the way a
// user would by clicking the link.
func extractMailToken(t *testing.T, body string) string {
	t.Helper()
	start := strings.Index(body, "http://test.local/")
	require.GreaterOrEqual(t, start, 0, "expected a link in the mail body")
	rest := body[start:]
	if end := strings.IndexAny(rest, "\n \t"); end >= 0 {
		rest = rest[:end]
	}
	segments := strings.Split(rest, "/")
	return segments[len(segments)-1]
}

func defaultSignup() SignupInput {
	return SignupInput{
		Name:            "Alice",
		Email:           "a@x.com",
		Password:        "Passw0rd!",
		PasswordConfirm: "Passw0rd!",
	}
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	de := apperrors.ToDomainError(err)
	return de.Code
}

func TestSignupDeferredToken(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	user, session, err := fx.svc.Signup(ctx, defaultSignup())
	require.NoError(t, err)
	assert.Nil(t, session, "no session token until the email is verified")
	assert.False(t, user.EmailVerified)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.Equal(t, "a@x.com", user.Email)

	stored, err := fx.repo.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "Passw0rd!", stored.PasswordHash)
	require.True(t, stored.HasPendingVerification())

	msg := fx.mailer.last(t)
	assert.Equal(t, "a@x.com", msg.To)
	raw := extractMailToken(t, msg.Body)
	assert.NotEqual(t, raw, *stored.VerifyTokenDigest, "raw token must never be persisted")
}

func TestSignupImmediateTokenVariant(t *testing.T) {
	fx := newFixture(t, func(cfg *config.Config) { cfg.Auth.IssueTokenOnSignup = true })

	_, session, err := fx.svc.Signup(context.Background(), defaultSignup())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEmpty(t, session.Token)
}

func TestSignupValidation(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*SignupInput)
	}{
		{name: "missing name", mutate: func(in *SignupInput) { in.Name = "" }},
		{name: "short password", mutate: func(in *SignupInput) { in.Password, in.PasswordConfirm = "short", "short" }},
		{name: "confirm mismatch", mutate: func(in *SignupInput) { in.PasswordConfirm = "Different1!" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := defaultSignup()
			tt.mutate(&in)
			_, _, err := fx.svc.Signup(ctx, in)
			assert.Equal(t, "VALIDATION_FAILED", domainCode(t, err))
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := fx.svc.Signup(ctx, defaultSignup())
	require.NoError(t, err)

	_, _, err = fx.svc.Signup(ctx, defaultSignup())
	assert.Equal(t, "CONFLICT", domainCode(t, err))
}

func TestSignupNormalizesEmailCase(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	in := defaultSignup()
	in.Email = "Alice@X.Com"
	user, _, err := fx.svc.Signup(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", user.Email, "response must echo the stored casing")

	stored, err := fx.repo.GetByEmail(ctx, "ALICE@x.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", stored.Email)
}

func TestVerifyEmailThenLogin(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := fx.svc.Signup(ctx, defaultSignup())
	require.NoError(t, err)
	raw := extractMailToken(t, fx.mailer.last(t).Body)

	// Login before verification is rejected even with correct credentials.
	_, err = fx.svc.Login(ctx, "a@x.com", "Passw0rd!", "")
	assert.Equal(t, "EMAIL_NOT_VERIFIED", domainCode(t, err))

	user, err := fx.svc.VerifyEmail(ctx, raw)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	assert.False(t, user.HasPendingVerification(), "digest and expiry cleared together")

	// Consuming the same token twice fails.
	_, err = fx.svc.VerifyEmail(ctx, raw)
	assert.Equal(t, "TOKEN_INVALID_OR_EXPIRED", domainCode(t, err))

	session, err := fx.svc.Login(ctx, "a@x.com", "Passw0rd!", "")
	require.NoError(t, err)
	claims, err := fx.svc.TokenManager().Parse(session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestVerifyEmailBogusToken(t *testing.T) {
	fx := newFixture(t, nil)
	_, err := fx.svc.VerifyEmail(context.Background(), "bogus")
	assert.Equal(t, "TOKEN_INVALID_OR_EXPIRED", domainCode(t, err))
}

func TestResendVerificationSupersedesToken(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := fx.svc.Signup(ctx, defaultSignup())
	require.NoError(t, err)
	firstRaw := extractMailToken(t, fx.mailer.last(t).Body)

	require.NoError(t, fx.svc.ResendVerification(ctx, "a@x.com", ""))
	require.Equal(t, 2, fx.mailer.count())
	secondRaw := extractMailToken(t, fx.mailer.last(t).Body)
	require.NotEqual(t, firstRaw, secondRaw)

	// The superseded token is dead; the fresh one verifies.
	_, err = fx.svc.VerifyEmail(ctx, firstRaw)
	assert.Equal(t, "TOKEN_INVALID_OR_EXPIRED", domainCode(t, err))

	user, err := fx.svc.VerifyEmail(ctx, secondRaw)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
}

func TestResendVerificationNoSideEffects(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	err := fx.svc.ResendVerification(ctx, "nobody@x.com", "")
	assert.NoError(t, err, "unknown email must look like success")
	assert.Zero(t, fx.mailer.count())

	signupAndVerify(t, fx)
	sent := fx.mailer.count()
	err = fx.svc.ResendVerification(ctx, "a@x.com", "")
	assert.NoError(t, err, "verified account must look like success")
	assert.Equal(t, sent, fx.mailer.count(), "no mail for an already verified account")
}

func TestResendVerificationDeliveryFailure(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := fx.svc.Signup(ctx, defaultSignup())
	require.NoError(t, err)

	fx.mailer.failWith = fmt.Errorf("smtp down")
	err = fx.svc.ResendVerification(ctx, "a@x.com", "")
	assert.Equal(t, "DELIVERY_FAILED", domainCode(t, err))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	signupAndVerify(t, fx)

	_, wrongPassword := fx.svc.Login(ctx, "a@x.com", "WrongPass1!", "")
	_, unknownEmail := fx.svc.Login(ctx, "nobody@x.com", "WrongPass1!", "")

	wrongDE := apperrors.ToDomainError(wrongPassword)
	unknownDE := apperrors.ToDomainError(unknownEmail)
	assert.Equal(t, wrongDE.Code, unknownDE.Code)
	assert.Equal(t, wrongDE.Message, unknownDE.Message)
	assert.Equal(t, wrongDE.HTTPStatus, unknownDE.HTTPStatus)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	fx := newFixture(t, nil)

	err := fx.svc.ForgotPassword(context.Background(), "nobody@x.com", "")
	assert.NoError(t, err, "unknown email must look like success")
	assert.Zero(t, fx.mailer.count(), "no side effect for unknown email")
}

func TestForgotPasswordDeliveryFailureRollsBack(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	user := signupAndVerify(t, fx)
	fx.mailer.failWith = fmt.Errorf("smtp down")

	err := fx.svc.ForgotPassword(ctx, "a@x.com", "")
	assert.Equal(t, "DELIVERY_FAILED", domainCode(t, err))

	stored, err := fx.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasPendingReset(), "pending reset cleared on delivery failure")
}

func TestResetPasswordFlow(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	user := signupAndVerify(t, fx)

	require.NoError(t, fx.svc.ForgotPassword(ctx, "a@x.com", ""))
	raw := extractMailToken(t, fx.mailer.last(t).Body)

	session, err := fx.svc.ResetPassword(ctx, raw, "NewPassw0rd!", "NewPassw0rd!")
	require.NoError(t, err)
	require.NotNil(t, session)

	// The reset pair is consumed; the same raw token cannot be replayed.
	_, err = fx.svc.ResetPassword(ctx, raw, "AnotherPass1!", "AnotherPass1!")
	assert.Equal(t, "TOKEN_INVALID_OR_EXPIRED", domainCode(t, err))

	// Old password no longer works, new one does.
	_, err = fx.svc.Login(ctx, "a@x.com", "Passw0rd!", "")
	assert.Equal(t, "BAD_CREDENTIALS", domainCode(t, err))
	_, err = fx.svc.Login(ctx, "a@x.com", "NewPassw0rd!", "")
	assert.NoError(t, err)

	// Tokens issued before the change are stale.
	stored, err := fx.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.PasswordChangedAfter(time.Now().Add(-2*time.Second)))
}

func TestResetPasswordExpiredToken(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	user := signupAndVerify(t, fx)

	require.NoError(t, fx.svc.ForgotPassword(ctx, "a@x.com", ""))
	raw := extractMailToken(t, fx.mailer.last(t).Body)

	// Force the stored expiry into the past without consuming the token.
	stored, err := fx.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, stored.HasPendingReset())
	require.NoError(t, fx.repo.SetResetToken(ctx, user.ID, *stored.ResetTokenDigest, time.Now().Add(-time.Minute)))

	_, err = fx.svc.ResetPassword(ctx, raw, "NewPassw0rd!", "NewPassw0rd!")
	assert.Equal(t, "TOKEN_INVALID_OR_EXPIRED", domainCode(t, err))

	// Credential unchanged.
	_, err = fx.svc.Login(ctx, "a@x.com", "Passw0rd!", "")
	assert.NoError(t, err)
}

func TestForgotPasswordSupersedesPriorReset(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	signupAndVerify(t, fx)

	require.NoError(t, fx.svc.ForgotPassword(ctx, "a@x.com", ""))
	firstRaw := extractMailToken(t, fx.mailer.last(t).Body)

	require.NoError(t, fx.svc.ForgotPassword(ctx, "a@x.com", ""))
	secondRaw := extractMailToken(t, fx.mailer.last(t).Body)
	require.NotEqual(t, firstRaw, secondRaw)

	_, err := fx.svc.ResetPassword(ctx, firstRaw, "NewPassw0rd!", "NewPassw0rd!")
	assert.Equal(t, "TOKEN_INVALID_OR_EXPIRED", domainCode(t, err), "superseded token is permanently unusable")

	_, err = fx.svc.ResetPassword(ctx, secondRaw, "NewPassw0rd!", "NewPassw0rd!")
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	user := signupAndVerify(t, fx)

	_, err := fx.svc.ChangePassword(ctx, user.ID, "WrongCurrent1!", "NewPassw0rd!", "NewPassw0rd!")
	assert.Equal(t, "UNAUTHORIZED", domainCode(t, err))

	session, err := fx.svc.ChangePassword(ctx, user.ID, "Passw0rd!", "NewPassw0rd!", "NewPassw0rd!")
	require.NoError(t, err)
	require.NotNil(t, session)

	_, err = fx.svc.Login(ctx, "a@x.com", "NewPassw0rd!", "")
	assert.NoError(t, err)

	stored, err := fx.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.PasswordChangedAfter(time.Now().Add(-2*time.Second)),
		"tokens issued before the change must be stale")
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	rlCfg := config.RateLimitConfig{Enabled: true, MaxAttempts: 3, WindowSeconds: 60}

	repo := newMemoryUserRepo()
	mailer := &recordingMailer{}
	svc := NewAuthService(cfg, AuthDependencies{
		UserRepo:   repo,
		Mailer:     mailer,
		Dispatcher: events.NewInMemoryDispatcher(),
		Limiter:    limiter.NewAttemptLimiter(client, rlCfg, zap.NewNop()),
	}, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, "a@x.com", "WrongPass1!", "10.0.0.1")
		assert.Equal(t, "BAD_CREDENTIALS", domainCode(t, err))
	}
	_, err := svc.Login(ctx, "a@x.com", "WrongPass1!", "10.0.0.1")
	assert.Equal(t, "RATE_LIMITED", domainCode(t, err))
}

func signupAndVerify(t *testing.T, fx *fixture) *domain.User {
	t.Helper()
	ctx := context.Background()

	_, _, err := fx.svc.Signup(ctx, defaultSignup())
	require.NoError(t, err)
	raw := extractMailToken(t, fx.mailer.last(t).Body)

	user, err := fx.svc.VerifyEmail(ctx, raw)
	require.NoError(t, err)
	return user
}
