package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/tour-auth-service/internal/auth"
	"github.com/spec-kit/tour-auth-service/internal/config"
	"github.com/spec-kit/tour-auth-service/internal/domain"
	"github.com/spec-kit/tour-auth-service/internal/events"
	"github.com/spec-kit/tour-auth-service/internal/limiter"
	"github.com/spec-kit/tour-auth-service/internal/mail"
	"github.com/spec-kit/tour-auth-service/internal/repository"
	apperrors "github.com/spec-kit/tour-auth-service/pkg/util"
)

const minPasswordLength = 8

// Session is an issued bearer token plus its owner.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// AuthService coordinates the credential lifecycle: signup, email
// verification, login, password reset and password change.
type AuthService struct {
	users         repository.UserRepository
	mailer        mail.Mailer
	dispatcher    events.Dispatcher
	tokens        *auth.TokenManager
	limiter       *limiter.AttemptLimiter
	logger        *zap.Logger
	bcryptCost    int
	opaqueTTL     time.Duration
	issueOnSignup bool
	publicURL     string
}

// AuthDependencies encapsulates collaborator requirements for the auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Mailer     mail.Mailer
	Dispatcher events.Dispatcher
	Limiter    *limiter.AttemptLimiter
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:         deps.UserRepo,
		mailer:        deps.Mailer,
		dispatcher:    deps.Dispatcher,
		tokens:        auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL()),
		limiter:       deps.Limiter,
		logger:        logger,
		bcryptCost:    cfg.Auth.BcryptCost,
		opaqueTTL:     cfg.Auth.OpaqueTokenTTL(),
		issueOnSignup: cfg.Auth.IssueTokenOnSignup,
		publicURL:     cfg.App.PublicURL,
	}
}

// SignupInput carries the signup payload.
type SignupInput struct {
	Name            string
	Email           string
	Password        string
	PasswordConfirm string
}

// Signup creates an unverified account and mails a verification token. No
// session is returned unless the immediate-token variant is enabled via
// configuration.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*domain.User, *Session, error) {
	if in.Name == "" || in.Email == "" {
		return nil, nil, apperrors.NewValidationError("name and email required", nil)
	}
	if err := validatePassword(in.Password, in.PasswordConfirm); err != nil {
		return nil, nil, err
	}
	// The store lowercases on write; normalize up front so the created
	// aggregate matches the row.
	in.Email = strings.ToLower(in.Email)

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, nil, apperrors.NewConflict("email already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, nil, err
	}

	verify, err := auth.GenerateOpaqueToken(s.opaqueTTL)
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		Name:                 in.Name,
		Email:                in.Email,
		PasswordHash:         hash,
		Role:                 domain.RoleUser,
		Active:               true,
		EmailVerified:        false,
		VerifyTokenDigest:    &verify.Digest,
		VerifyTokenExpiresAt: &verify.ExpiresAt,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	msg := mail.Message{
		To:      user.Email,
		Subject: "Verify your email address",
		Body: fmt.Sprintf("Welcome, %s!\n\nPlease confirm your email address (valid for %d minutes):\n%s\n",
			user.Name, int(s.opaqueTTL.Minutes()), s.verifyURL(verify.Raw)),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		// The pending digest expires on its own; without it the account
		// cannot be verified, so surface the failure.
		s.logger.Error("verification mail failed", zap.Error(err))
		return nil, nil, apperrors.NewDeliveryFailed(err)
	}

	s.publish(ctx, events.EventUserSignedUp, user)

	if !s.issueOnSignup {
		return user, nil, nil
	}
	session, err := s.issueSession(user)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// VerifyEmail consumes a raw verification token: it marks the account
// verified and clears the pending digest/expiry pair in one update.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) (*domain.User, error) {
	digest := auth.HashOpaqueToken(rawToken)
	user, err := s.users.GetByVerifyDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewTokenInvalidOrExpired()
		}
		return nil, err
	}
	if !user.HasPendingVerification() ||
		!auth.MatchOpaqueToken(rawToken, *user.VerifyTokenDigest, *user.VerifyTokenExpiresAt) {
		return nil, apperrors.NewTokenInvalidOrExpired()
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, err
	}
	user.EmailVerified = true
	user.VerifyTokenDigest = nil
	user.VerifyTokenExpiresAt = nil

	s.publish(ctx, events.EventUserVerified, user)
	return user, nil
}

// Login authenticates by email and password. Unknown email and wrong
// password produce the same error; unverified accounts cannot log in.
func (s *AuthService) Login(ctx context.Context, email, password, clientIP string) (*Session, error) {
	if email == "" || password == "" {
		return nil, apperrors.NewValidationError("please provide email and password", nil)
	}

	if err := s.limiter.Allow(ctx, "login", email, clientIP); err != nil {
		if errors.Is(err, limiter.ErrRateLimited) {
			return nil, apperrors.NewTooManyRequests()
		}
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewBadCredentials()
		}
		return nil, err
	}
	if !auth.ComparePassword(user.PasswordHash, password) {
		return nil, apperrors.NewBadCredentials()
	}
	if !user.EmailVerified {
		return nil, apperrors.NewUnverifiedEmail()
	}

	s.limiter.Reset(ctx, "login", email)
	return s.issueSession(user)
}

// ResendVerification issues a fresh verification token for an account that
// never confirmed its address, superseding any earlier pending one. Like
// ForgotPassword it reports success whether or not the email exists, so the
// endpoint cannot be used to enumerate accounts.
func (s *AuthService) ResendVerification(ctx context.Context, email, clientIP string) error {
	if email == "" {
		return apperrors.NewValidationError("please provide an email address", nil)
	}

	if err := s.limiter.Allow(ctx, "verify", email, clientIP); err != nil {
		if errors.Is(err, limiter.ErrRateLimited) {
			return apperrors.NewTooManyRequests()
		}
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Debug("verification resend requested for unknown email")
			return nil
		}
		return err
	}
	if user.EmailVerified {
		s.logger.Debug("verification resend requested for verified account", zap.String("user_id", user.ID))
		return nil
	}

	verify, err := auth.GenerateOpaqueToken(s.opaqueTTL)
	if err != nil {
		return err
	}
	// Overwrites any earlier pending verification; the prior raw token
	// becomes permanently unusable.
	if err := s.users.SetVerifyToken(ctx, user.ID, verify.Digest, verify.ExpiresAt); err != nil {
		return err
	}

	msg := mail.Message{
		To:      user.Email,
		Subject: "Verify your email address",
		Body: fmt.Sprintf("Please confirm your email address (valid for %d minutes):\n%s\n",
			int(s.opaqueTTL.Minutes()), s.verifyURL(verify.Raw)),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		// The pending digest expires on its own; the user can request
		// another token once delivery recovers.
		s.logger.Error("verification mail failed", zap.Error(err))
		return apperrors.NewDeliveryFailed(err)
	}
	return nil
}

// ForgotPassword stores a reset digest and mails the raw token. It reports
// success whether or not the email exists; a delivery failure rolls the
// pending digest back so the user can retry cleanly.
func (s *AuthService) ForgotPassword(ctx context.Context, email, clientIP string) error {
	if email == "" {
		return apperrors.NewValidationError("please provide an email address", nil)
	}

	if err := s.limiter.Allow(ctx, "forgot", email, clientIP); err != nil {
		if errors.Is(err, limiter.ErrRateLimited) {
			return apperrors.NewTooManyRequests()
		}
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return err
	}
	if !user.EmailVerified {
		s.logger.Debug("password reset requested for unverified account", zap.String("user_id", user.ID))
		return nil
	}

	reset, err := auth.GenerateOpaqueToken(s.opaqueTTL)
	if err != nil {
		return err
	}
	// Overwrites any earlier pending reset; the prior raw token becomes
	// permanently unusable.
	if err := s.users.SetResetToken(ctx, user.ID, reset.Digest, reset.ExpiresAt); err != nil {
		return err
	}

	msg := mail.Message{
		To:      user.Email,
		Subject: "Your password reset token",
		Body: fmt.Sprintf("Forgot your password? Submit a new one here (valid for %d minutes):\n%s\n\nIf you didn't request this, ignore this email.\n",
			int(s.opaqueTTL.Minutes()), s.resetURL(reset.Raw)),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("reset mail failed; clearing pending reset", zap.Error(err))
		if clearErr := s.users.ClearResetToken(ctx, user.ID); clearErr != nil {
			s.logger.Error("failed to clear pending reset", zap.Error(clearErr))
		}
		return apperrors.NewDeliveryFailed(err)
	}

	s.publish(ctx, events.EventPasswordResetRequested, user)
	return nil
}

// ResetPassword consumes a raw reset token and installs a new password.
// The update clears the reset pair and records the change time in one
// statement, and the fresh session invalidates every older token.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, password, passwordConfirm string) (*Session, error) {
	if err := validatePassword(password, passwordConfirm); err != nil {
		return nil, err
	}

	digest := auth.HashOpaqueToken(rawToken)
	user, err := s.users.GetByResetDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewTokenInvalidOrExpired()
		}
		return nil, err
	}
	if !user.HasPendingReset() ||
		!auth.MatchOpaqueToken(rawToken, *user.ResetTokenDigest, *user.ResetTokenExpiresAt) {
		return nil, apperrors.NewTokenInvalidOrExpired()
	}

	if err := s.installPassword(ctx, user, password); err != nil {
		return nil, err
	}
	return s.issueSession(user)
}

// ChangePassword re-verifies the current password before installing a new
// one, with the same invalidation side effect as a reset.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, password, passwordConfirm string) (*Session, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUserGone()
		}
		return nil, err
	}
	if !auth.ComparePassword(user.PasswordHash, currentPassword) {
		return nil, apperrors.NewUnauthorized("your current password is wrong")
	}
	if err := validatePassword(password, passwordConfirm); err != nil {
		return nil, err
	}

	if err := s.installPassword(ctx, user, password); err != nil {
		return nil, err
	}
	return s.issueSession(user)
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokens
}

func (s *AuthService) installPassword(ctx context.Context, user *domain.User, password string) error {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}

	// Recorded one second in the past so the session issued right after
	// the change is not itself considered stale.
	changedAt := time.Now().Add(-time.Second)
	if err := s.users.UpdatePassword(ctx, user.ID, hash, changedAt); err != nil {
		return err
	}
	user.PasswordHash = hash
	user.PasswordChangedAt = &changedAt
	user.ResetTokenDigest = nil
	user.ResetTokenExpiresAt = nil

	s.publish(ctx, events.EventPasswordChanged, user)
	return nil
}

func (s *AuthService) issueSession(user *domain.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, user *domain.User) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Timestamp: time.Now(),
	})
}

func (s *AuthService) verifyURL(rawToken string) string {
	return fmt.Sprintf("%s/api/v1/users/verifyEmail/%s", s.publicURL, rawToken)
}

func (s *AuthService) resetURL(rawToken string) string {
	return fmt.Sprintf("%s/api/v1/users/resetPassword/%s", s.publicURL, rawToken)
}

func validatePassword(password, confirm string) error {
	if len(password) < minPasswordLength {
		return apperrors.NewValidationError("password must be at least 8 characters", nil)
	}
	if password != confirm {
		return apperrors.NewValidationError("passwords are not the same", nil)
	}
	return nil
}
