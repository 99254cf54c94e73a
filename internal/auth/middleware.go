package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/tour-auth-service/internal/domain"
	"github.com/spec-kit/tour-auth-service/internal/observability"
	"github.com/spec-kit/tour-auth-service/internal/repository"
	apperrors "github.com/spec-kit/tour-auth-service/pkg/util"
)

const currentUserKey = "auth_current_user"

// SessionCookieName carries the session token when no Authorization header
// is present.
const SessionCookieName = "jwt"

// LoggedOutCookieValue replaces the session cookie on logout. The token
// itself stays cryptographically valid until its TTL elapses; there is no
// server-side revocation list.
const LoggedOutCookieValue = "loggedout"

// Guard authenticates requests: it extracts a candidate token, validates
// it, resolves the owning active user and rejects tokens issued before the
// user's last password change.
type Guard struct {
	tokens  *TokenManager
	users   repository.UserRepository
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewGuard constructs the request guard.
func NewGuard(tokens *TokenManager, users repository.UserRepository, logger *zap.Logger, metrics *observability.Metrics) *Guard {
	return &Guard{tokens: tokens, users: users, logger: logger, metrics: metrics}
}

// Require enforces authentication. Requests without a valid, fresh token
// owned by an active user are rejected with 401.
func (g *Guard) Require() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractToken(c)
		if token == "" {
			g.reject("NO_TOKEN", nil)
			return apperrors.NewNoToken()
		}

		claims, err := g.tokens.Parse(token)
		if err != nil {
			g.reject("INVALID_TOKEN", err)
			return apperrors.NewInvalidToken(err)
		}

		user, err := g.users.GetByID(c.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				g.reject("USER_GONE", nil)
				return apperrors.NewUserGone()
			}
			return apperrors.MapError(err)
		}

		if claims.IssuedAt != nil && user.PasswordChangedAfter(claims.IssuedAt.Time) {
			g.reject("STALE_PASSWORD", nil)
			return apperrors.NewStalePassword()
		}

		c.Locals(currentUserKey, user)
		return c.Next()
	}
}

// Optional loads the user when a valid session cookie is present and
// otherwise lets the request through anonymously. The one failure it does
// surface is an unverified email address on an otherwise valid session.
func (g *Guard) Optional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(SessionCookieName)
		if token == "" || token == LoggedOutCookieValue {
			return c.Next()
		}

		claims, err := g.tokens.Parse(token)
		if err != nil {
			return c.Next()
		}

		user, err := g.users.GetByID(c.Context(), claims.UserID)
		if err != nil {
			return c.Next()
		}

		if claims.IssuedAt != nil && user.PasswordChangedAfter(claims.IssuedAt.Time) {
			return c.Next()
		}

		if !user.EmailVerified {
			return apperrors.NewUnverifiedEmail()
		}

		c.Locals(currentUserKey, user)
		return c.Next()
	}
}

func (g *Guard) reject(reason string, err error) {
	g.metrics.RecordAuthReject(reason)
	if g.logger != nil {
		g.logger.Debug("request rejected", zap.String("reason", reason), zap.Error(err))
	}
}

// CurrentUser retrieves the authenticated user attached by the guard.
func CurrentUser(c *fiber.Ctx) (*domain.User, bool) {
	val := c.Locals(currentUserKey)
	if val == nil {
		return nil, false
	}
	user, ok := val.(*domain.User)
	return user, ok
}

func extractToken(c *fiber.Ctx) string {
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie := c.Cookies(SessionCookieName); cookie != "" && cookie != LoggedOutCookieValue {
		return cookie
	}
	return ""
}
