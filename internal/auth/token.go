package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Token verification failure modes. The guard collapses all three into one
// client-facing message; they stay distinct here for logging.
var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
)

// TokenManager issues and validates signed session tokens. The signing
// secret is injected once at construction and never mutated.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 90 * time.Minute
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Claims describes the session token payload.
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// Issue builds and signs a session token for the user.
func (tm *TokenManager) Issue(userID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Parse validates a session token and returns its claims. Failures map to
// ErrTokenMalformed, ErrTokenSignature or ErrTokenExpired.
func (tm *TokenManager) Parse(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenSignature
		}
		return tm.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrTokenSignature):
			return nil, ErrTokenSignature
		default:
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// TTL exposes the configured token lifetime.
func (tm *TokenManager) TTL() time.Duration {
	return tm.ttl
}
