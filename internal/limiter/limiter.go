package limiter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/tour-auth-service/internal/config"
)

// ErrRateLimited signals the caller exceeded the attempt budget.
var ErrRateLimited = errors.New("rate limited")

// AttemptLimiter throttles credential-guessing surfaces (login and
// forgot-password) per identifier and per client IP. It fails open when
// Redis is unavailable so an outage does not lock everyone out.
type AttemptLimiter struct {
	redis  redis.UniversalClient
	cfg    config.RateLimitConfig
	logger *zap.Logger
}

// NewAttemptLimiter builds a limiter.
func NewAttemptLimiter(client redis.UniversalClient, cfg config.RateLimitConfig, logger *zap.Logger) *AttemptLimiter {
	return &AttemptLimiter{redis: client, cfg: cfg, logger: logger}
}

// Allow records one attempt for the identifier/IP pair and returns
// ErrRateLimited once either budget is exhausted within the window.
func (l *AttemptLimiter) Allow(ctx context.Context, scope, identifier, ip string) error {
	if l == nil || !l.cfg.Enabled || l.redis == nil {
		return nil
	}

	if err := l.bump(ctx, attemptKey(scope, "id", identifier)); err != nil {
		return err
	}
	if ip != "" {
		if err := l.bump(ctx, attemptKey(scope, "ip", ip)); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the identifier budget, called after a successful login.
func (l *AttemptLimiter) Reset(ctx context.Context, scope, identifier string) {
	if l == nil || !l.cfg.Enabled || l.redis == nil {
		return
	}
	if err := l.redis.Del(ctx, attemptKey(scope, "id", identifier)).Err(); err != nil && l.logger != nil {
		l.logger.Warn("rate limit reset failed", zap.Error(err))
	}
}

func (l *AttemptLimiter) bump(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("rate limiter unavailable; failing open", zap.Error(err))
		}
		return nil
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cfg.Window()).Err(); err != nil && l.logger != nil {
			l.logger.Warn("rate limiter expire failed", zap.Error(err))
		}
	}
	if count > int64(l.cfg.MaxAttempts) {
		return fmt.Errorf("%w: %s", ErrRateLimited, key)
	}
	return nil
}

func attemptKey(scope, kind, value string) string {
	return "ratelimit:" + scope + ":" + kind + ":" + strings.ToLower(value)
}
