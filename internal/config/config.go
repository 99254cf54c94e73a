package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Mail      MailConfig
	RateLimit RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	PublicURL             string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
//
// JWTSecret is read once at startup and injected into the token manager;
// it is never reloaded at runtime. Rotating it invalidates every
// outstanding session token.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	CookieTTLDays         int
	OpaqueTokenTTLMinutes int
	BcryptCost            int
	IssueTokenOnSignup    bool
}

// MailConfig holds SMTP transport values. An empty Host selects the
// log-only mailer.
type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// RateLimitConfig tunes the login and forgot-password throttle.
type RateLimitConfig struct {
	Enabled       bool
	MaxAttempts   int
	WindowSeconds int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "tour-auth-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			PublicURL:             getEnv("APP_PUBLIC_URL", "http://localhost:8080"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 90),
			CookieTTLDays:         getEnvAsInt("AUTH_COOKIE_TTL_DAYS", 90),
			OpaqueTokenTTLMinutes: getEnvAsInt("AUTH_OPAQUE_TOKEN_TTL_MINUTES", 10),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			IssueTokenOnSignup:    getEnvAsBool("AUTH_ISSUE_TOKEN_ON_SIGNUP", false),
		},
		Mail: MailConfig{
			Host:     os.Getenv("MAIL_HOST"),
			Port:     getEnv("MAIL_PORT", "587"),
			Username: os.Getenv("MAIL_USERNAME"),
			Password: os.Getenv("MAIL_PASSWORD"),
			From:     getEnv("MAIL_FROM", "noreply@example.com"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvAsBool("RATE_LIMIT_ENABLED", true),
			MaxAttempts:   getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 10),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 900),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// IsDevelopment reports whether the service runs in development mode.
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "development"
}

// AccessTokenTTL returns the session token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	if a.AccessTokenTTLMinutes <= 0 {
		return 90 * time.Minute
	}
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// CookieTTL returns the session cookie lifetime.
func (a AuthConfig) CookieTTL() time.Duration {
	return time.Duration(a.CookieTTLDays) * 24 * time.Hour
}

// OpaqueTokenTTL returns the reset and verification token window.
func (a AuthConfig) OpaqueTokenTTL() time.Duration {
	if a.OpaqueTokenTTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(a.OpaqueTokenTTLMinutes) * time.Minute
}

// Window returns the rate limit window duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
