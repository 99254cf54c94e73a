package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/tour-auth-service/internal/domain"
)

// UserRepository defines the persistence contract the auth core requires.
// Every lookup is restricted to active users. Credential mutations touch
// their digest/expiry pairs in a single statement so readers never observe
// half of a pair.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByResetDigest(ctx context.Context, digest string) (*domain.User, error)
	GetByVerifyDigest(ctx context.Context, digest string) (*domain.User, error)
	SetResetToken(ctx context.Context, id, digest string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id string) error
	SetVerifyToken(ctx context.Context, id, digest string, expiresAt time.Time) error
	MarkEmailVerified(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
}

const userColumns = `
        id, name, email, password_hash, role, active, email_verified,
        password_changed_at, reset_token_digest, reset_token_expires_at,
        verify_token_digest, verify_token_expires_at, created_at, updated_at`

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (name, email, password_hash, role, active, email_verified,
                           verify_token_digest, verify_token_expires_at)
        VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Active,
		user.EmailVerified,
		user.VerifyTokenDigest,
		user.VerifyTokenExpiresAt,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT` + userColumns + `
        FROM users WHERE id=$1 AND active`

	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT` + userColumns + `
        FROM users WHERE email=lower($1) AND active`

	return r.scanOne(r.pool.QueryRow(ctx, query, email))
}

func (r *userRepository) GetByResetDigest(ctx context.Context, digest string) (*domain.User, error) {
	const query = `SELECT` + userColumns + `
        FROM users WHERE reset_token_digest=$1 AND reset_token_expires_at > NOW() AND active`

	return r.scanOne(r.pool.QueryRow(ctx, query, digest))
}

func (r *userRepository) GetByVerifyDigest(ctx context.Context, digest string) (*domain.User, error) {
	const query = `SELECT` + userColumns + `
        FROM users WHERE verify_token_digest=$1 AND verify_token_expires_at > NOW() AND active`

	return r.scanOne(r.pool.QueryRow(ctx, query, digest))
}

func (r *userRepository) SetResetToken(ctx context.Context, id, digest string, expiresAt time.Time) error {
	const query = `
        UPDATE users SET reset_token_digest=$1, reset_token_expires_at=$2, updated_at=NOW()
        WHERE id=$3 AND active`

	return r.exec(ctx, query, digest, expiresAt, id)
}

func (r *userRepository) ClearResetToken(ctx context.Context, id string) error {
	const query = `
        UPDATE users SET reset_token_digest=NULL, reset_token_expires_at=NULL, updated_at=NOW()
        WHERE id=$1`

	return r.exec(ctx, query, id)
}

func (r *userRepository) SetVerifyToken(ctx context.Context, id, digest string, expiresAt time.Time) error {
	const query = `
        UPDATE users SET verify_token_digest=$1, verify_token_expires_at=$2, updated_at=NOW()
        WHERE id=$3 AND active`

	return r.exec(ctx, query, digest, expiresAt, id)
}

func (r *userRepository) MarkEmailVerified(ctx context.Context, id string) error {
	const query = `
        UPDATE users SET email_verified=TRUE,
                         verify_token_digest=NULL, verify_token_expires_at=NULL,
                         updated_at=NOW()
        WHERE id=$1 AND active`

	return r.exec(ctx, query, id)
}

func (r *userRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	const query = `
        UPDATE users SET password_hash=$1, password_changed_at=$2,
                         reset_token_digest=NULL, reset_token_expires_at=NULL,
                         updated_at=NOW()
        WHERE id=$3 AND active`

	return r.exec(ctx, query, passwordHash, changedAt, id)
}

func (r *userRepository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) scanOne(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Active,
		&user.EmailVerified,
		&user.PasswordChangedAt,
		&user.ResetTokenDigest,
		&user.ResetTokenExpiresAt,
		&user.VerifyTokenDigest,
		&user.VerifyTokenExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
