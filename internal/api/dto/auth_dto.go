package dto

import (
	"time"

	"github.com/spec-kit/tour-auth-service/internal/domain"
)

// SignupRequest payload for new accounts.
type SignupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResendVerificationRequest payload for requesting a fresh verification token.
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// ForgotPasswordRequest payload for requesting a reset token.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest payload for consuming a reset token.
type ResetPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// ChangePasswordRequest payload for the authenticated password change.
type ChangePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the outward user shape. Credential fields never appear
// here.
type UserResponse struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Role          domain.Role `json:"role"`
	EmailVerified bool        `json:"email_verified"`
}

// NewUserResponse copies the public fields of a user.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:            user.ID,
		Name:          user.Name,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
	}
}
