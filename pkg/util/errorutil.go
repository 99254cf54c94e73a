package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewNoToken rejects a request carrying no candidate session token.
func NewNoToken() error {
	return NewDomainError("NO_TOKEN", "you are not logged in; please log in to get access", http.StatusUnauthorized, nil)
}

// NewInvalidToken collapses malformed, tampered and expired session tokens
// into one client-facing message. The precise reason stays in Err for
// server-side logging only.
func NewInvalidToken(reason error) error {
	return &DomainError{
		Code:       "INVALID_TOKEN",
		Message:    "invalid or expired token; please log in again",
		HTTPStatus: http.StatusUnauthorized,
		Err:        reason,
	}
}

// NewStalePassword rejects a token issued before the owner's last password change.
func NewStalePassword() error {
	return NewDomainError("STALE_PASSWORD", "password was recently changed; please log in again", http.StatusUnauthorized, nil)
}

// NewUserGone rejects a valid token whose owner no longer exists or is inactive.
func NewUserGone() error {
	return NewDomainError("USER_GONE", "the user belonging to this token no longer exists", http.StatusUnauthorized, nil)
}

// NewBadCredentials covers both unknown email and wrong password so callers
// cannot enumerate accounts.
func NewBadCredentials() error {
	return NewDomainError("BAD_CREDENTIALS", "incorrect email or password", http.StatusUnauthorized, nil)
}

// NewUnverifiedEmail rejects logins before the address is confirmed.
func NewUnverifiedEmail() error {
	return NewDomainError("EMAIL_NOT_VERIFIED", "please verify your email address first", http.StatusUnauthorized, nil)
}

// NewTokenInvalidOrExpired covers reset and verification tokens.
func NewTokenInvalidOrExpired() error {
	return NewDomainError("TOKEN_INVALID_OR_EXPIRED", "token is invalid or has expired", http.StatusBadRequest, nil)
}

// NewDeliveryFailed reports a notification send failure after pending
// credential state has been rolled back.
func NewDeliveryFailed(err error) error {
	return &DomainError{
		Code:       "DELIVERY_FAILED",
		Message:    "there was an error sending the email; try again later",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewTooManyRequests reports a tripped rate limit.
func NewTooManyRequests() error {
	return NewDomainError("RATE_LIMITED", "too many attempts; try again later", http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError at the boundary.
// Anything not already tagged is treated as an infrastructure fault.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if de, ok := NewConflict("resource already exists", nil).(*DomainError); ok {
			de.Err = err
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
