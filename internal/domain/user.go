package domain

import "time"

// Role is the closed set of authorization roles for users.
type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

// ValidRole reports whether r is part of the closed role set.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin:
		return true
	}
	return false
}

// User is the domain model for account holders. PasswordHash and the token
// digest fields are never serialized outward; handlers copy the public
// fields into response DTOs instead.
type User struct {
	ID                   string
	Name                 string
	Email                string
	PasswordHash         string
	Role                 Role
	Active               bool
	EmailVerified        bool
	PasswordChangedAt    *time.Time
	ResetTokenDigest     *string
	ResetTokenExpiresAt  *time.Time
	VerifyTokenDigest    *string
	VerifyTokenExpiresAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PasswordChangedAfter reports whether the password was changed after the
// given token issue time. Comparison is at second granularity to match the
// issued-at precision of session tokens; a password change is recorded one
// second in the past so a token minted in the same instant as the change
// still validates.
func (u *User) PasswordChangedAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.Unix() < u.PasswordChangedAt.Unix()
}

// HasPendingReset reports whether a password reset is in flight.
func (u *User) HasPendingReset() bool {
	return u.ResetTokenDigest != nil && u.ResetTokenExpiresAt != nil
}

// HasPendingVerification reports whether email verification is outstanding.
func (u *User) HasPendingVerification() bool {
	return u.VerifyTokenDigest != nil && u.VerifyTokenExpiresAt != nil
}
