package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserSignedUp           EventType = "user_signed_up"
	EventUserVerified           EventType = "user_verified"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordChanged        EventType = "password_changed"
)

// Event represents a domain event emitted by the auth flows. Payloads never
// carry secrets or digests.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}
