package session

import (
	"time"

	"github.com/google/uuid"
)

// DefaultResendCooldown is used when no cooldown is configured. It mirrors
// the backend's rate limit so the UI can disable the resend action before
// the backend would reject it anyway.
const DefaultResendCooldown = 60 * time.Second

// VerificationRequest records a verification email issuance. It is ephemeral
// and only drives the resend-cooldown display; the backend remains the
// authority on rate limits.
type VerificationRequest struct {
	ID       uuid.UUID
	Email    string
	IssuedAt time.Time
}

// NewVerificationRequest records an issuance for the given address.
func NewVerificationRequest(email string, issuedAt time.Time) VerificationRequest {
	return VerificationRequest{
		ID:       uuid.New(),
		Email:    email,
		IssuedAt: issuedAt,
	}
}

// CanResend reports whether the cooldown window has elapsed at instant now.
func (v VerificationRequest) CanResend(now time.Time, cooldown time.Duration) bool {
	if v.IssuedAt.IsZero() {
		return true
	}
	if cooldown <= 0 {
		cooldown = DefaultResendCooldown
	}
	return !now.Before(v.IssuedAt.Add(cooldown))
}

// ResendAvailableAt returns the instant the resend action unlocks.
func (v VerificationRequest) ResendAvailableAt(cooldown time.Duration) time.Time {
	if cooldown <= 0 {
		cooldown = DefaultResendCooldown
	}
	return v.IssuedAt.Add(cooldown)
}
