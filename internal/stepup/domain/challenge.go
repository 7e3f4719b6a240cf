package domain

import "time"

// ChallengeStatus is the challenge sub-state machine. Once a challenge
// leaves pending the transition is terminal.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeVerified  ChallengeStatus = "verified"
	ChallengeFailed    ChallengeStatus = "failed"
	ChallengeExpired   ChallengeStatus = "expired"
	ChallengeCancelled ChallengeStatus = "cancelled"
)

// Challenge is one bounded-time, bounded-attempt window to prove possession
// of a factor. ProviderState carries adapter state that must survive between
// issuing material and verifying the proof (e.g. an OTP fingerprint or a
// WebAuthn session blob).
type Challenge struct {
	ID            string
	RequirementID string
	UserID        string
	FactorID      string
	Type          FactorType
	Status        ChallengeStatus
	Attempts      int
	MaxAttempts   int
	IPAddress     string
	UserAgent     string
	ProviderState string

	// DeviceRemembered records whether the successful verification of this
	// challenge wrote a trusted-device entry, so an idempotent re-verify can
	// reproduce the original result without repeating the side effect.
	DeviceRemembered bool

	CreatedAt  time.Time
	ExpiresAt  time.Time
	VerifiedAt *time.Time
}

// Terminal reports whether the challenge has left the pending state.
func (c Challenge) Terminal() bool { return c.Status != ChallengePending }

// ExpiredAt reports whether the challenge's absolute expiry has passed.
// Expiry dominates the stored status: a pending row past its expiry is
// non-actionable even before any sweep has run.
func (c Challenge) ExpiredAt(now time.Time) bool { return !now.Before(c.ExpiresAt) }

// Exhausted reports whether all permitted attempts have been consumed.
func (c Challenge) Exhausted() bool { return c.Attempts >= c.MaxAttempts }
