package domain

import "time"

// FactorType identifies the proof mechanism behind a factor.
type FactorType string

const (
	FactorTOTP       FactorType = "totp"
	FactorWebAuthn   FactorType = "webauthn"
	FactorSMS        FactorType = "sms"
	FactorEmail      FactorType = "email"
	FactorBackupCode FactorType = "backup_code"
)

// ParseFactorType validates a factor type name. Returns "" for unknown input.
func ParseFactorType(s string) FactorType {
	switch FactorType(s) {
	case FactorTOTP, FactorWebAuthn, FactorSMS, FactorEmail, FactorBackupCode:
		return FactorType(s)
	}
	return ""
}

// FactorPriority orders a user's factors for method suggestions.
type FactorPriority string

const (
	PriorityPrimary   FactorPriority = "primary"
	PrioritySecondary FactorPriority = "secondary"
	PriorityBackup    FactorPriority = "backup"
)

// FactorStatus is the factor lifecycle state. A factor only satisfies
// challenges while active; disabled factors are never reused.
type FactorStatus string

const (
	FactorPending  FactorStatus = "pending"
	FactorActive   FactorStatus = "active"
	FactorDisabled FactorStatus = "disabled"
	FactorExpired  FactorStatus = "expired"
)

// Factor is a single enrolled authentication method bound to a user.
// Metadata carries the adapter's provisioning state (TOTP secret, WebAuthn
// credential blob, masked phone/email target) and is opaque to the engine.
type Factor struct {
	ID         string
	UserID     string
	Type       FactorType
	Priority   FactorPriority
	Status     FactorStatus
	Name       string
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	VerifiedAt *time.Time
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
}

// Usable reports whether the factor can satisfy a challenge at time now.
func (f Factor) Usable(now time.Time) bool {
	if f.Status != FactorActive {
		return false
	}
	if f.ExpiresAt != nil && !now.Before(*f.ExpiresAt) {
		return false
	}
	return true
}
