package domain

import "time"

// RequirementStatus tracks a step-up requirement. Exactly one terminal
// transition is possible: fulfilled or expired.
type RequirementStatus string

const (
	RequirementPending   RequirementStatus = "pending"
	RequirementFulfilled RequirementStatus = "fulfilled"
	RequirementExpired   RequirementStatus = "expired"
)

// StepUpRequirement records that a specific elevated action needs proof
// beyond the session's current security level. Challenges reference their
// parent requirement; a failed challenge does not fail the requirement while
// the requirement itself is still live.
type StepUpRequirement struct {
	ID           string
	UserID       string
	OrgID        string
	Route        string
	Action       string
	ResourceType string
	Amount       *float64
	Currency     string

	RequiredLevel SecurityLevel
	CurrentLevel  SecurityLevel
	MatchedRules  []string
	RiskScore     float64

	AllowedMethods []FactorType
	Status         RequirementStatus

	CreatedAt   time.Time
	ExpiresAt   time.Time
	FulfilledAt *time.Time
}

// ExpiredAt reports whether the requirement's absolute expiry has passed,
// regardless of the stored status.
func (r StepUpRequirement) ExpiredAt(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// MethodAllowed reports whether t is one of the verification methods the
// matched rule and the user's enrolled factors permit.
func (r StepUpRequirement) MethodAllowed(t FactorType) bool {
	for _, m := range r.AllowedMethods {
		if m == t {
			return true
		}
	}
	return false
}
