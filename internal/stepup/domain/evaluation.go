package domain

// EvaluationContext describes the request being judged for step-up.
// The transport layer fills it from the session token and request body.
type EvaluationContext struct {
	UserID       string
	OrgID        string
	Route        string
	Action       string
	ResourceType string
	Amount       *float64
	Currency     string
	DeviceID     string
	IPAddress    string
	UserAgent    string
	CurrentLevel SecurityLevel
}

// Attribute exposes named context fields to context rules.
func (ec EvaluationContext) Attribute(name string) string {
	switch name {
	case "route":
		return ec.Route
	case "action":
		return ec.Action
	case "resource_type":
		return ec.ResourceType
	case "currency":
		return ec.Currency
	case "device_id":
		return ec.DeviceID
	case "ip":
		return ec.IPAddress
	case "user_agent":
		return ec.UserAgent
	}
	return ""
}

// EvaluationResult is the risk evaluator's verdict plus its match trail.
// StepUpRequired is false either because no rule demanded more than the
// session already holds, or because a trusted device satisfied the demand —
// TrustSatisfied distinguishes the two for diagnostics.
type EvaluationResult struct {
	RequiredLevel  SecurityLevel
	CurrentLevel   SecurityLevel
	StepUpRequired bool
	TrustSatisfied bool
	MatchedRules   []string
	RiskScore      float64
	AllowedMethods []FactorType
}

// VerificationResult is returned by the engine on a successful (or
// idempotently repeated) proof verification.
type VerificationResult struct {
	Success          bool
	LevelGranted     SecurityLevel
	DeviceRemembered bool

	// GrantToken is a short-lived signed token attesting the granted level,
	// for the transport layer to propagate to the session infrastructure.
	GrantToken string
}
