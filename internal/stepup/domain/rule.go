package domain

import (
	"path"
	"strings"
	"time"
)

// RuleKind selects which evaluation category a rule belongs to. Categories
// are evaluated in fixed order: route, amount, context, time.
type RuleKind string

const (
	RuleRoute   RuleKind = "route"
	RuleAmount  RuleKind = "amount"
	RuleContext RuleKind = "context"
	RuleTime    RuleKind = "time"
)

// ParseRuleKind validates a rule kind name. Returns "" for unknown input.
func ParseRuleKind(s string) RuleKind {
	switch RuleKind(s) {
	case RuleRoute, RuleAmount, RuleContext, RuleTime:
		return RuleKind(s)
	}
	return ""
}

// Rule is one ordered predicate mapping a request shape to a required
// security level. An empty OrgID makes the rule global. Within a category,
// higher Priority wins; equal priority breaks ties by earliest CreatedAt.
type Rule struct {
	ID       string
	OrgID    string
	Kind     RuleKind
	Name     string
	Priority int

	// RequiredLevel is the security level this rule demands on match.
	RequiredLevel SecurityLevel

	// Methods restricts which factor types may satisfy the resulting
	// requirement. Empty means any of the user's active factors.
	Methods []FactorType

	// Route rules: glob pattern over the request route, optionally
	// narrowed to a single action ("" matches any action).
	RoutePattern string
	Action       string

	// Amount rules: match when the request carries an amount >= MinAmount
	// (in Currency, or any currency when Currency is "").
	MinAmount float64
	Currency  string

	// Context rules: match when the named request attribute equals Value.
	Attribute string
	Value     string

	// Time rules: match when the request's UTC hour falls in
	// [StartHour, EndHour) — a wrapped window (22,6) covers overnight.
	StartHour int
	EndHour   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Matches reports whether the rule's predicate holds for the given context
// at time now. Kind-specific fields drive the check; org filtering happens
// at the evaluator, not here.
func (r Rule) Matches(ec EvaluationContext, now time.Time) bool {
	switch r.Kind {
	case RuleRoute:
		if r.Action != "" && r.Action != ec.Action {
			return false
		}
		return globMatch(r.RoutePattern, ec.Route)

	case RuleAmount:
		if ec.Amount == nil {
			return false
		}
		if r.Currency != "" && !strings.EqualFold(r.Currency, ec.Currency) {
			return false
		}
		return *ec.Amount >= r.MinAmount

	case RuleContext:
		return ec.Attribute(r.Attribute) == r.Value

	case RuleTime:
		hour := now.UTC().Hour()
		if r.StartHour <= r.EndHour {
			return hour >= r.StartHour && hour < r.EndHour
		}
		// Wrapped overnight window.
		return hour >= r.StartHour || hour < r.EndHour
	}
	return false
}

func globMatch(pattern, route string) bool {
	if pattern == "" {
		return false
	}
	if ok, err := path.Match(pattern, route); err == nil && ok {
		return true
	}
	// Allow "/payments/*" style prefixes to cover deeper paths too.
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(route, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == route
}
