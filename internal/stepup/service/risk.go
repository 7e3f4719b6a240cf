package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/clockx"
)

// ruleCategoryOrder fixes the cross-category evaluation order. Within a
// category the store hands rules back by priority descending, earliest
// created first on ties.
var ruleCategoryOrder = []domain.RuleKind{
	domain.RuleRoute,
	domain.RuleAmount,
	domain.RuleContext,
	domain.RuleTime,
}

// Evaluator decides whether a request context needs elevation and to what
// level. It is stateless: it only reads the policy rules and the trusted
// device bindings.
type Evaluator struct {
	rules   store.Rules
	devices store.TrustedDevices
	clock   clockx.Clock
	logger  *slog.Logger
}

func NewEvaluator(rules store.Rules, devices store.TrustedDevices, clock clockx.Clock, logger *slog.Logger) *Evaluator {
	return &Evaluator{rules: rules, devices: devices, clock: clock, logger: logger}
}

// Evaluate runs the policy match: route rules, then amount, context and
// time rules, org-scoped rules shadowing global ones within each category.
// The first match sets the required level; later matches only extend the
// diagnostic trail. A trusted device at or above the required level
// satisfies the requirement without a challenge.
func (e *Evaluator) Evaluate(ctx context.Context, ec domain.EvaluationContext) (domain.EvaluationResult, error) {
	now := e.clock.Now().UTC()

	all, err := e.rules.ListRulesForOrg(ctx, ec.OrgID)
	if err != nil {
		return domain.EvaluationResult{}, storeErr("list rules", err)
	}

	required := ec.CurrentLevel
	var (
		trail     []string
		methods   []domain.FactorType
		decided   bool
		riskScore float64
	)

	for _, kind := range ruleCategoryOrder {
		for _, r := range matchCategory(all, kind, ec, now) {
			trail = append(trail, r.Name)
			if !decided {
				required = r.RequiredLevel
				methods = r.Methods
				decided = true
			}
		}
	}
	riskScore = scoreRisk(required, len(trail))

	res := domain.EvaluationResult{
		RequiredLevel:  required,
		CurrentLevel:   ec.CurrentLevel,
		MatchedRules:   trail,
		RiskScore:      riskScore,
		AllowedMethods: methods,
	}

	e.logger.DebugContext(ctx, "risk evaluated",
		"user_id", ec.UserID,
		"route", ec.Route,
		"required", required.String(),
		"current", ec.CurrentLevel.String(),
		"matched_rules", len(trail),
	)

	if ec.CurrentLevel.Satisfies(required) {
		return res, nil
	}

	// Policy demands elevation; a live device trust at or above the
	// required level collapses this to "not required" for the caller.
	if ec.DeviceID != "" {
		d, err := e.devices.GetTrustedDevice(ctx, ec.UserID, ec.DeviceID, now)
		switch {
		case err == nil && d.Level.Satisfies(required):
			res.TrustSatisfied = true
			return res, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return domain.EvaluationResult{}, storeErr("lookup trusted device", err)
		}
	}

	res.StepUpRequired = true
	return res, nil
}

// matchCategory returns the rules of one kind that match, org-scoped rules
// first; global rules only participate when no org rule of the kind matched.
func matchCategory(all []domain.Rule, kind domain.RuleKind, ec domain.EvaluationContext, now time.Time) []domain.Rule {
	var orgMatches, globalMatches []domain.Rule
	for _, r := range all {
		if r.Kind != kind || !r.Matches(ec, now) {
			continue
		}
		if r.OrgID != "" {
			orgMatches = append(orgMatches, r)
		} else {
			globalMatches = append(globalMatches, r)
		}
	}
	if len(orgMatches) > 0 {
		return orgMatches
	}
	return globalMatches
}

// scoreRisk condenses the match outcome into a [0,1] diagnostic score:
// the required tier dominates, each extra matched rule nudges it up.
func scoreRisk(required domain.SecurityLevel, matches int) float64 {
	score := 0.25 * float64(required)
	if matches > 1 {
		score += 0.05 * float64(matches-1)
	}
	if score > 1 {
		score = 1
	}
	return score
}
