package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/clockx"
	"github.com/authsome/stepup/pkg/idx"
)

// ErrInvalidRule reports a rule that fails validation; the message names
// the offending field.
var ErrInvalidRule = errors.New("invalid rule")

// PolicyService is the admin surface over the ordered rule sets the risk
// evaluator consumes. Rules are validated on write so evaluation never has
// to defend against malformed predicates.
type PolicyService struct {
	rules  store.Rules
	clock  clockx.Clock
	logger *slog.Logger
}

func NewPolicyService(rules store.Rules, clock clockx.Clock, logger *slog.Logger) *PolicyService {
	return &PolicyService{rules: rules, clock: clock, logger: logger}
}

// Create validates and persists a new rule. An empty OrgID makes the rule
// global.
func (s *PolicyService) Create(ctx context.Context, r domain.Rule) (domain.Rule, error) {
	if err := validateRule(r); err != nil {
		return domain.Rule{}, err
	}

	now := s.clock.Now().UTC()
	r.ID = idx.New().String()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := s.rules.CreateRule(ctx, r); err != nil {
		return domain.Rule{}, storeErr("create rule", err)
	}

	s.logger.InfoContext(ctx, "policy rule created",
		"rule_id", r.ID,
		"org_id", r.OrgID,
		"kind", string(r.Kind),
		"required_level", r.RequiredLevel.String(),
	)
	return r, nil
}

// Get fetches one rule by id.
func (s *PolicyService) Get(ctx context.Context, id string) (domain.Rule, error) {
	r, err := s.rules.GetRule(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Rule{}, ErrNotFound
	}
	if err != nil {
		return domain.Rule{}, storeErr("get rule", err)
	}
	return r, nil
}

// Update replaces the mutable fields of an existing rule. The original
// CreatedAt is preserved so priority tie-breaking stays stable.
func (s *PolicyService) Update(ctx context.Context, r domain.Rule) (domain.Rule, error) {
	if err := validateRule(r); err != nil {
		return domain.Rule{}, err
	}

	current, err := s.Get(ctx, r.ID)
	if err != nil {
		return domain.Rule{}, err
	}
	r.CreatedAt = current.CreatedAt
	r.UpdatedAt = s.clock.Now().UTC()

	if err := s.rules.UpdateRule(ctx, r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Rule{}, ErrNotFound
		}
		return domain.Rule{}, storeErr("update rule", err)
	}

	s.logger.InfoContext(ctx, "policy rule updated", "rule_id", r.ID, "org_id", r.OrgID)
	return r, nil
}

// Delete removes a rule.
func (s *PolicyService) Delete(ctx context.Context, id string) error {
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return storeErr("delete rule", err)
	}
	s.logger.InfoContext(ctx, "policy rule deleted", "rule_id", id)
	return nil
}

// ListForOrg returns the org's rules plus global rules in evaluation order.
func (s *PolicyService) ListForOrg(ctx context.Context, orgID string) ([]domain.Rule, error) {
	rules, err := s.rules.ListRulesForOrg(ctx, orgID)
	if err != nil {
		return nil, storeErr("list rules", err)
	}
	return rules, nil
}

func validateRule(r domain.Rule) error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Priority < 0 {
		return fmt.Errorf("%w: priority must be non-negative", ErrInvalidRule)
	}
	if r.RequiredLevel <= domain.LevelNone || r.RequiredLevel > domain.LevelHigh {
		return fmt.Errorf("%w: required level must be basic, elevated or high", ErrInvalidRule)
	}
	for _, m := range r.Methods {
		if domain.ParseFactorType(string(m)) == "" {
			return fmt.Errorf("%w: unknown method %q", ErrInvalidRule, m)
		}
	}

	switch r.Kind {
	case domain.RuleRoute:
		if r.RoutePattern == "" {
			return fmt.Errorf("%w: route rules need a route pattern", ErrInvalidRule)
		}
	case domain.RuleAmount:
		if r.MinAmount <= 0 {
			return fmt.Errorf("%w: amount rules need a positive minimum amount", ErrInvalidRule)
		}
	case domain.RuleContext:
		if r.Attribute == "" {
			return fmt.Errorf("%w: context rules need an attribute name", ErrInvalidRule)
		}
	case domain.RuleTime:
		if r.StartHour < 0 || r.StartHour > 23 || r.EndHour < 0 || r.EndHour > 23 {
			return fmt.Errorf("%w: time rule hours must be within 0-23", ErrInvalidRule)
		}
		if r.StartHour == r.EndHour {
			return fmt.Errorf("%w: time rule window must be non-empty", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	return nil
}
