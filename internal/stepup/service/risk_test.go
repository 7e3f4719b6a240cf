package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store/drivers/sqlite"
	"github.com/authsome/stepup/pkg/clockx"
	"github.com/authsome/stepup/pkg/idx"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *sqlite.Store, *clockx.Fake) {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	clock := clockx.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEvaluator(st.Rules(), st.TrustedDevices(), clock, logger), st, clock
}

func seedRule(t *testing.T, st *sqlite.Store, clock *clockx.Fake, r domain.Rule) {
	t.Helper()
	r.ID = idx.New().String()
	r.CreatedAt = clock.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	require.NoError(t, st.Rules().CreateRule(context.Background(), r))
}

func TestEvaluateCategoryOrder(t *testing.T) {
	t.Parallel()

	ev, st, clock := newTestEvaluator(t)

	// The amount rule carries a higher priority, but route rules are always
	// consulted first, so the route rule decides the level.
	seedRule(t, st, clock, domain.Rule{
		OrgID:         "org-1",
		Kind:          domain.RuleAmount,
		Name:          "big-amount",
		Priority:      100,
		RequiredLevel: domain.LevelHigh,
		MinAmount:     100,
	})
	seedRule(t, st, clock, domain.Rule{
		OrgID:         "org-1",
		Kind:          domain.RuleRoute,
		Name:          "payments-route",
		Priority:      1,
		RequiredLevel: domain.LevelElevated,
		RoutePattern:  "/payments/*",
	})

	res, err := ev.Evaluate(context.Background(), transferContext("user-1", 500))
	require.NoError(t, err)
	require.True(t, res.StepUpRequired)
	require.Equal(t, domain.LevelElevated, res.RequiredLevel)
	require.Equal(t, []string{"payments-route", "big-amount"}, res.MatchedRules)
}

func TestEvaluateOrgRulesShadowGlobal(t *testing.T) {
	t.Parallel()

	ev, st, clock := newTestEvaluator(t)

	seedRule(t, st, clock, domain.Rule{
		Kind:          domain.RuleRoute,
		Name:          "global-payments",
		Priority:      99,
		RequiredLevel: domain.LevelHigh,
		RoutePattern:  "/payments/*",
	})
	seedRule(t, st, clock, domain.Rule{
		OrgID:         "org-1",
		Kind:          domain.RuleRoute,
		Name:          "org-payments",
		Priority:      1,
		RequiredLevel: domain.LevelElevated,
		RoutePattern:  "/payments/*",
	})

	res, err := ev.Evaluate(context.Background(), transferContext("user-1", 10))
	require.NoError(t, err)
	require.Equal(t, domain.LevelElevated, res.RequiredLevel)
	require.Equal(t, []string{"org-payments"}, res.MatchedRules, "a matching org rule hides global rules of the same kind")

	t.Run("global rule applies when no org rule matches", func(t *testing.T) {
		ec := transferContext("user-2", 10)
		ec.OrgID = "org-2"
		res, err := ev.Evaluate(context.Background(), ec)
		require.NoError(t, err)
		require.Equal(t, domain.LevelHigh, res.RequiredLevel)
		require.Equal(t, []string{"global-payments"}, res.MatchedRules)
	})
}

func TestEvaluatePriorityWithinCategory(t *testing.T) {
	t.Parallel()

	ev, st, clock := newTestEvaluator(t)

	seedRule(t, st, clock, domain.Rule{
		OrgID:         "org-1",
		Kind:          domain.RuleRoute,
		Name:          "low-priority",
		Priority:      10,
		RequiredLevel: domain.LevelElevated,
		RoutePattern:  "/payments/*",
	})
	seedRule(t, st, clock, domain.Rule{
		OrgID:         "org-1",
		Kind:          domain.RuleRoute,
		Name:          "high-priority",
		Priority:      50,
		RequiredLevel: domain.LevelHigh,
		RoutePattern:  "/payments/*",
	})

	res, err := ev.Evaluate(context.Background(), transferContext("user-1", 10))
	require.NoError(t, err)
	require.Equal(t, domain.LevelHigh, res.RequiredLevel, "the highest-priority match decides")
	require.Equal(t, []string{"high-priority", "low-priority"}, res.MatchedRules)
}

func TestEvaluateCurrentLevelSatisfies(t *testing.T) {
	t.Parallel()

	ev, st, clock := newTestEvaluator(t)

	seedRule(t, st, clock, domain.Rule{
		OrgID:         "org-1",
		Kind:          domain.RuleRoute,
		Name:          "payments",
		RequiredLevel: domain.LevelElevated,
		RoutePattern:  "/payments/*",
	})

	ec := transferContext("user-1", 10)
	ec.CurrentLevel = domain.LevelElevated

	res, err := ev.Evaluate(context.Background(), ec)
	require.NoError(t, err)
	require.False(t, res.StepUpRequired)
	require.False(t, res.TrustSatisfied)
	require.NotEmpty(t, res.MatchedRules, "the trail is still reported for diagnostics")
}

func TestEvaluateTrustedDevice(t *testing.T) {
	t.Parallel()

	ev, st, clock := newTestEvaluator(t)
	ctx := context.Background()
	now := clock.Now().UTC()

	seedRule(t, st, clock, domain.Rule{
		OrgID:         "org-1",
		Kind:          domain.RuleRoute,
		Name:          "payments",
		RequiredLevel: domain.LevelElevated,
		RoutePattern:  "/payments/*",
	})

	require.NoError(t, st.TrustedDevices().UpsertTrustedDevice(ctx, domain.TrustedDevice{
		ID:         idx.New().String(),
		UserID:     "user-1",
		DeviceID:   "device-elevated",
		Level:      domain.LevelElevated,
		CreatedAt:  now,
		ExpiresAt:  now.Add(24 * time.Hour),
		LastUsedAt: now,
	}))
	require.NoError(t, st.TrustedDevices().UpsertTrustedDevice(ctx, domain.TrustedDevice{
		ID:         idx.New().String(),
		UserID:     "user-1",
		DeviceID:   "device-basic",
		Level:      domain.LevelBasic,
		CreatedAt:  now,
		ExpiresAt:  now.Add(24 * time.Hour),
		LastUsedAt: now,
	}))

	t.Run("trust at the required level satisfies", func(t *testing.T) {
		ec := transferContext("user-1", 10)
		ec.DeviceID = "device-elevated"
		res, err := ev.Evaluate(ctx, ec)
		require.NoError(t, err)
		require.False(t, res.StepUpRequired)
		require.True(t, res.TrustSatisfied)
	})

	t.Run("trust below the required level does not", func(t *testing.T) {
		ec := transferContext("user-1", 10)
		ec.DeviceID = "device-basic"
		res, err := ev.Evaluate(ctx, ec)
		require.NoError(t, err)
		require.True(t, res.StepUpRequired)
		require.False(t, res.TrustSatisfied)
	})

	t.Run("expired trust does not", func(t *testing.T) {
		clock.Advance(25 * time.Hour)
		ec := transferContext("user-1", 10)
		ec.DeviceID = "device-elevated"
		res, err := ev.Evaluate(ctx, ec)
		require.NoError(t, err)
		require.True(t, res.StepUpRequired)
	})
}

func TestScoreRisk(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, scoreRisk(domain.LevelNone, 0))
	require.Equal(t, 0.5, scoreRisk(domain.LevelElevated, 1))
	require.InDelta(t, 0.55, scoreRisk(domain.LevelElevated, 2), 1e-9)
	require.Equal(t, 1.0, scoreRisk(domain.LevelHigh, 20))
}
