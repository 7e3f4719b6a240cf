package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/idx"
)

func newTestRule(orgID, name string, priority int, createdAt time.Time) domain.Rule {
	return domain.Rule{
		ID:            idx.New().String(),
		OrgID:         orgID,
		Kind:          domain.RuleRoute,
		Name:          name,
		Priority:      priority,
		RequiredLevel: domain.LevelElevated,
		Methods:       []domain.FactorType{domain.FactorTOTP, domain.FactorWebAuthn},
		RoutePattern:  "/payments/*",
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestRuleCRUD(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	rule := newTestRule("org-1", "payments", 10, now)
	require.NoError(t, st.Rules().CreateRule(ctx, rule))

	got, err := st.Rules().GetRule(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, rule.Name, got.Name)
	require.Equal(t, rule.Methods, got.Methods)
	require.Equal(t, domain.LevelElevated, got.RequiredLevel)

	got.Priority = 20
	got.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, st.Rules().UpdateRule(ctx, got))

	updated, err := st.Rules().GetRule(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, 20, updated.Priority)

	require.NoError(t, st.Rules().DeleteRule(ctx, rule.ID))
	_, err = st.Rules().GetRule(ctx, rule.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, st.Rules().DeleteRule(ctx, rule.ID), store.ErrNotFound)
	require.ErrorIs(t, st.Rules().UpdateRule(ctx, got), store.ErrNotFound)
}

func TestListRulesForOrgOrderingAndScope(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	// Equal priority breaks ties by earliest created_at.
	older := newTestRule("org-1", "older", 10, now.Add(-time.Hour))
	newer := newTestRule("org-1", "newer", 10, now)
	highest := newTestRule("org-1", "highest", 50, now)
	global := newTestRule("", "global", 30, now)
	other := newTestRule("org-2", "other-org", 99, now)

	for _, r := range []domain.Rule{newer, older, highest, global, other} {
		require.NoError(t, st.Rules().CreateRule(ctx, r))
	}

	rules, err := st.Rules().ListRulesForOrg(ctx, "org-1")
	require.NoError(t, err)

	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	require.Equal(t, []string{"highest", "global", "older", "newer"}, names)
}
