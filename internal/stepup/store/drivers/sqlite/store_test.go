package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/pkg/idx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())

	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestChallenge(now time.Time, maxAttempts int) domain.Challenge {
	return domain.Challenge{
		ID:            idx.New().String(),
		RequirementID: idx.New().String(),
		UserID:        "user-1",
		FactorID:      idx.New().String(),
		Type:          domain.FactorTOTP,
		Status:        domain.ChallengePending,
		MaxAttempts:   maxAttempts,
		IPAddress:     "10.0.0.1",
		UserAgent:     "test-agent",
		CreatedAt:     now,
		ExpiresAt:     now.Add(5 * time.Minute),
	}
}

func newTestRequirement(now time.Time) domain.StepUpRequirement {
	return domain.StepUpRequirement{
		ID:             idx.New().String(),
		UserID:         "user-1",
		OrgID:          "org-1",
		Route:          "/payments/transfer",
		RequiredLevel:  domain.LevelElevated,
		CurrentLevel:   domain.LevelBasic,
		MatchedRules:   []string{"high-value-transfer"},
		RiskScore:      0.5,
		AllowedMethods: []domain.FactorType{domain.FactorTOTP},
		Status:         domain.RequirementPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(5 * time.Minute),
	}
}
