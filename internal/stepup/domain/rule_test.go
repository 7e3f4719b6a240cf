package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSecurityLevelSatisfies(t *testing.T) {
	t.Parallel()

	require.True(t, LevelHigh.Satisfies(LevelElevated))
	require.True(t, LevelElevated.Satisfies(LevelElevated))
	require.False(t, LevelBasic.Satisfies(LevelElevated))
	require.True(t, LevelNone.Satisfies(LevelNone))
}

func TestParseSecurityLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, LevelElevated, ParseSecurityLevel("elevated"))
	require.Equal(t, LevelHigh, ParseSecurityLevel("high"))
	require.Equal(t, LevelNone, ParseSecurityLevel("bogus"))
	require.Equal(t, LevelNone, ParseSecurityLevel(""))
}

func TestRouteRuleMatching(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("exact route", func(t *testing.T) {
		r := Rule{Kind: RuleRoute, RoutePattern: "/payments/transfer"}
		require.True(t, r.Matches(EvaluationContext{Route: "/payments/transfer"}, now))
		require.False(t, r.Matches(EvaluationContext{Route: "/payments/refund"}, now))
	})

	t.Run("glob covers deeper paths", func(t *testing.T) {
		r := Rule{Kind: RuleRoute, RoutePattern: "/payments/*"}
		require.True(t, r.Matches(EvaluationContext{Route: "/payments/transfer"}, now))
		require.True(t, r.Matches(EvaluationContext{Route: "/payments/transfer/confirm"}, now))
		require.False(t, r.Matches(EvaluationContext{Route: "/accounts/close"}, now))
	})

	t.Run("action narrows the match", func(t *testing.T) {
		r := Rule{Kind: RuleRoute, RoutePattern: "/payments/*", Action: "delete"}
		require.True(t, r.Matches(EvaluationContext{Route: "/payments/transfer", Action: "delete"}, now))
		require.False(t, r.Matches(EvaluationContext{Route: "/payments/transfer", Action: "create"}, now))
	})

	t.Run("empty pattern never matches", func(t *testing.T) {
		r := Rule{Kind: RuleRoute}
		require.False(t, r.Matches(EvaluationContext{Route: "/anything"}, now))
	})
}

func TestAmountRuleMatching(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	amount := func(v float64) *float64 { return &v }

	r := Rule{Kind: RuleAmount, MinAmount: 1000, Currency: "USD"}

	require.True(t, r.Matches(EvaluationContext{Amount: amount(1500), Currency: "USD"}, now))
	require.True(t, r.Matches(EvaluationContext{Amount: amount(1000), Currency: "usd"}, now))
	require.False(t, r.Matches(EvaluationContext{Amount: amount(999.99), Currency: "USD"}, now))
	require.False(t, r.Matches(EvaluationContext{Amount: amount(1500), Currency: "AUD"}, now))
	require.False(t, r.Matches(EvaluationContext{Currency: "USD"}, now))

	t.Run("currency-agnostic when unset", func(t *testing.T) {
		any := Rule{Kind: RuleAmount, MinAmount: 100}
		require.True(t, any.Matches(EvaluationContext{Amount: amount(200), Currency: "AUD"}, now))
	})
}

func TestContextRuleMatching(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := Rule{Kind: RuleContext, Attribute: "resource_type", Value: "api_key"}
	require.True(t, r.Matches(EvaluationContext{ResourceType: "api_key"}, now))
	require.False(t, r.Matches(EvaluationContext{ResourceType: "document"}, now))
}

func TestTimeRuleMatching(t *testing.T) {
	t.Parallel()

	at := func(hour int) time.Time {
		return time.Date(2025, 6, 1, hour, 30, 0, 0, time.UTC)
	}

	t.Run("plain window", func(t *testing.T) {
		r := Rule{Kind: RuleTime, StartHour: 9, EndHour: 17}
		require.True(t, r.Matches(EvaluationContext{}, at(9)))
		require.True(t, r.Matches(EvaluationContext{}, at(16)))
		require.False(t, r.Matches(EvaluationContext{}, at(17)))
		require.False(t, r.Matches(EvaluationContext{}, at(3)))
	})

	t.Run("overnight window wraps", func(t *testing.T) {
		r := Rule{Kind: RuleTime, StartHour: 22, EndHour: 6}
		require.True(t, r.Matches(EvaluationContext{}, at(23)))
		require.True(t, r.Matches(EvaluationContext{}, at(2)))
		require.False(t, r.Matches(EvaluationContext{}, at(12)))
	})
}

func TestChallengeStateHelpers(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ch := Challenge{Status: ChallengePending, Attempts: 2, MaxAttempts: 5, ExpiresAt: now.Add(time.Minute)}
	require.False(t, ch.Terminal())
	require.False(t, ch.Exhausted())
	require.False(t, ch.ExpiredAt(now))
	require.True(t, ch.ExpiredAt(now.Add(time.Minute)))

	ch.Status = ChallengeVerified
	require.True(t, ch.Terminal())

	ch.Attempts = 5
	require.True(t, ch.Exhausted())
}

func TestLockoutKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "user-1|10.0.0.1", LockoutKey("user-1", "10.0.0.1"))
	require.NotEqual(t, LockoutKey("user-1", "10.0.0.2"), LockoutKey("user-1", "10.0.0.1"))
}

func TestRequirementMethodAllowed(t *testing.T) {
	t.Parallel()

	// No allowed methods means the user had no usable factor at evaluation.
	empty := StepUpRequirement{}
	require.False(t, empty.MethodAllowed(FactorTOTP))

	narrow := StepUpRequirement{AllowedMethods: []FactorType{FactorWebAuthn, FactorTOTP}}
	require.True(t, narrow.MethodAllowed(FactorTOTP))
	require.False(t, narrow.MethodAllowed(FactorSMS))
}
