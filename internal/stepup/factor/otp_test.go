package factor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/notify"
	"github.com/authsome/stepup/pkg/clockx"
)

// captureDispatcher records outbound messages so tests can read the code a
// real provider would deliver.
type captureDispatcher struct {
	messages []notify.Message
}

func (d *captureDispatcher) Send(_ context.Context, msg notify.Message) error {
	d.messages = append(d.messages, msg)
	return nil
}

func (d *captureDispatcher) last(t *testing.T) notify.Message {
	t.Helper()
	require.NotEmpty(t, d.messages)
	return d.messages[len(d.messages)-1]
}

func TestOTPEnrollmentActivationFlow(t *testing.T) {
	t.Parallel()

	clock := clockx.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := &captureDispatcher{}
	adapter := NewSMSAdapter(dispatcher, clock, 6, 5*time.Minute)
	ctx := context.Background()

	enrollment, err := adapter.Enroll(ctx, EnrollRequest{UserID: "user-1", Target: "+61400000123"})
	require.NoError(t, err)
	require.Equal(t, "+61400000123", enrollment.Metadata["target"])
	require.NotEmpty(t, enrollment.Metadata["activation_hash"])
	require.NotContains(t, enrollment.Provisioning["target_masked"], "400000", "responses never echo the full target")

	sent := dispatcher.last(t)
	require.Equal(t, notify.ChannelSMS, sent.Channel)
	require.Len(t, sent.Code, 6)

	f := domain.Factor{ID: "f-1", UserID: "user-1", Type: domain.FactorSMS, Metadata: enrollment.Metadata}

	t.Run("wrong code rejected", func(t *testing.T) {
		outcome, err := adapter.Verify(ctx, f, "", "000000")
		require.NoError(t, err)
		require.False(t, outcome.Valid)
	})

	t.Run("correct code activates and retires the activation hash", func(t *testing.T) {
		outcome, err := adapter.Verify(ctx, f, "", sent.Code)
		require.NoError(t, err)
		require.True(t, outcome.Valid)
		require.NotNil(t, outcome.UpdatedMetadata)
		require.Empty(t, outcome.UpdatedMetadata["activation_hash"])
		require.Equal(t, "+61400000123", outcome.UpdatedMetadata["target"])
	})
}

func TestOTPChallengeFlow(t *testing.T) {
	t.Parallel()

	clock := clockx.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := &captureDispatcher{}
	adapter := NewEmailAdapter(dispatcher, clock, 6, 5*time.Minute)
	ctx := context.Background()

	f := domain.Factor{
		ID:       "f-1",
		UserID:   "user-1",
		Type:     domain.FactorEmail,
		Metadata: map[string]string{"target": "alex@example.com"},
	}

	material, err := adapter.IssueChallengeMaterial(ctx, f)
	require.NoError(t, err)
	require.NotEmpty(t, material.ProviderState)
	require.Equal(t, "sent", material.Data["delivery"])
	require.NotContains(t, material.Data["target_masked"], "alex@", "masked target hides the mailbox")

	sent := dispatcher.last(t)
	require.Equal(t, notify.ChannelEmail, sent.Channel)

	t.Run("correct code verifies against challenge state", func(t *testing.T) {
		outcome, err := adapter.Verify(ctx, f, material.ProviderState, sent.Code)
		require.NoError(t, err)
		require.True(t, outcome.Valid)
	})

	t.Run("wrong code rejected", func(t *testing.T) {
		outcome, err := adapter.Verify(ctx, f, material.ProviderState, "999999")
		require.NoError(t, err)
		require.False(t, outcome.Valid)
	})

	t.Run("expired code rejected", func(t *testing.T) {
		clock.Advance(6 * time.Minute)
		outcome, err := adapter.Verify(ctx, f, material.ProviderState, sent.Code)
		require.NoError(t, err)
		require.False(t, outcome.Valid)
	})
}

func TestOTPEnrollRequiresTarget(t *testing.T) {
	t.Parallel()

	clock := clockx.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	adapter := NewSMSAdapter(&captureDispatcher{}, clock, 6, 5*time.Minute)

	_, err := adapter.Enroll(context.Background(), EnrollRequest{UserID: "user-1"})
	require.ErrorIs(t, err, ErrMissingTarget)
}
