package factor

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/pkg/clockx"
)

func TestTOTPEnrollAndVerify(t *testing.T) {
	t.Parallel()

	clock := clockx.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	adapter := NewTOTPAdapter("authsome-test", clock)
	ctx := context.Background()

	enrollment, err := adapter.Enroll(ctx, EnrollRequest{UserID: "user-1", Username: "alex"})
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Metadata["secret"])
	require.Equal(t, enrollment.Metadata["secret"], enrollment.Provisioning["secret"])
	require.Contains(t, enrollment.Provisioning["otpauth_url"], "otpauth://totp/")
	require.False(t, enrollment.Activated, "authenticator factors need an enrollment proof")

	f := domain.Factor{ID: "f-1", UserID: "user-1", Type: domain.FactorTOTP, Metadata: enrollment.Metadata}

	code, err := totp.GenerateCode(enrollment.Metadata["secret"], clock.Now())
	require.NoError(t, err)

	outcome, err := adapter.Verify(ctx, f, "", code)
	require.NoError(t, err)
	require.True(t, outcome.Valid)

	outcome, err = adapter.Verify(ctx, f, "", "000000")
	require.NoError(t, err)
	require.False(t, outcome.Valid)
}

func TestTOTPVerifyRespectsClock(t *testing.T) {
	t.Parallel()

	clock := clockx.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	adapter := NewTOTPAdapter("authsome-test", clock)
	ctx := context.Background()

	enrollment, err := adapter.Enroll(ctx, EnrollRequest{UserID: "user-1", Username: "alex"})
	require.NoError(t, err)
	f := domain.Factor{ID: "f-1", UserID: "user-1", Type: domain.FactorTOTP, Metadata: enrollment.Metadata}

	code, err := totp.GenerateCode(enrollment.Metadata["secret"], clock.Now())
	require.NoError(t, err)

	// Far outside the skew window the code no longer verifies.
	clock.Advance(10 * time.Minute)
	outcome, err := adapter.Verify(ctx, f, "", code)
	require.NoError(t, err)
	require.False(t, outcome.Valid)
}

func TestTOTPVerifyWithoutSecret(t *testing.T) {
	t.Parallel()

	clock := clockx.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	adapter := NewTOTPAdapter("authsome-test", clock)

	f := domain.Factor{ID: "f-1", UserID: "user-1", Type: domain.FactorTOTP}
	_, err := adapter.Verify(context.Background(), f, "", "123456")
	require.Error(t, err)
}
