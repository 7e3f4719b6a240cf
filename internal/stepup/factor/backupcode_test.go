package factor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/internal/stepup/store/drivers/sqlite"
)

func newTestBackupCodes(t *testing.T) store.BackupCodes {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	return st.BackupCodes()
}

func TestBackupCodeEnrollAndConsume(t *testing.T) {
	t.Parallel()

	adapter := NewBackupCodeAdapter(newTestBackupCodes(t), 10)
	ctx := context.Background()

	enrollment, err := adapter.Enroll(ctx, EnrollRequest{UserID: "user-1"})
	require.NoError(t, err)
	require.True(t, enrollment.Activated, "server-minted codes need no activation proof")
	require.Equal(t, "10", enrollment.Provisioning["count"])

	codes := splitCodes(t, enrollment.Provisioning["codes"], 10)
	f := domain.Factor{ID: "f-1", UserID: "user-1", Type: domain.FactorBackupCode, Status: domain.FactorActive}

	t.Run("each code redeems exactly once", func(t *testing.T) {
		outcome, err := adapter.Verify(ctx, f, "", codes[0])
		require.NoError(t, err)
		require.True(t, outcome.Valid)

		outcome, err = adapter.Verify(ctx, f, "", codes[0])
		require.NoError(t, err)
		require.False(t, outcome.Valid)
	})

	t.Run("unknown code rejected", func(t *testing.T) {
		outcome, err := adapter.Verify(ctx, f, "", "not-a-code")
		require.NoError(t, err)
		require.False(t, outcome.Valid)
	})

	t.Run("other users cannot redeem the codes", func(t *testing.T) {
		other := domain.Factor{ID: "f-2", UserID: "user-2", Type: domain.FactorBackupCode}
		outcome, err := adapter.Verify(ctx, other, "", codes[1])
		require.NoError(t, err)
		require.False(t, outcome.Valid)
	})
}

func TestBackupCodeRegenerateInvalidatesOldBatch(t *testing.T) {
	t.Parallel()

	adapter := NewBackupCodeAdapter(newTestBackupCodes(t), 5)
	ctx := context.Background()

	enrollment, err := adapter.Enroll(ctx, EnrollRequest{UserID: "user-1"})
	require.NoError(t, err)
	old := splitCodes(t, enrollment.Provisioning["codes"], 5)

	fresh, err := adapter.Regenerate(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, fresh, 5)

	f := domain.Factor{ID: "f-1", UserID: "user-1", Type: domain.FactorBackupCode}

	outcome, err := adapter.Verify(ctx, f, "", old[0])
	require.NoError(t, err)
	require.False(t, outcome.Valid, "regeneration retires the previous batch")

	outcome, err = adapter.Verify(ctx, f, "", fresh[0])
	require.NoError(t, err)
	require.True(t, outcome.Valid)
}

func splitCodes(t *testing.T, joined string, want int) []string {
	t.Helper()
	codes := strings.Fields(joined)
	require.Len(t, codes, want)
	return codes
}
