package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
)

func TestChallengeRoundTrip(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	ch := newTestChallenge(now, 5)
	ch.ProviderState = "hash|2025-06-01T12:05:00Z"
	require.NoError(t, st.Challenges().CreateChallenge(ctx, ch))

	got, err := st.Challenges().GetChallenge(ctx, ch.ID, now)
	require.NoError(t, err)
	require.Equal(t, ch.ID, got.ID)
	require.Equal(t, domain.ChallengePending, got.Status)
	require.Equal(t, ch.ProviderState, got.ProviderState)
	require.Equal(t, 0, got.Attempts)
	require.Equal(t, 5, got.MaxAttempts)

	_, err = st.Challenges().GetChallenge(ctx, "missing", now)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordAttemptNeverLosesIncrements(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	const racers = 20
	ch := newTestChallenge(now, racers)
	require.NoError(t, st.Challenges().CreateChallenge(ctx, ch))

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = st.Challenges().RecordAttempt(ctx, ch.ID, now)
		}()
	}
	wg.Wait()

	got, err := st.Challenges().GetChallenge(ctx, ch.ID, now)
	require.NoError(t, err)
	require.Equal(t, racers, got.Attempts, "every racer's increment must land exactly once")
	require.Equal(t, domain.ChallengePending, got.Status, "the final attempt is still checkable")

	// The budget is spent; no further increment lands.
	got, err = st.Challenges().RecordAttempt(ctx, ch.ID, now)
	require.ErrorIs(t, err, store.ErrAlreadyFinalized)
	require.Equal(t, racers, got.Attempts)
}

func TestRecordAttemptExhaustion(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	ch := newTestChallenge(now, 3)
	require.NoError(t, st.Challenges().CreateChallenge(ctx, ch))

	// All three permitted attempts land and stay pending — the last one
	// still gets its proof checked.
	for i := 1; i <= 3; i++ {
		got, err := st.Challenges().RecordAttempt(ctx, ch.ID, now)
		require.NoError(t, err)
		require.Equal(t, i, got.Attempts)
		require.Equal(t, domain.ChallengePending, got.Status)
	}

	got, err := st.Challenges().RecordAttempt(ctx, ch.ID, now)
	require.ErrorIs(t, err, store.ErrAlreadyFinalized)
	require.Equal(t, 3, got.Attempts, "attempt count never moves past the budget")

	// The caller settles the spent challenge; it accepts nothing afterwards.
	require.NoError(t, st.Challenges().FinalizeChallenge(ctx, ch.ID, domain.ChallengeFailed, now))
	_, err = st.Challenges().RecordAttempt(ctx, ch.ID, now)
	require.ErrorIs(t, err, store.ErrAlreadyFinalized)
}

func TestRecordAttemptOnExpiredChallenge(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	ch := newTestChallenge(now, 5)
	require.NoError(t, st.Challenges().CreateChallenge(ctx, ch))

	after := ch.ExpiresAt.Add(time.Second)
	_, err := st.Challenges().RecordAttempt(ctx, ch.ID, after)
	require.ErrorIs(t, err, store.ErrAlreadyFinalized)

	// Lazy expiry: reads past expiry report expired without any sweep.
	got, err := st.Challenges().GetChallenge(ctx, ch.ID, after)
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeExpired, got.Status)
}

func TestFinalizeChallengeFirstWriterWins(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	ch := newTestChallenge(now, 5)
	require.NoError(t, st.Challenges().CreateChallenge(ctx, ch))

	require.NoError(t, st.Challenges().FinalizeChallenge(ctx, ch.ID, domain.ChallengeVerified, now))

	err := st.Challenges().FinalizeChallenge(ctx, ch.ID, domain.ChallengeCancelled, now)
	require.ErrorIs(t, err, store.ErrAlreadyFinalized)

	got, err := st.Challenges().GetChallenge(ctx, ch.ID, now)
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeVerified, got.Status)
	require.NotNil(t, got.VerifiedAt)
}

func TestFinalizeExpiredChallengeRejected(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	ch := newTestChallenge(now, 5)
	require.NoError(t, st.Challenges().CreateChallenge(ctx, ch))

	after := ch.ExpiresAt.Add(time.Second)
	err := st.Challenges().FinalizeChallenge(ctx, ch.ID, domain.ChallengeVerified, after)
	require.ErrorIs(t, err, store.ErrAlreadyFinalized)
}

func TestMarkDeviceRemembered(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	ch := newTestChallenge(now, 5)
	require.NoError(t, st.Challenges().CreateChallenge(ctx, ch))
	require.NoError(t, st.Challenges().FinalizeChallenge(ctx, ch.ID, domain.ChallengeVerified, now))
	require.NoError(t, st.Challenges().MarkDeviceRemembered(ctx, ch.ID))

	got, err := st.Challenges().GetChallenge(ctx, ch.ID, now)
	require.NoError(t, err)
	require.True(t, got.DeviceRemembered)
}

func TestDeleteExpiredChallenges(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	live := newTestChallenge(now, 5)
	dead := newTestChallenge(now.Add(-time.Hour), 5)
	require.NoError(t, st.Challenges().CreateChallenge(ctx, live))
	require.NoError(t, st.Challenges().CreateChallenge(ctx, dead))

	require.NoError(t, st.Challenges().DeleteExpiredChallenges(ctx, now))

	_, err := st.Challenges().GetChallenge(ctx, dead.ID, now)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.Challenges().GetChallenge(ctx, live.ID, now)
	require.NoError(t, err)
}
