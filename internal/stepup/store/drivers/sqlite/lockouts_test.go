package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
)

var testLockoutPolicy = store.LockoutPolicy{
	Threshold: 3,
	Window:    15 * time.Minute,
	LockFor:   30 * time.Minute,
}

func TestRecordFailureEngagesLockAtThreshold(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()
	key := domain.LockoutKey("user-1", "10.0.0.1")

	for i := 1; i <= 2; i++ {
		l, err := st.Lockouts().RecordFailure(ctx, key, testLockoutPolicy, now)
		require.NoError(t, err)
		require.Equal(t, i, l.Failures)
		require.False(t, l.LockedAt(now))
	}

	l, err := st.Lockouts().RecordFailure(ctx, key, testLockoutPolicy, now)
	require.NoError(t, err)
	require.Equal(t, 3, l.Failures)
	require.True(t, l.LockedAt(now))
	require.Equal(t, now.Add(testLockoutPolicy.LockFor), l.LockedUntil)

	// The lock releases once its window elapses.
	require.False(t, l.LockedAt(now.Add(31*time.Minute)))
}

func TestRecordFailureResetsAfterWindow(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()
	key := domain.LockoutKey("user-1", "10.0.0.1")

	_, err := st.Lockouts().RecordFailure(ctx, key, testLockoutPolicy, now)
	require.NoError(t, err)
	_, err = st.Lockouts().RecordFailure(ctx, key, testLockoutPolicy, now)
	require.NoError(t, err)

	// A failure after the accumulation window starts a fresh count.
	later := now.Add(16 * time.Minute)
	l, err := st.Lockouts().RecordFailure(ctx, key, testLockoutPolicy, later)
	require.NoError(t, err)
	require.Equal(t, 1, l.Failures)
}

func TestLockoutKeysAreIndependent(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()

	keyA := domain.LockoutKey("user-1", "10.0.0.1")
	keyB := domain.LockoutKey("user-1", "10.0.0.2")

	for i := 0; i < testLockoutPolicy.Threshold; i++ {
		_, err := st.Lockouts().RecordFailure(ctx, keyA, testLockoutPolicy, now)
		require.NoError(t, err)
	}

	a, err := st.Lockouts().GetLockout(ctx, keyA)
	require.NoError(t, err)
	require.True(t, a.LockedAt(now))

	// The same user from a different ip is untouched.
	_, err = st.Lockouts().GetLockout(ctx, keyB)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestClearLockout(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := testClock()
	key := domain.LockoutKey("user-1", "10.0.0.1")

	_, err := st.Lockouts().RecordFailure(ctx, key, testLockoutPolicy, now)
	require.NoError(t, err)

	require.NoError(t, st.Lockouts().ClearLockout(ctx, key))
	require.NoError(t, st.Lockouts().ClearLockout(ctx, key), "clearing an absent key is a no-op")

	_, err = st.Lockouts().GetLockout(ctx, key)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBackupCodeConsumeOnce(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.BackupCodes().CreateBackupCode(ctx, "user-1", "hash-1"))
	require.NoError(t, st.BackupCodes().CreateBackupCode(ctx, "user-1", "hash-2"))

	n, err := st.BackupCodes().CountBackupCodes(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	consumed, err := st.BackupCodes().ConsumeBackupCode(ctx, "user-1", "hash-1")
	require.NoError(t, err)
	require.True(t, consumed)

	// A spent code can never verify again.
	consumed, err = st.BackupCodes().ConsumeBackupCode(ctx, "user-1", "hash-1")
	require.NoError(t, err)
	require.False(t, consumed)

	// Another user's identical fingerprint is out of reach.
	consumed, err = st.BackupCodes().ConsumeBackupCode(ctx, "user-2", "hash-2")
	require.NoError(t, err)
	require.False(t, consumed)

	require.NoError(t, st.BackupCodes().DeleteAllBackupCodes(ctx, "user-1"))
	n, err = st.BackupCodes().CountBackupCodes(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
