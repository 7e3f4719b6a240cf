package sqlite

import (
	"context"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
)

type lockoutsRepo struct {
	db dbtx
}

func (r *lockoutsRepo) GetLockout(ctx context.Context, key string) (domain.Lockout, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT lockout_key, failures, window_expires_at, locked_until, updated_at
		FROM lockouts WHERE lockout_key = ?`, key)

	l, err := scanLockout(row)
	if err != nil {
		return domain.Lockout{}, mapNotFound(err)
	}
	return l, nil
}

// RecordFailure upserts the counter in one statement. The nested CASE
// expressions reset the window, bump the counter, and engage the lock all in
// the same atomic write, so concurrent failures for one key cannot undercount.
func (r *lockoutsRepo) RecordFailure(ctx context.Context, key string, p store.LockoutPolicy, now time.Time) (domain.Lockout, error) {
	nowUTC := now.UTC()
	windowExpiry := nowUTC.Add(p.Window)
	lockedUntil := nowUTC.Add(p.LockFor)

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO lockouts (lockout_key, failures, window_expires_at, locked_until, updated_at)
		VALUES (?, 1, ?, CASE WHEN 1 >= ? THEN ? ELSE ? END, ?)
		ON CONFLICT (lockout_key) DO UPDATE SET
			failures = CASE
				WHEN lockouts.window_expires_at <= excluded.updated_at THEN 1
				ELSE lockouts.failures + 1
			END,
			window_expires_at = CASE
				WHEN lockouts.window_expires_at <= excluded.updated_at THEN excluded.window_expires_at
				ELSE lockouts.window_expires_at
			END,
			locked_until = CASE
				WHEN (CASE
					WHEN lockouts.window_expires_at <= excluded.updated_at THEN 1
					ELSE lockouts.failures + 1
				END) >= ? THEN ?
				ELSE lockouts.locked_until
			END,
			updated_at = excluded.updated_at
		RETURNING lockout_key, failures, window_expires_at, locked_until, updated_at`,
		key, windowExpiry, p.Threshold, lockedUntil, time.Time{}.UTC(), nowUTC,
		p.Threshold, lockedUntil,
	)

	l, err := scanLockout(row)
	if err != nil {
		return domain.Lockout{}, err
	}
	return l, nil
}

func (r *lockoutsRepo) ClearLockout(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM lockouts WHERE lockout_key = ?`, key)
	return err
}

func (r *lockoutsRepo) DeleteExpiredLockouts(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM lockouts WHERE window_expires_at <= ? AND locked_until <= ?`,
		now.UTC(), now.UTC())
	return err
}

func scanLockout(row rowScanner) (domain.Lockout, error) {
	var l domain.Lockout
	err := row.Scan(&l.Key, &l.Failures, &l.WindowExpiresAt, &l.LockedUntil, &l.UpdatedAt)
	if err != nil {
		return domain.Lockout{}, err
	}

	l.WindowExpiresAt = l.WindowExpiresAt.UTC()
	l.LockedUntil = l.LockedUntil.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}
