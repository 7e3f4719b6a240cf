package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
)

type challengesRepo struct {
	db dbtx
}

const challengeColumns = `id, requirement_id, user_id, factor_id, type, status,
	attempts, max_attempts, ip_address, user_agent, provider_state,
	device_remembered, created_at, expires_at, verified_at`

func (r *challengesRepo) CreateChallenge(ctx context.Context, c domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO challenges (`+challengeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.RequirementID, c.UserID, c.FactorID, string(c.Type), string(c.Status),
		c.Attempts, c.MaxAttempts, c.IPAddress, c.UserAgent, c.ProviderState,
		c.DeviceRemembered, c.CreatedAt.UTC(), c.ExpiresAt.UTC(), mapOptionalTime(c.VerifiedAt),
	)
	return err
}

func (r *challengesRepo) GetChallenge(ctx context.Context, id string, now time.Time) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id)

	c, err := scanChallenge(row)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}

	// Lazy expiry: a pending row past its deadline reads as expired even
	// before the sweep has touched it.
	if c.Status == domain.ChallengePending && c.ExpiredAt(now) {
		c.Status = domain.ChallengeExpired
	}
	return c, nil
}

// RecordAttempt is a single conditional UPDATE so racing verifiers can never
// lose an increment or double-spend the final attempt. The challenge stays
// pending even when the increment lands on max_attempts: the final attempt's
// proof is still checked, and the caller finalizes the outcome.
func (r *challengesRepo) RecordAttempt(ctx context.Context, id string, now time.Time) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE challenges
		SET attempts = attempts + 1
		WHERE id = ? AND status = 'pending' AND expires_at > ? AND attempts < max_attempts
		RETURNING `+challengeColumns,
		id, now.UTC(),
	)

	c, err := scanChallenge(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Challenge{}, err
	}

	// The guard rejected the write: the row is gone, terminal/expired, or
	// all attempts are already spent.
	existing, gerr := r.GetChallenge(ctx, id, now)
	if gerr != nil {
		return domain.Challenge{}, gerr
	}
	return existing, store.ErrAlreadyFinalized
}

func (r *challengesRepo) FinalizeChallenge(ctx context.Context, id string, outcome domain.ChallengeStatus, now time.Time) error {
	var verifiedAt sql.NullTime
	if outcome == domain.ChallengeVerified {
		verifiedAt = sql.NullTime{Time: now.UTC(), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE challenges
		SET status = ?, verified_at = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?`,
		string(outcome), verifiedAt, id, now.UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := r.GetChallenge(ctx, id, now); errors.Is(gerr, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return store.ErrAlreadyFinalized
	}
	return nil
}

func (r *challengesRepo) MarkDeviceRemembered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE challenges SET device_remembered = 1 WHERE id = ?`, id)
	return err
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM challenges WHERE expires_at <= ?`, now.UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (domain.Challenge, error) {
	var (
		c          domain.Challenge
		typ        string
		status     string
		verifiedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.RequirementID, &c.UserID, &c.FactorID, &typ, &status,
		&c.Attempts, &c.MaxAttempts, &c.IPAddress, &c.UserAgent, &c.ProviderState,
		&c.DeviceRemembered, &c.CreatedAt, &c.ExpiresAt, &verifiedAt,
	)
	if err != nil {
		return domain.Challenge{}, err
	}

	c.Type = domain.FactorType(typ)
	c.Status = domain.ChallengeStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.VerifiedAt = mapNullTimePtr(verifiedAt)
	return c, nil
}
