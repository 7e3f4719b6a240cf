package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
)

type factorsRepo struct {
	db dbtx
}

const factorColumns = `id, user_id, type, priority, status, name, metadata,
	created_at, updated_at, verified_at, last_used_at, expires_at`

func (r *factorsRepo) CreateFactor(ctx context.Context, f domain.Factor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO factors (`+factorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, string(f.Type), string(f.Priority), string(f.Status),
		f.Name, encodeMetadata(f.Metadata),
		f.CreatedAt.UTC(), f.UpdatedAt.UTC(),
		mapOptionalTime(f.VerifiedAt), mapOptionalTime(f.LastUsedAt), mapOptionalTime(f.ExpiresAt),
	)
	return err
}

func (r *factorsRepo) GetFactor(ctx context.Context, id string) (domain.Factor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+factorColumns+` FROM factors WHERE id = ?`, id)

	f, err := scanFactor(row)
	if err != nil {
		return domain.Factor{}, mapNotFound(err)
	}
	return f, nil
}

func (r *factorsRepo) ListUserFactors(ctx context.Context, userID string) ([]domain.Factor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+factorColumns+` FROM factors WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Factor
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *factorsRepo) ActivateFactor(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE factors
		SET status = 'active', verified_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := r.GetFactor(ctx, id); errors.Is(gerr, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return store.ErrAlreadyFinalized
	}
	return nil
}

func (r *factorsRepo) DisableFactor(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE factors SET status = 'disabled', updated_at = ? WHERE id = ?`,
		now.UTC(), id,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *factorsRepo) UpdateFactorMetadata(ctx context.Context, id string, metadata map[string]string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE factors SET metadata = ?, updated_at = ? WHERE id = ?`,
		encodeMetadata(metadata), now.UTC(), id,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *factorsRepo) TouchFactorUsed(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE factors SET last_used_at = ?, updated_at = ? WHERE id = ?`,
		now.UTC(), now.UTC(), id,
	)
	return err
}

func scanFactor(row rowScanner) (domain.Factor, error) {
	var (
		f          domain.Factor
		typ        string
		priority   string
		status     string
		metadata   string
		verifiedAt sql.NullTime
		lastUsedAt sql.NullTime
		expiresAt  sql.NullTime
	)
	err := row.Scan(
		&f.ID, &f.UserID, &typ, &priority, &status, &f.Name, &metadata,
		&f.CreatedAt, &f.UpdatedAt, &verifiedAt, &lastUsedAt, &expiresAt,
	)
	if err != nil {
		return domain.Factor{}, err
	}

	f.Type = domain.FactorType(typ)
	f.Priority = domain.FactorPriority(priority)
	f.Status = domain.FactorStatus(status)
	f.Metadata = decodeMetadata(metadata)
	f.CreatedAt = f.CreatedAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	f.VerifiedAt = mapNullTimePtr(verifiedAt)
	f.LastUsedAt = mapNullTimePtr(lastUsedAt)
	f.ExpiresAt = mapNullTimePtr(expiresAt)
	return f, nil
}
