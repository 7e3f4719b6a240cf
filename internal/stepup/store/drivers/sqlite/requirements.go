package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
)

type requirementsRepo struct {
	db dbtx
}

const requirementColumns = `id, user_id, org_id, route, action, resource_type,
	amount, currency, required_level, current_level, matched_rules, risk_score,
	allowed_methods, status, created_at, expires_at, fulfilled_at`

func (r *requirementsRepo) CreateRequirement(ctx context.Context, req domain.StepUpRequirement) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO requirements (`+requirementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, req.OrgID, req.Route, req.Action, req.ResourceType,
		mapOptionalFloat(req.Amount), req.Currency,
		int(req.RequiredLevel), int(req.CurrentLevel),
		encodeStringList(req.MatchedRules), req.RiskScore,
		joinMethods(req.AllowedMethods), string(req.Status),
		req.CreatedAt.UTC(), req.ExpiresAt.UTC(), mapOptionalTime(req.FulfilledAt),
	)
	return err
}

func (r *requirementsRepo) GetRequirement(ctx context.Context, id string, now time.Time) (domain.StepUpRequirement, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+requirementColumns+` FROM requirements WHERE id = ?`, id)

	req, err := scanRequirement(row)
	if err != nil {
		return domain.StepUpRequirement{}, mapNotFound(err)
	}

	if req.Status == domain.RequirementPending && req.ExpiredAt(now) {
		req.Status = domain.RequirementExpired
	}
	return req, nil
}

func (r *requirementsRepo) FulfillRequirement(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE requirements
		SET status = 'fulfilled', fulfilled_at = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?`,
		now.UTC(), id, now.UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := r.GetRequirement(ctx, id, now); errors.Is(gerr, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return store.ErrAlreadyFinalized
	}
	return nil
}

func (r *requirementsRepo) DeleteExpiredRequirements(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM requirements WHERE expires_at <= ?`, now.UTC())
	return err
}

func scanRequirement(row rowScanner) (domain.StepUpRequirement, error) {
	var (
		req          domain.StepUpRequirement
		amount       sql.NullFloat64
		required     int
		current      int
		matchedRules string
		methods      string
		status       string
		fulfilledAt  sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.UserID, &req.OrgID, &req.Route, &req.Action, &req.ResourceType,
		&amount, &req.Currency, &required, &current, &matchedRules, &req.RiskScore,
		&methods, &status, &req.CreatedAt, &req.ExpiresAt, &fulfilledAt,
	)
	if err != nil {
		return domain.StepUpRequirement{}, err
	}

	req.Amount = mapNullFloatPtr(amount)
	req.RequiredLevel = domain.SecurityLevel(required)
	req.CurrentLevel = domain.SecurityLevel(current)
	req.MatchedRules = decodeStringList(matchedRules)
	req.AllowedMethods = splitMethods(methods)
	req.Status = domain.RequirementStatus(status)
	req.CreatedAt = req.CreatedAt.UTC()
	req.ExpiresAt = req.ExpiresAt.UTC()
	req.FulfilledAt = mapNullTimePtr(fulfilledAt)
	return req, nil
}
