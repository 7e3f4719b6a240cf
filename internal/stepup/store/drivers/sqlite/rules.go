package sqlite

import (
	"context"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
)

type rulesRepo struct {
	db dbtx
}

const ruleColumns = `id, org_id, kind, name, priority, required_level, methods,
	route_pattern, action, min_amount, currency, attribute, value,
	start_hour, end_hour, created_at, updated_at`

func (r *rulesRepo) CreateRule(ctx context.Context, rule domain.Rule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.OrgID, string(rule.Kind), rule.Name, rule.Priority,
		int(rule.RequiredLevel), joinMethods(rule.Methods),
		rule.RoutePattern, rule.Action, rule.MinAmount, rule.Currency,
		rule.Attribute, rule.Value, rule.StartHour, rule.EndHour,
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(),
	)
	return err
}

func (r *rulesRepo) GetRule(ctx context.Context, id string) (domain.Rule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)

	rule, err := scanRule(row)
	if err != nil {
		return domain.Rule{}, mapNotFound(err)
	}
	return rule, nil
}

func (r *rulesRepo) UpdateRule(ctx context.Context, rule domain.Rule) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rules SET
			org_id = ?, kind = ?, name = ?, priority = ?, required_level = ?,
			methods = ?, route_pattern = ?, action = ?, min_amount = ?,
			currency = ?, attribute = ?, value = ?, start_hour = ?,
			end_hour = ?, updated_at = ?
		WHERE id = ?`,
		rule.OrgID, string(rule.Kind), rule.Name, rule.Priority,
		int(rule.RequiredLevel), joinMethods(rule.Methods),
		rule.RoutePattern, rule.Action, rule.MinAmount, rule.Currency,
		rule.Attribute, rule.Value, rule.StartHour, rule.EndHour,
		rule.UpdatedAt.UTC(), rule.ID,
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

func (r *rulesRepo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
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

func (r *rulesRepo) ListRulesForOrg(ctx context.Context, orgID string) ([]domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE org_id = ? OR org_id = ''
		ORDER BY priority DESC, created_at ASC`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanRule(row rowScanner) (domain.Rule, error) {
	var (
		rule     domain.Rule
		kind     string
		required int
		methods  string
	)
	err := row.Scan(
		&rule.ID, &rule.OrgID, &kind, &rule.Name, &rule.Priority, &required,
		&methods, &rule.RoutePattern, &rule.Action, &rule.MinAmount,
		&rule.Currency, &rule.Attribute, &rule.Value,
		&rule.StartHour, &rule.EndHour, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return domain.Rule{}, err
	}

	rule.Kind = domain.RuleKind(kind)
	rule.RequiredLevel = domain.SecurityLevel(required)
	rule.Methods = splitMethods(methods)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return rule, nil
}
