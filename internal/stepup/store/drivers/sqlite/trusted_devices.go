package sqlite

import (
	"context"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
)

type trustedDevicesRepo struct {
	db dbtx
}

const trustedDeviceColumns = `id, user_id, device_id, name, ip_address,
	user_agent, level, created_at, expires_at, last_used_at`

func (r *trustedDevicesRepo) UpsertTrustedDevice(ctx context.Context, d domain.TrustedDevice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trusted_devices (`+trustedDeviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			id = excluded.id,
			name = excluded.name,
			ip_address = excluded.ip_address,
			user_agent = excluded.user_agent,
			level = excluded.level,
			expires_at = excluded.expires_at,
			last_used_at = excluded.last_used_at`,
		d.ID, d.UserID, d.DeviceID, d.Name, d.IPAddress, d.UserAgent,
		int(d.Level), d.CreatedAt.UTC(), d.ExpiresAt.UTC(), d.LastUsedAt.UTC(),
	)
	return err
}

func (r *trustedDevicesRepo) GetTrustedDevice(ctx context.Context, userID, deviceID string, now time.Time) (domain.TrustedDevice, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+trustedDeviceColumns+` FROM trusted_devices
		WHERE user_id = ? AND device_id = ? AND expires_at > ?`,
		userID, deviceID, now.UTC(),
	)

	d, err := scanTrustedDevice(row)
	if err != nil {
		return domain.TrustedDevice{}, mapNotFound(err)
	}
	return d, nil
}

func (r *trustedDevicesRepo) TouchTrustedDevice(ctx context.Context, userID, deviceID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trusted_devices SET last_used_at = ?
		WHERE user_id = ? AND device_id = ? AND expires_at > ?`,
		now.UTC(), userID, deviceID, now.UTC(),
	)
	return err
}

func (r *trustedDevicesRepo) ListTrustedDevices(ctx context.Context, userID string, now time.Time) ([]domain.TrustedDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+trustedDeviceColumns+` FROM trusted_devices
		WHERE user_id = ? AND expires_at > ?
		ORDER BY created_at DESC`,
		userID, now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrustedDevice
	for rows.Next() {
		d, err := scanTrustedDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *trustedDevicesRepo) DeleteTrustedDevice(ctx context.Context, userID, deviceID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE user_id = ? AND device_id = ?`,
		userID, deviceID,
	)
	return err
}

func (r *trustedDevicesRepo) DeleteExpiredTrustedDevices(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM trusted_devices WHERE expires_at <= ?`, now.UTC())
	return err
}

func scanTrustedDevice(row rowScanner) (domain.TrustedDevice, error) {
	var (
		d     domain.TrustedDevice
		level int
	)
	err := row.Scan(
		&d.ID, &d.UserID, &d.DeviceID, &d.Name, &d.IPAddress, &d.UserAgent,
		&level, &d.CreatedAt, &d.ExpiresAt, &d.LastUsedAt,
	)
	if err != nil {
		return domain.TrustedDevice{}, err
	}

	d.Level = domain.SecurityLevel(level)
	d.CreatedAt = d.CreatedAt.UTC()
	d.ExpiresAt = d.ExpiresAt.UTC()
	d.LastUsedAt = d.LastUsedAt.UTC()
	return d, nil
}
