package domain

import "time"

// TrustedDevice is a (user, device) binding that exempts that device from
// re-elevation at or below the granted level until the trust expires.
// ExpiresAt is always set; there is no permanent trust.
type TrustedDevice struct {
	ID         string
	UserID     string
	DeviceID   string
	Name       string
	IPAddress  string
	UserAgent  string
	Level      SecurityLevel
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
}

// ExpiredAt reports whether the trust binding has lapsed. Expired entries
// are treated as absent even before the sweep removes them.
func (d TrustedDevice) ExpiredAt(now time.Time) bool { return !now.Before(d.ExpiresAt) }
