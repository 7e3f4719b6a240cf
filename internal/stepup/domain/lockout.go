package domain

import "time"

// Lockout is the failure counter for a (user, ip) pair. It exists
// independently of any single challenge so cycling through fresh challenges
// cannot sidestep the global threshold.
type Lockout struct {
	Key             string
	Failures        int
	WindowExpiresAt time.Time
	LockedUntil     time.Time
	UpdatedAt       time.Time
}

// LockedAt reports whether the pair is still inside a lockout window.
func (l Lockout) LockedAt(now time.Time) bool { return now.Before(l.LockedUntil) }

// LockoutKey builds the composite counter key for a user/ip pair.
func LockoutKey(userID, ip string) string { return userID + "|" + ip }
