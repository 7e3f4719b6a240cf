package store

import (
	"context"
	"errors"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrAlreadyFinalized reports a write against a challenge or requirement
	// that has already left its pending state (or sits past its expiry).
	// First writer wins; later writers must not re-trigger side effects.
	ErrAlreadyFinalized = errors.New("store: already finalized")
)

// Store is the root data access interface. Concrete drivers (sqlite today,
// anything honoring the same atomicity guarantees tomorrow) implement this.
// Sub-repositories keep concerns tidy and let tests target one slice.
type Store interface {
	Factors() Factors
	BackupCodes() BackupCodes
	Challenges() Challenges
	Requirements() Requirements
	TrustedDevices() TrustedDevices
	Rules() Rules
	Lockouts() Lockouts

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back when fn errors
	// and committing otherwise. Use it for multi-step writes that must land
	// together (e.g. challenge success + requirement fulfillment).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing store is still reachable.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Factors interface {
	// CreateFactor inserts a new factor (id is provided by the caller via ULID).
	CreateFactor(ctx context.Context, f domain.Factor) error

	// GetFactor returns a factor by id.
	GetFactor(ctx context.Context, id string) (domain.Factor, error)

	// ListUserFactors returns all of a user's factors, newest first.
	ListUserFactors(ctx context.Context, userID string) ([]domain.Factor, error)

	// ActivateFactor flips a pending factor to active and stamps verified_at.
	// Returns ErrAlreadyFinalized when the factor is not pending.
	ActivateFactor(ctx context.Context, id string, now time.Time) error

	// DisableFactor marks a factor disabled. Disabled factors are never
	// reused; re-enrollment creates a new factor.
	DisableFactor(ctx context.Context, id string, now time.Time) error

	// UpdateFactorMetadata replaces the adapter-owned metadata blob.
	UpdateFactorMetadata(ctx context.Context, id string, metadata map[string]string, now time.Time) error

	// TouchFactorUsed stamps last_used_at after a successful verification.
	TouchFactorUsed(ctx context.Context, id string, now time.Time) error
}

type BackupCodes interface {
	// CreateBackupCode stores a backup code fingerprint for a user.
	CreateBackupCode(ctx context.Context, userID string, codeHash string) error

	// ConsumeBackupCode atomically deletes the fingerprint if present and
	// reports whether it existed. A code can therefore be spent exactly once
	// even under racing verifications.
	ConsumeBackupCode(ctx context.Context, userID string, codeHash string) (bool, error)

	// DeleteAllBackupCodes removes all backup codes for a user.
	DeleteAllBackupCodes(ctx context.Context, userID string) error

	// CountBackupCodes returns the number of unspent codes for a user.
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

type Challenges interface {
	// CreateChallenge persists a new pending challenge.
	CreateChallenge(ctx context.Context, c domain.Challenge) error

	// GetChallenge returns a challenge by id. A pending row whose expiry has
	// passed is returned with status expired, without waiting for a sweep.
	GetChallenge(ctx context.Context, id string, now time.Time) (domain.Challenge, error)

	// RecordAttempt atomically increments the attempt counter of a live
	// pending challenge and returns the updated row. The increment that
	// lands on max_attempts still leaves the challenge pending — the final
	// attempt's proof gets checked, and the caller finalizes the outcome.
	// Terminal, expired, or fully spent challenges yield
	// ErrAlreadyFinalized; racing callers can never double-count or lose
	// an increment.
	RecordAttempt(ctx context.Context, id string, now time.Time) (domain.Challenge, error)

	// FinalizeChallenge moves a live pending challenge to the given terminal
	// outcome. First writer wins; later calls return ErrAlreadyFinalized.
	FinalizeChallenge(ctx context.Context, id string, outcome domain.ChallengeStatus, now time.Time) error

	// MarkDeviceRemembered records that this challenge's success produced a
	// trusted-device write, for idempotent result reconstruction.
	MarkDeviceRemembered(ctx context.Context, id string) error

	// DeleteExpiredChallenges is housekeeping; expiry is enforced lazily
	// regardless.
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

type Requirements interface {
	// CreateRequirement persists a new pending step-up requirement.
	CreateRequirement(ctx context.Context, r domain.StepUpRequirement) error

	// GetRequirement returns a requirement by id, lazily mapping a pending
	// row past its expiry to status expired.
	GetRequirement(ctx context.Context, id string, now time.Time) (domain.StepUpRequirement, error)

	// FulfillRequirement moves a live pending requirement to fulfilled.
	// Terminal or expired requirements yield ErrAlreadyFinalized.
	FulfillRequirement(ctx context.Context, id string, now time.Time) error

	// DeleteExpiredRequirements is housekeeping.
	DeleteExpiredRequirements(ctx context.Context, now time.Time) error
}

type TrustedDevices interface {
	// UpsertTrustedDevice writes a trust binding, replacing any existing
	// binding for the same (user, device) pair.
	UpsertTrustedDevice(ctx context.Context, d domain.TrustedDevice) error

	// GetTrustedDevice returns the binding for (user, device). Expired
	// bindings are reported as ErrNotFound (lazy expiry).
	GetTrustedDevice(ctx context.Context, userID, deviceID string, now time.Time) (domain.TrustedDevice, error)

	// TouchTrustedDevice stamps last_used_at on a live binding.
	TouchTrustedDevice(ctx context.Context, userID, deviceID string, now time.Time) error

	// ListTrustedDevices returns the user's unexpired bindings, newest first.
	ListTrustedDevices(ctx context.Context, userID string, now time.Time) ([]domain.TrustedDevice, error)

	// DeleteTrustedDevice forgets a device immediately. Idempotent.
	DeleteTrustedDevice(ctx context.Context, userID, deviceID string) error

	// DeleteExpiredTrustedDevices is housekeeping.
	DeleteExpiredTrustedDevices(ctx context.Context, now time.Time) error
}

type Rules interface {
	// CreateRule inserts a new policy rule (id is ULID).
	CreateRule(ctx context.Context, r domain.Rule) error

	// GetRule fetches a rule by id.
	GetRule(ctx context.Context, id string) (domain.Rule, error)

	// UpdateRule replaces the mutable fields of an existing rule.
	UpdateRule(ctx context.Context, r domain.Rule) error

	// DeleteRule removes a rule.
	DeleteRule(ctx context.Context, id string) error

	// ListRulesForOrg returns the org's rules plus global rules (empty
	// org_id), ordered by priority descending then created_at ascending.
	ListRulesForOrg(ctx context.Context, orgID string) ([]domain.Rule, error)
}

// LockoutPolicy parameterizes the failure accounting so thresholds stay
// configuration, not store constants.
type LockoutPolicy struct {
	// Threshold is the failure count that triggers a lockout.
	Threshold int
	// Window is how long failures accumulate before the counter resets.
	Window time.Duration
	// LockFor is the lockout duration once the threshold is hit.
	LockFor time.Duration
}

type Lockouts interface {
	// GetLockout returns the counter state for a key, or ErrNotFound.
	GetLockout(ctx context.Context, key string) (domain.Lockout, error)

	// RecordFailure atomically increments the failure counter for key,
	// resetting it first when the accumulation window has lapsed, and
	// engages the lockout in the same write when the threshold is reached.
	// Safe under concurrent callers for the same key.
	RecordFailure(ctx context.Context, key string, p LockoutPolicy, now time.Time) (domain.Lockout, error)

	// ClearLockout drops the counter after a successful verification. Idempotent.
	ClearLockout(ctx context.Context, key string) error

	// DeleteExpiredLockouts is housekeeping.
	DeleteExpiredLockouts(ctx context.Context, now time.Time) error
}
