package service

import (
	"errors"
	"fmt"
	"time"
)

// Typed outcomes the engine surfaces to callers. All are expected,
// recoverable conditions; only collaborator failures wrap ErrStoreUnavailable.
var (
	// ErrInvalidFactorType reports an enrollment or verification request
	// naming a factor type no adapter is registered for.
	ErrInvalidFactorType = errors.New("invalid factor type")

	// ErrLimitExceeded reports that the user already holds the maximum
	// number of factors of the requested type.
	ErrLimitExceeded = errors.New("factor limit exceeded")

	// ErrRequirementExpired reports a begin/verify call against a
	// requirement past its expiry. Callers start over with a fresh
	// evaluation.
	ErrRequirementExpired = errors.New("step-up requirement expired")

	// ErrChallengeNotActive reports a verify call against a challenge that
	// is terminal or past its expiry. Callers begin a new verification.
	ErrChallengeNotActive = errors.New("challenge is not active")

	// ErrMethodNotAllowed reports a verification method outside the
	// requirement's allowed set.
	ErrMethodNotAllowed = errors.New("method not allowed for this requirement")

	// ErrNoActiveFactor reports that the user holds no active factor of the
	// requested type.
	ErrNoActiveFactor = errors.New("no active factor of this type")

	// ErrAttemptsExhausted reports that the challenge's final permitted
	// attempt was spent on an invalid proof. The challenge is failed; the
	// requirement may still accept a fresh challenge while it lives.
	ErrAttemptsExhausted = errors.New("challenge attempts exhausted")

	// ErrInvalidProof reports a proof that did not verify. It deliberately
	// carries no detail about why.
	ErrInvalidProof = errors.New("invalid proof")

	// ErrAlreadyFinalized reports a write against a challenge or
	// requirement that has already reached a terminal state.
	ErrAlreadyFinalized = errors.New("already finalized")

	// ErrNotFound reports a missing challenge, requirement, factor, device
	// or rule.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable wraps collaborator failures (repository,
	// notification dispatch). Never retried here; retry policy belongs to
	// the transport layer.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// AccountLockedError denies verification for a (user, ip) pair until the
// lockout window elapses, across every challenge the pair may hold.
type AccountLockedError struct {
	LockedUntil time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.LockedUntil.UTC().Format(time.RFC3339))
}

// IsAccountLocked extracts a lockout from an error chain.
func IsAccountLocked(err error) (*AccountLockedError, bool) {
	var locked *AccountLockedError
	if errors.As(err, &locked) {
		return locked, true
	}
	return nil, false
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
