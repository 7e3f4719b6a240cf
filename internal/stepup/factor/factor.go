// Package factor contains the pluggable verification adapters and the
// registry that dispatches on factor type. Adapters are stateless beyond
// their configuration; per-challenge state travels through ProviderState.
package factor

import (
	"context"
	"errors"

	"github.com/authsome/stepup/internal/stepup/domain"
)

var (
	// ErrUnsupportedType reports a factor type no adapter is registered for.
	ErrUnsupportedType = errors.New("factor: unsupported factor type")

	// ErrMissingTarget reports an enrollment that needs a delivery target
	// (phone/email) but didn't supply one.
	ErrMissingTarget = errors.New("factor: enrollment requires a delivery target")
)

// EnrollRequest carries the caller-supplied enrollment inputs.
type EnrollRequest struct {
	UserID   string
	Username string // account label for provisioning (TOTP issuer line, WebAuthn display)
	Name     string // user-chosen factor name
	Target   string // phone number or email address, for possession factors
}

// Enrollment is what an adapter produces for a new factor.
type Enrollment struct {
	// Provisioning is returned to the caller exactly once (TOTP secret and
	// otpauth URL, WebAuthn creation options, freshly minted backup codes).
	Provisioning map[string]string

	// Metadata is persisted on the factor for later challenges.
	Metadata map[string]string

	// Activated is set when the factor needs no enrollment proof (the
	// server generated the secret itself, e.g. backup codes).
	Activated bool
}

// Material is the challenge-side output of an adapter.
type Material struct {
	// Data is returned to the caller (masked delivery target, WebAuthn
	// assertion options). Never contains the secret being proven.
	Data map[string]string

	// ProviderState is persisted on the challenge and replayed into Verify
	// (an OTP fingerprint with its expiry, a WebAuthn session blob).
	ProviderState string
}

// VerifyOutcome reports a proof check. Invalid proofs are outcomes, not
// errors — adapters only error on collaborator failures.
type VerifyOutcome struct {
	Valid bool

	// UpdatedMetadata, when non-nil, replaces the factor's metadata (a
	// newly registered WebAuthn credential, an updated sign counter).
	UpdatedMetadata map[string]string
}

// Adapter is the uniform contract every factor type implements.
type Adapter interface {
	Type() domain.FactorType

	// MaxPerUser caps concurrently enrolled (non-disabled) factors of this
	// type for one user.
	MaxPerUser() int

	Enroll(ctx context.Context, req EnrollRequest) (Enrollment, error)

	IssueChallengeMaterial(ctx context.Context, f domain.Factor) (Material, error)

	// Verify checks a proof against the factor. providerState is the blob
	// produced by IssueChallengeMaterial for this challenge; it is empty
	// when verifying an enrollment proof.
	Verify(ctx context.Context, f domain.Factor, providerState, proof string) (VerifyOutcome, error)
}

// Regenerator is implemented by adapters whose secret material can be
// re-issued in place (backup codes).
type Regenerator interface {
	Regenerate(ctx context.Context, userID string) ([]string, error)
}

// Registry dispatches engine calls to the adapter for a factor type.
// Adapters register at startup; the registry is immutable afterwards and
// safe for concurrent use.
type Registry struct {
	adapters map[domain.FactorType]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.FactorType]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Type()] = a
	}
	return &Registry{adapters: m}
}

// Adapter returns the adapter for t, or ErrUnsupportedType.
func (r *Registry) Adapter(t domain.FactorType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, ErrUnsupportedType
	}
	return a, nil
}

// Types lists the registered factor types.
func (r *Registry) Types() []domain.FactorType {
	out := make([]domain.FactorType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	return out
}
