package factor

import (
	"context"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/pkg/clockx"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

// TOTPAdapter enrolls and verifies RFC 6238 authenticator-app factors.
// The shared secret lives in factor metadata; challenges carry no state.
type TOTPAdapter struct {
	issuer string
	clock  clockx.Clock
}

func NewTOTPAdapter(issuer string, clock clockx.Clock) *TOTPAdapter {
	return &TOTPAdapter{issuer: issuer, clock: clock}
}

func (a *TOTPAdapter) Type() domain.FactorType { return domain.FactorTOTP }

func (a *TOTPAdapter) MaxPerUser() int { return 1 }

func (a *TOTPAdapter) Enroll(_ context.Context, req EnrollRequest) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.issuer,
		AccountName: req.Username,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate totp key: %w", err)
	}

	return Enrollment{
		Provisioning: map[string]string{
			"secret":      key.Secret(),
			"otpauth_url": key.String(),
		},
		Metadata: map[string]string{"secret": key.Secret()},
	}, nil
}

func (a *TOTPAdapter) IssueChallengeMaterial(context.Context, domain.Factor) (Material, error) {
	return Material{}, nil
}

func (a *TOTPAdapter) Verify(_ context.Context, f domain.Factor, _ string, proof string) (VerifyOutcome, error) {
	secret := f.Metadata["secret"]
	if secret == "" {
		return VerifyOutcome{}, fmt.Errorf("factor %s has no totp secret", f.ID)
	}

	valid, err := totp.ValidateCustom(proof, secret, a.clock.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// Malformed passcodes are invalid proofs, not adapter failures.
		return VerifyOutcome{Valid: false}, nil
	}
	return VerifyOutcome{Valid: valid}, nil
}
