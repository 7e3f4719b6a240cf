package factor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/notify"
	"github.com/authsome/stepup/pkg/clockx"
	"github.com/authsome/stepup/pkg/cryptox"
)

const (
	metaTarget           = "target"
	metaActivationHash   = "activation_hash"
	metaActivationExpiry = "activation_expires"
)

// OTPAdapter covers the two delivered-code factor types. One instance
// serves SMS, another email; only the channel differs. The plaintext code
// is never persisted — challenges carry its fingerprint and expiry.
type OTPAdapter struct {
	factorType domain.FactorType
	channel    notify.Channel
	dispatcher notify.Dispatcher
	clock      clockx.Clock
	digits     int
	codeTTL    time.Duration
}

func NewSMSAdapter(d notify.Dispatcher, clock clockx.Clock, digits int, ttl time.Duration) *OTPAdapter {
	return &OTPAdapter{
		factorType: domain.FactorSMS,
		channel:    notify.ChannelSMS,
		dispatcher: d,
		clock:      clock,
		digits:     digits,
		codeTTL:    ttl,
	}
}

func NewEmailAdapter(d notify.Dispatcher, clock clockx.Clock, digits int, ttl time.Duration) *OTPAdapter {
	return &OTPAdapter{
		factorType: domain.FactorEmail,
		channel:    notify.ChannelEmail,
		dispatcher: d,
		clock:      clock,
		digits:     digits,
		codeTTL:    ttl,
	}
}

func (a *OTPAdapter) Type() domain.FactorType { return a.factorType }

func (a *OTPAdapter) MaxPerUser() int { return 1 }

func (a *OTPAdapter) Enroll(ctx context.Context, req EnrollRequest) (Enrollment, error) {
	if req.Target == "" {
		return Enrollment{}, ErrMissingTarget
	}

	code, expiry, err := a.sendCode(ctx, req.Target)
	if err != nil {
		return Enrollment{}, err
	}

	return Enrollment{
		Provisioning: map[string]string{
			"target_masked": notify.MaskTarget(string(a.channel), req.Target),
		},
		Metadata: map[string]string{
			metaTarget:           req.Target,
			metaActivationHash:   cryptox.FingerprintToken(code),
			metaActivationExpiry: expiry.Format(time.RFC3339),
		},
	}, nil
}

func (a *OTPAdapter) IssueChallengeMaterial(ctx context.Context, f domain.Factor) (Material, error) {
	target := f.Metadata[metaTarget]
	if target == "" {
		return Material{}, fmt.Errorf("factor %s has no delivery target", f.ID)
	}

	code, expiry, err := a.sendCode(ctx, target)
	if err != nil {
		return Material{}, err
	}

	return Material{
		Data: map[string]string{
			"delivery":      "sent",
			"target_masked": notify.MaskTarget(string(a.channel), target),
		},
		ProviderState: encodeOTPState(cryptox.FingerprintToken(code), expiry),
	}, nil
}

func (a *OTPAdapter) Verify(_ context.Context, f domain.Factor, providerState, proof string) (VerifyOutcome, error) {
	hash, expiry, err := a.expectedCode(f, providerState)
	if err != nil {
		return VerifyOutcome{}, err
	}
	if a.clock.Now().After(expiry) {
		return VerifyOutcome{Valid: false}, nil
	}
	if !cryptox.ConstantTimeEquals(cryptox.FingerprintToken(proof), hash) {
		return VerifyOutcome{Valid: false}, nil
	}

	// Enrollment proofs retire the activation code once used.
	if providerState == "" {
		meta := map[string]string{metaTarget: f.Metadata[metaTarget]}
		return VerifyOutcome{Valid: true, UpdatedMetadata: meta}, nil
	}
	return VerifyOutcome{Valid: true}, nil
}

func (a *OTPAdapter) sendCode(ctx context.Context, target string) (string, time.Time, error) {
	code, err := cryptox.GenerateNumericCode(a.digits)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate otp code: %w", err)
	}

	expiry := a.clock.Now().Add(a.codeTTL).UTC()
	err = a.dispatcher.Send(ctx, notify.Message{
		Channel: a.channel,
		Target:  target,
		Code:    code,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("dispatch %s code: %w", a.channel, err)
	}
	return code, expiry, nil
}

// expectedCode resolves the fingerprint to check against: the challenge's
// provider state, or the activation code from enrollment when no challenge
// state exists.
func (a *OTPAdapter) expectedCode(f domain.Factor, providerState string) (string, time.Time, error) {
	if providerState != "" {
		hash, expiry, ok := decodeOTPState(providerState)
		if !ok {
			return "", time.Time{}, fmt.Errorf("factor %s: malformed challenge state", f.ID)
		}
		return hash, expiry, nil
	}

	hash := f.Metadata[metaActivationHash]
	raw := f.Metadata[metaActivationExpiry]
	if hash == "" || raw == "" {
		return "", time.Time{}, fmt.Errorf("factor %s has no pending activation code", f.ID)
	}
	expiry, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("factor %s: malformed activation expiry: %w", f.ID, err)
	}
	return hash, expiry, nil
}

func encodeOTPState(hash string, expiry time.Time) string {
	return hash + "|" + expiry.UTC().Format(time.RFC3339)
}

func decodeOTPState(state string) (string, time.Time, bool) {
	hash, raw, ok := strings.Cut(state, "|")
	if !ok || hash == "" {
		return "", time.Time{}, false
	}
	expiry, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return "", time.Time{}, false
	}
	return hash, expiry, true
}
