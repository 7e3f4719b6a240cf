package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/factor"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/clockx"
	"github.com/authsome/stepup/pkg/idx"
)

// FactorService owns factor lifecycle: enrollment, activation on proof,
// disablement and backup-code reissue. Verification material and proof
// checks are delegated to the registered adapters.
type FactorService struct {
	store    store.Store
	registry *factor.Registry
	clock    clockx.Clock
	logger   *slog.Logger
}

func NewFactorService(st store.Store, registry *factor.Registry, clock clockx.Clock, logger *slog.Logger) *FactorService {
	return &FactorService{store: st, registry: registry, clock: clock, logger: logger}
}

// EnrollInput carries the caller-supplied enrollment fields.
type EnrollInput struct {
	UserID   string
	Username string
	Type     domain.FactorType
	Name     string
	Target   string // phone/email for delivered-code factors
}

// Enroll creates a factor of the requested type. The returned provisioning
// map (TOTP secret, WebAuthn options, backup codes) is shown exactly once
// and never persisted in plaintext. Most factors start pending and activate
// on the first successful proof; server-minted ones activate immediately.
func (s *FactorService) Enroll(ctx context.Context, in EnrollInput) (domain.Factor, map[string]string, error) {
	adapter, err := s.registry.Adapter(in.Type)
	if err != nil {
		return domain.Factor{}, nil, ErrInvalidFactorType
	}

	existing, err := s.store.Factors().ListUserFactors(ctx, in.UserID)
	if err != nil {
		return domain.Factor{}, nil, storeErr("list factors", err)
	}
	live := 0
	for _, f := range existing {
		if f.Type == in.Type && f.Status != domain.FactorDisabled {
			live++
		}
	}
	if live >= adapter.MaxPerUser() {
		return domain.Factor{}, nil, ErrLimitExceeded
	}

	enrollment, err := adapter.Enroll(ctx, factor.EnrollRequest{
		UserID:   in.UserID,
		Username: in.Username,
		Name:     in.Name,
		Target:   in.Target,
	})
	if err != nil {
		if errors.Is(err, factor.ErrMissingTarget) {
			return domain.Factor{}, nil, fmt.Errorf("enroll %s: %w", in.Type, err)
		}
		return domain.Factor{}, nil, storeErr("enroll factor", err)
	}

	now := s.clock.Now().UTC()
	f := domain.Factor{
		ID:        idx.New().String(),
		UserID:    in.UserID,
		Type:      in.Type,
		Priority:  defaultPriority(in.Type),
		Status:    domain.FactorPending,
		Name:      in.Name,
		Metadata:  enrollment.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if enrollment.Activated {
		f.Status = domain.FactorActive
		f.VerifiedAt = &now
	}

	if err := s.store.Factors().CreateFactor(ctx, f); err != nil {
		return domain.Factor{}, nil, storeErr("create factor", err)
	}

	s.logger.InfoContext(ctx, "factor enrolled",
		"factor_id", f.ID,
		"user_id", f.UserID,
		"type", string(f.Type),
		"status", string(f.Status),
	)
	return f, enrollment.Provisioning, nil
}

// Activate verifies the enrollment proof and flips the factor to active.
// Invalid proofs leave the factor pending.
func (s *FactorService) Activate(ctx context.Context, userID, factorID, proof string) (domain.Factor, error) {
	f, err := s.ownedFactor(ctx, userID, factorID)
	if err != nil {
		return domain.Factor{}, err
	}
	if f.Status != domain.FactorPending {
		return domain.Factor{}, ErrAlreadyFinalized
	}

	adapter, err := s.registry.Adapter(f.Type)
	if err != nil {
		return domain.Factor{}, ErrInvalidFactorType
	}

	outcome, err := adapter.Verify(ctx, f, "", proof)
	if err != nil {
		return domain.Factor{}, storeErr("verify enrollment proof", err)
	}
	if !outcome.Valid {
		return domain.Factor{}, ErrInvalidProof
	}

	now := s.clock.Now().UTC()
	if outcome.UpdatedMetadata != nil {
		if err := s.store.Factors().UpdateFactorMetadata(ctx, f.ID, outcome.UpdatedMetadata, now); err != nil {
			return domain.Factor{}, storeErr("update factor metadata", err)
		}
		f.Metadata = outcome.UpdatedMetadata
	}
	if err := s.store.Factors().ActivateFactor(ctx, f.ID, now); err != nil {
		if errors.Is(err, store.ErrAlreadyFinalized) {
			return domain.Factor{}, ErrAlreadyFinalized
		}
		return domain.Factor{}, storeErr("activate factor", err)
	}

	f.Status = domain.FactorActive
	f.VerifiedAt = &now
	f.UpdatedAt = now

	s.logger.InfoContext(ctx, "factor activated", "factor_id", f.ID, "user_id", f.UserID, "type", string(f.Type))
	return f, nil
}

// Disable retires a factor. Disabled factors never verify again;
// re-enrollment mints a new factor.
func (s *FactorService) Disable(ctx context.Context, userID, factorID string) error {
	f, err := s.ownedFactor(ctx, userID, factorID)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	if err := s.store.Factors().DisableFactor(ctx, f.ID, now); err != nil {
		return storeErr("disable factor", err)
	}

	// Retiring the backup-code factor also burns its unspent codes.
	if f.Type == domain.FactorBackupCode {
		if err := s.store.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return storeErr("delete backup codes", err)
		}
	}

	s.logger.InfoContext(ctx, "factor disabled", "factor_id", f.ID, "user_id", userID, "type", string(f.Type))
	return nil
}

// List returns the user's factors, newest first.
func (s *FactorService) List(ctx context.Context, userID string) ([]domain.Factor, error) {
	factors, err := s.store.Factors().ListUserFactors(ctx, userID)
	if err != nil {
		return nil, storeErr("list factors", err)
	}
	return factors, nil
}

// RegenerateBackupCodes replaces every unspent code with a fresh batch and
// returns the plaintexts, shown exactly once. The user must already hold an
// active backup-code factor.
func (s *FactorService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	factors, err := s.store.Factors().ListUserFactors(ctx, userID)
	if err != nil {
		return nil, storeErr("list factors", err)
	}
	now := s.clock.Now().UTC()
	held := false
	for _, f := range factors {
		if f.Type == domain.FactorBackupCode && f.Usable(now) {
			held = true
			break
		}
	}
	if !held {
		return nil, ErrNoActiveFactor
	}

	adapter, err := s.registry.Adapter(domain.FactorBackupCode)
	if err != nil {
		return nil, ErrInvalidFactorType
	}
	rg, ok := adapter.(factor.Regenerator)
	if !ok {
		return nil, ErrInvalidFactorType
	}

	codes, err := rg.Regenerate(ctx, userID)
	if err != nil {
		return nil, storeErr("regenerate backup codes", err)
	}

	s.logger.InfoContext(ctx, "backup codes regenerated", "user_id", userID, "count", len(codes))
	return codes, nil
}

func (s *FactorService) ownedFactor(ctx context.Context, userID, factorID string) (domain.Factor, error) {
	f, err := s.store.Factors().GetFactor(ctx, factorID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Factor{}, ErrNotFound
	}
	if err != nil {
		return domain.Factor{}, storeErr("get factor", err)
	}
	// Factor ids are unguessable, but ownership is still enforced.
	if f.UserID != userID {
		return domain.Factor{}, ErrNotFound
	}
	return f, nil
}

func defaultPriority(t domain.FactorType) domain.FactorPriority {
	switch t {
	case domain.FactorTOTP, domain.FactorWebAuthn:
		return domain.PriorityPrimary
	case domain.FactorBackupCode:
		return domain.PriorityBackup
	default:
		return domain.PrioritySecondary
	}
}
