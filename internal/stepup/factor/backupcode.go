package factor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/cryptox"
)

// BackupCodeAdapter issues and redeems single-use recovery codes. Only the
// SHA-256 fingerprints are stored; redemption deletes the row, so a code can
// never verify twice. The server mints the codes itself, so enrollment needs
// no proof and activates immediately.
type BackupCodeAdapter struct {
	codes store.BackupCodes
	count int
}

func NewBackupCodeAdapter(codes store.BackupCodes, count int) *BackupCodeAdapter {
	return &BackupCodeAdapter{codes: codes, count: count}
}

func (a *BackupCodeAdapter) Type() domain.FactorType { return domain.FactorBackupCode }

func (a *BackupCodeAdapter) MaxPerUser() int { return 1 }

func (a *BackupCodeAdapter) Enroll(ctx context.Context, req EnrollRequest) (Enrollment, error) {
	codes, err := a.Regenerate(ctx, req.UserID)
	if err != nil {
		return Enrollment{}, err
	}

	return Enrollment{
		Provisioning: map[string]string{
			"codes": strings.Join(codes, " "),
			"count": strconv.Itoa(len(codes)),
		},
		Activated: true,
	}, nil
}

func (a *BackupCodeAdapter) IssueChallengeMaterial(context.Context, domain.Factor) (Material, error) {
	return Material{}, nil
}

func (a *BackupCodeAdapter) Verify(ctx context.Context, f domain.Factor, _ string, proof string) (VerifyOutcome, error) {
	consumed, err := a.codes.ConsumeBackupCode(ctx, f.UserID, cryptox.FingerprintToken(proof))
	if err != nil {
		return VerifyOutcome{}, fmt.Errorf("consume backup code: %w", err)
	}
	return VerifyOutcome{Valid: consumed}, nil
}

// Regenerate replaces every outstanding code for the user with a fresh
// batch and returns the plaintexts, shown exactly once.
func (a *BackupCodeAdapter) Regenerate(ctx context.Context, userID string) ([]string, error) {
	if err := a.codes.DeleteAllBackupCodes(ctx, userID); err != nil {
		return nil, fmt.Errorf("clear backup codes: %w", err)
	}

	codes := make([]string, 0, a.count)
	for i := 0; i < a.count; i++ {
		code, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		if err := a.codes.CreateBackupCode(ctx, userID, cryptox.FingerprintToken(code)); err != nil {
			return nil, fmt.Errorf("store backup code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}
