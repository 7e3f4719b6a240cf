package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/factor"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/clockx"
	"github.com/authsome/stepup/pkg/idx"
	"github.com/authsome/stepup/pkg/jwtx"
)

// EngineConfig carries the tunable policy knobs. Nothing here is a
// constant; deployments set their own thresholds.
type EngineConfig struct {
	// RequirementTTL bounds how long a pending step-up requirement stays
	// actionable.
	RequirementTTL time.Duration

	// ChallengeTTL bounds a single challenge. Requirement and challenge
	// expire independently; the shorter one controls actual denial.
	ChallengeTTL time.Duration

	// MaxAttempts is the per-challenge proof budget.
	MaxAttempts int

	// DeviceTTL is the default remember-device duration; MaxDeviceTTL caps
	// caller-requested durations. Trust is never indefinite.
	DeviceTTL    time.Duration
	MaxDeviceTTL time.Duration

	// Lockout parameterizes the per-(user, ip) failure accounting.
	Lockout store.LockoutPolicy

	// GrantTTL bounds the elevation grant tokens minted on success.
	GrantTTL time.Duration
}

// Engine orchestrates step-up: it evaluates risk, materializes challenges,
// accepts proofs, applies lockouts and hands out elevation grants. All
// atomic state transitions live in the store; the engine never
// read-then-writes challenge state.
type Engine struct {
	store     store.Store
	lockouts  store.Lockouts
	registry  *factor.Registry
	evaluator *Evaluator
	grants    *jwtx.Keypair
	clock     clockx.Clock
	logger    *slog.Logger
	cfg       EngineConfig
}

func NewEngine(
	st store.Store,
	lockouts store.Lockouts,
	registry *factor.Registry,
	evaluator *Evaluator,
	grants *jwtx.Keypair,
	clock clockx.Clock,
	logger *slog.Logger,
	cfg EngineConfig,
) *Engine {
	return &Engine{
		store:     st,
		lockouts:  lockouts,
		registry:  registry,
		evaluator: evaluator,
		grants:    grants,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// EvaluateStepUp runs the risk evaluation and, when elevation is required
// and no device trust satisfies it, creates a pending requirement. The
// returned requirement is nil when no step-up is needed.
func (e *Engine) EvaluateStepUp(ctx context.Context, ec domain.EvaluationContext) (domain.EvaluationResult, *domain.StepUpRequirement, error) {
	res, err := e.evaluator.Evaluate(ctx, ec)
	if err != nil {
		return domain.EvaluationResult{}, nil, err
	}

	now := e.clock.Now().UTC()

	if !res.StepUpRequired {
		if res.TrustSatisfied && ec.DeviceID != "" {
			if err := e.store.TrustedDevices().TouchTrustedDevice(ctx, ec.UserID, ec.DeviceID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
				return domain.EvaluationResult{}, nil, storeErr("touch trusted device", err)
			}
		}
		return res, nil, nil
	}

	allowed, err := e.allowedMethods(ctx, ec.UserID, res.AllowedMethods)
	if err != nil {
		return domain.EvaluationResult{}, nil, err
	}
	res.AllowedMethods = allowed

	req := domain.StepUpRequirement{
		ID:             idx.New().String(),
		UserID:         ec.UserID,
		OrgID:          ec.OrgID,
		Route:          ec.Route,
		Action:         ec.Action,
		ResourceType:   ec.ResourceType,
		Amount:         ec.Amount,
		Currency:       ec.Currency,
		RequiredLevel:  res.RequiredLevel,
		CurrentLevel:   ec.CurrentLevel,
		MatchedRules:   res.MatchedRules,
		RiskScore:      res.RiskScore,
		AllowedMethods: allowed,
		Status:         domain.RequirementPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(e.cfg.RequirementTTL),
	}
	if err := e.store.Requirements().CreateRequirement(ctx, req); err != nil {
		return domain.EvaluationResult{}, nil, storeErr("create requirement", err)
	}

	e.logger.InfoContext(ctx, "step-up required",
		"requirement_id", req.ID,
		"user_id", req.UserID,
		"route", req.Route,
		"required_level", req.RequiredLevel.String(),
	)
	return res, &req, nil
}

// BeginVerification materializes a challenge for one allowed method of a
// live requirement. For delivered-code factors this dispatches the code;
// for WebAuthn it returns assertion options.
func (e *Engine) BeginVerification(ctx context.Context, userID, requirementID string, method domain.FactorType, ip, userAgent string) (domain.Challenge, map[string]string, error) {
	now := e.clock.Now().UTC()

	req, err := e.store.Requirements().GetRequirement(ctx, requirementID, now)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Challenge{}, nil, ErrNotFound
	}
	if err != nil {
		return domain.Challenge{}, nil, storeErr("get requirement", err)
	}
	if req.UserID != userID {
		return domain.Challenge{}, nil, ErrNotFound
	}
	switch {
	case req.Status == domain.RequirementExpired || req.ExpiredAt(now):
		return domain.Challenge{}, nil, ErrRequirementExpired
	case req.Status != domain.RequirementPending:
		return domain.Challenge{}, nil, ErrAlreadyFinalized
	}
	if !req.MethodAllowed(method) {
		return domain.Challenge{}, nil, ErrMethodNotAllowed
	}

	f, err := e.usableFactor(ctx, req.UserID, method, now)
	if err != nil {
		return domain.Challenge{}, nil, err
	}

	adapter, err := e.registry.Adapter(method)
	if err != nil {
		return domain.Challenge{}, nil, ErrInvalidFactorType
	}
	material, err := adapter.IssueChallengeMaterial(ctx, f)
	if err != nil {
		return domain.Challenge{}, nil, storeErr("issue challenge material", err)
	}

	ch := domain.Challenge{
		ID:            idx.New().String(),
		RequirementID: req.ID,
		UserID:        req.UserID,
		FactorID:      f.ID,
		Type:          method,
		Status:        domain.ChallengePending,
		MaxAttempts:   e.cfg.MaxAttempts,
		IPAddress:     ip,
		UserAgent:     userAgent,
		ProviderState: material.ProviderState,
		CreatedAt:     now,
		ExpiresAt:     now.Add(e.cfg.ChallengeTTL),
	}
	if err := e.store.Challenges().CreateChallenge(ctx, ch); err != nil {
		return domain.Challenge{}, nil, storeErr("create challenge", err)
	}

	e.logger.InfoContext(ctx, "verification started",
		"challenge_id", ch.ID,
		"requirement_id", req.ID,
		"user_id", ch.UserID,
		"method", string(method),
	)
	return ch, material.Data, nil
}

// VerifyInput carries one proof submission.
type VerifyInput struct {
	UserID      string
	ChallengeID string
	Proof       string
	IPAddress   string
	UserAgent   string

	// Device fields only matter when RememberDevice is set.
	DeviceID       string
	DeviceName     string
	RememberDevice bool
	// RememberTTL overrides the default trust duration; it is clamped to
	// the configured maximum. Zero means the default.
	RememberTTL time.Duration
}

// Verify checks a proof against a live challenge. Success finalizes the
// challenge, fulfills its requirement in the same transaction, optionally
// records device trust and mints an elevation grant. Replaying an already
// verified challenge returns the original outcome without re-running side
// effects.
func (e *Engine) Verify(ctx context.Context, in VerifyInput) (domain.VerificationResult, error) {
	now := e.clock.Now().UTC()

	ch, err := e.store.Challenges().GetChallenge(ctx, in.ChallengeID, now)
	if errors.Is(err, store.ErrNotFound) {
		return domain.VerificationResult{}, ErrNotFound
	}
	if err != nil {
		return domain.VerificationResult{}, storeErr("get challenge", err)
	}
	if ch.UserID != in.UserID {
		return domain.VerificationResult{}, ErrNotFound
	}

	if ch.Status == domain.ChallengeVerified {
		return e.replaySuccess(ctx, ch, now)
	}
	if ch.Terminal() || ch.ExpiredAt(now) {
		return domain.VerificationResult{}, ErrChallengeNotActive
	}

	req, err := e.store.Requirements().GetRequirement(ctx, ch.RequirementID, now)
	if errors.Is(err, store.ErrNotFound) {
		return domain.VerificationResult{}, ErrNotFound
	}
	if err != nil {
		return domain.VerificationResult{}, storeErr("get requirement", err)
	}
	if req.Status == domain.RequirementExpired || req.ExpiredAt(now) {
		return domain.VerificationResult{}, ErrRequirementExpired
	}

	lockKey := domain.LockoutKey(ch.UserID, in.IPAddress)
	if err := e.checkLockout(ctx, lockKey, now); err != nil {
		return domain.VerificationResult{}, err
	}

	ch, err = e.store.Challenges().RecordAttempt(ctx, in.ChallengeID, now)
	if errors.Is(err, store.ErrAlreadyFinalized) {
		// A racing writer beat us; replay its outcome if it was a success.
		if ch.Status == domain.ChallengeVerified {
			return e.replaySuccess(ctx, ch, now)
		}
		return domain.VerificationResult{}, ErrChallengeNotActive
	}
	if err != nil {
		return domain.VerificationResult{}, storeErr("record attempt", err)
	}

	f, err := e.store.Factors().GetFactor(ctx, ch.FactorID)
	if err != nil {
		return domain.VerificationResult{}, storeErr("get factor", err)
	}

	adapter, err := e.registry.Adapter(ch.Type)
	if err != nil {
		return domain.VerificationResult{}, ErrInvalidFactorType
	}
	outcome, err := adapter.Verify(ctx, f, ch.ProviderState, in.Proof)
	if err != nil {
		// A collaborator failure is never a valid proof.
		return domain.VerificationResult{}, storeErr("verify proof", err)
	}
	if !outcome.Valid {
		e.recordFailure(ctx, lockKey, now)
		if ch.Exhausted() {
			// The last attempt was spent on an invalid proof.
			ferr := e.store.Challenges().FinalizeChallenge(ctx, ch.ID, domain.ChallengeFailed, now)
			if ferr != nil && !errors.Is(ferr, store.ErrAlreadyFinalized) {
				return domain.VerificationResult{}, storeErr("finalize challenge", ferr)
			}
			return domain.VerificationResult{}, ErrAttemptsExhausted
		}
		return domain.VerificationResult{}, ErrInvalidProof
	}

	// Success: finalize challenge and fulfill the requirement together.
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Challenges().FinalizeChallenge(ctx, ch.ID, domain.ChallengeVerified, now); err != nil {
			return err
		}
		if err := tx.Requirements().FulfillRequirement(ctx, req.ID, now); err != nil && !errors.Is(err, store.ErrAlreadyFinalized) {
			return err
		}
		return nil
	})
	if errors.Is(err, store.ErrAlreadyFinalized) {
		// Lost the finalize race. Re-read and replay the winner's outcome.
		ch, rerr := e.store.Challenges().GetChallenge(ctx, in.ChallengeID, now)
		if rerr == nil && ch.Status == domain.ChallengeVerified {
			return e.replaySuccess(ctx, ch, now)
		}
		return domain.VerificationResult{}, ErrChallengeNotActive
	}
	if err != nil {
		return domain.VerificationResult{}, storeErr("finalize verification", err)
	}

	if outcome.UpdatedMetadata != nil {
		if err := e.store.Factors().UpdateFactorMetadata(ctx, f.ID, outcome.UpdatedMetadata, now); err != nil {
			return domain.VerificationResult{}, storeErr("update factor metadata", err)
		}
	}
	if err := e.store.Factors().TouchFactorUsed(ctx, f.ID, now); err != nil {
		return domain.VerificationResult{}, storeErr("touch factor", err)
	}
	if err := e.lockouts.ClearLockout(ctx, lockKey); err != nil {
		return domain.VerificationResult{}, storeErr("clear lockout", err)
	}

	remembered := false
	if in.RememberDevice && in.DeviceID != "" {
		if err := e.rememberDevice(ctx, req, in, now); err != nil {
			return domain.VerificationResult{}, err
		}
		if err := e.store.Challenges().MarkDeviceRemembered(ctx, ch.ID); err != nil {
			return domain.VerificationResult{}, storeErr("mark device remembered", err)
		}
		remembered = true
	}

	token, err := e.mintGrant(req, ch.Type, now)
	if err != nil {
		return domain.VerificationResult{}, err
	}

	e.logger.InfoContext(ctx, "step-up verified",
		"challenge_id", ch.ID,
		"requirement_id", req.ID,
		"user_id", ch.UserID,
		"method", string(ch.Type),
		"level_granted", req.RequiredLevel.String(),
		"device_remembered", remembered,
	)
	return domain.VerificationResult{
		Success:          true,
		LevelGranted:     req.RequiredLevel,
		DeviceRemembered: remembered,
		GrantToken:       token,
	}, nil
}

// CancelChallenge abandons a pending challenge. Terminal challenges report
// ErrAlreadyFinalized.
func (e *Engine) CancelChallenge(ctx context.Context, userID, challengeID string) error {
	now := e.clock.Now().UTC()

	ch, err := e.store.Challenges().GetChallenge(ctx, challengeID, now)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storeErr("get challenge", err)
	}
	if ch.UserID != userID {
		return ErrNotFound
	}

	err = e.store.Challenges().FinalizeChallenge(ctx, challengeID, domain.ChallengeCancelled, now)
	if errors.Is(err, store.ErrAlreadyFinalized) {
		return ErrAlreadyFinalized
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storeErr("cancel challenge", err)
	}

	e.logger.InfoContext(ctx, "challenge cancelled", "challenge_id", challengeID, "user_id", userID)
	return nil
}

// GetRequirement exposes a requirement for polling callers, lazily mapping
// expiry.
func (e *Engine) GetRequirement(ctx context.Context, userID, requirementID string) (domain.StepUpRequirement, error) {
	req, err := e.store.Requirements().GetRequirement(ctx, requirementID, e.clock.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return domain.StepUpRequirement{}, ErrNotFound
	}
	if err != nil {
		return domain.StepUpRequirement{}, storeErr("get requirement", err)
	}
	if req.UserID != userID {
		return domain.StepUpRequirement{}, ErrNotFound
	}
	return req, nil
}

// replaySuccess reconstructs the result of an already verified challenge
// so repeated verify calls are idempotent: no second trusted-device write,
// no double attempt accounting, just the original outcome (with a freshly
// minted grant, since grants are stateless).
func (e *Engine) replaySuccess(ctx context.Context, ch domain.Challenge, now time.Time) (domain.VerificationResult, error) {
	req, err := e.store.Requirements().GetRequirement(ctx, ch.RequirementID, now)
	if err != nil {
		return domain.VerificationResult{}, storeErr("get requirement", err)
	}
	token, err := e.mintGrant(req, ch.Type, now)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	return domain.VerificationResult{
		Success:          true,
		LevelGranted:     req.RequiredLevel,
		DeviceRemembered: ch.DeviceRemembered,
		GrantToken:       token,
	}, nil
}

func (e *Engine) checkLockout(ctx context.Context, key string, now time.Time) error {
	lock, err := e.lockouts.GetLockout(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr("get lockout", err)
	}
	if lock.LockedAt(now) {
		return &AccountLockedError{LockedUntil: lock.LockedUntil}
	}
	return nil
}

// recordFailure feeds the (user, ip) failure counter. The attempt that
// crosses the threshold still reports its own outcome; the lockout takes
// effect on the next call.
func (e *Engine) recordFailure(ctx context.Context, key string, now time.Time) {
	if _, err := e.lockouts.RecordFailure(ctx, key, e.cfg.Lockout, now); err != nil {
		e.logger.ErrorContext(ctx, "failed to record lockout failure", "key", key, "error", err)
	}
}

func (e *Engine) rememberDevice(ctx context.Context, req domain.StepUpRequirement, in VerifyInput, now time.Time) error {
	ttl := in.RememberTTL
	if ttl <= 0 {
		ttl = e.cfg.DeviceTTL
	}
	if ttl > e.cfg.MaxDeviceTTL {
		ttl = e.cfg.MaxDeviceTTL
	}

	d := domain.TrustedDevice{
		ID:         idx.New().String(),
		UserID:     req.UserID,
		DeviceID:   in.DeviceID,
		Name:       in.DeviceName,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		Level:      req.RequiredLevel,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
	}
	if err := e.store.TrustedDevices().UpsertTrustedDevice(ctx, d); err != nil {
		return storeErr("remember device", err)
	}
	return nil
}

func (e *Engine) mintGrant(req domain.StepUpRequirement, method domain.FactorType, now time.Time) (string, error) {
	token, err := e.grants.Sign(req.UserID, req.OrgID, req.RequiredLevel.String(), []string{string(method)}, e.cfg.GrantTTL, now)
	if err != nil {
		return "", storeErr("mint grant", err)
	}
	return token, nil
}

// allowedMethods intersects the rule's permitted methods with the types of
// the user's usable factors; an empty rule set means any active factor.
func (e *Engine) allowedMethods(ctx context.Context, userID string, ruleMethods []domain.FactorType) ([]domain.FactorType, error) {
	factors, err := e.store.Factors().ListUserFactors(ctx, userID)
	if err != nil {
		return nil, storeErr("list factors", err)
	}

	now := e.clock.Now().UTC()
	active := make(map[domain.FactorType]bool)
	var activeOrder []domain.FactorType
	for _, f := range factors {
		if f.Usable(now) && !active[f.Type] {
			active[f.Type] = true
			activeOrder = append(activeOrder, f.Type)
		}
	}

	if len(ruleMethods) == 0 {
		return activeOrder, nil
	}

	var out []domain.FactorType
	for _, m := range ruleMethods {
		if active[m] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (e *Engine) usableFactor(ctx context.Context, userID string, method domain.FactorType, now time.Time) (domain.Factor, error) {
	factors, err := e.store.Factors().ListUserFactors(ctx, userID)
	if err != nil {
		return domain.Factor{}, storeErr("list factors", err)
	}
	for _, f := range factors {
		if f.Type == method && f.Usable(now) {
			return f, nil
		}
	}
	return domain.Factor{}, ErrNoActiveFactor
}
