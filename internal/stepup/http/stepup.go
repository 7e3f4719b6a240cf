package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/service"
	"github.com/authsome/stepup/pkg/httpx"
	"github.com/authsome/stepup/pkg/slogx"
)

// StepUpHandler covers the evaluate/begin/verify/cancel flow.
type StepUpHandler struct {
	Engine *service.Engine
}

type evaluateRequest struct {
	Route        string   `json:"route"`
	Action       string   `json:"action,omitempty"`
	ResourceType string   `json:"resource_type,omitempty"`
	Amount       *float64 `json:"amount,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	DeviceID     string   `json:"device_id,omitempty"`
}

type evaluateResponse struct {
	Required       bool     `json:"required"`
	Reason         string   `json:"reason"`
	RequirementID  string   `json:"requirement_id,omitempty"`
	RequiredLevel  string   `json:"required_level"`
	CurrentLevel   string   `json:"current_level"`
	AllowedMethods []string `json:"allowed_methods,omitempty"`
	MatchedRules   []string `json:"matched_rules,omitempty"`
	RiskScore      float64  `json:"risk_score"`
	ExpiresAt      string   `json:"expires_at,omitempty"`
}

// HandleEvaluate handles POST /v1/stepup/evaluate.
func (h *StepUpHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}
	if req.Route == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "route is required")
		return
	}

	ec := domain.EvaluationContext{
		UserID:       userID,
		OrgID:        httpx.OrgIDFromContext(ctx),
		Route:        req.Route,
		Action:       req.Action,
		ResourceType: req.ResourceType,
		Amount:       req.Amount,
		Currency:     req.Currency,
		DeviceID:     req.DeviceID,
		IPAddress:    httpx.IPKeyExtractor(r),
		UserAgent:    r.UserAgent(),
		CurrentLevel: domain.ParseSecurityLevel(httpx.LevelFromContext(ctx)),
	}

	res, requirement, err := h.Engine.EvaluateStepUp(ctx, ec)
	if err != nil {
		log.Error("step-up evaluation failed", "user_id", userID, "err", err)
		writeServiceError(w, err)
		return
	}

	resp := evaluateResponse{
		Required:      res.StepUpRequired,
		RequiredLevel: res.RequiredLevel.String(),
		CurrentLevel:  res.CurrentLevel.String(),
		MatchedRules:  res.MatchedRules,
		RiskScore:     res.RiskScore,
	}
	switch {
	case requirement != nil:
		resp.Reason = "step_up_required"
		resp.RequirementID = requirement.ID
		resp.AllowedMethods = methodStrings(requirement.AllowedMethods)
		resp.ExpiresAt = requirement.ExpiresAt.UTC().Format(time.RFC3339)
	case res.TrustSatisfied:
		resp.Reason = "trusted_device"
	default:
		resp.Reason = "policy_satisfied"
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type beginRequest struct {
	RequirementID string `json:"requirement_id"`
	Method        string `json:"method"`
}

type challengeResponse struct {
	ChallengeID string            `json:"challenge_id"`
	Method      string            `json:"method"`
	Status      string            `json:"status"`
	MaxAttempts int               `json:"max_attempts"`
	ExpiresAt   string            `json:"expires_at"`
	Material    map[string]string `json:"material,omitempty"`
}

// HandleBegin handles POST /v1/stepup/challenges.
func (h *StepUpHandler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}
	method := domain.ParseFactorType(req.Method)
	if req.RequirementID == "" || method == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "requirement_id and a valid method are required")
		return
	}

	ch, material, err := h.Engine.BeginVerification(ctx, userID, req.RequirementID, method, httpx.IPKeyExtractor(r), r.UserAgent())
	if err != nil {
		log.Warn("begin verification rejected", "user_id", userID, "requirement_id", req.RequirementID, "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, challengeResponse{
		ChallengeID: ch.ID,
		Method:      string(ch.Type),
		Status:      string(ch.Status),
		MaxAttempts: ch.MaxAttempts,
		ExpiresAt:   ch.ExpiresAt.UTC().Format(time.RFC3339),
		Material:    material,
	})
}

type verifyRequest struct {
	Proof          string `json:"proof"`
	DeviceID       string `json:"device_id,omitempty"`
	DeviceName     string `json:"device_name,omitempty"`
	RememberDevice bool   `json:"remember_device,omitempty"`
	RememberDays   int    `json:"remember_days,omitempty"`
}

type verifyResponse struct {
	Success          bool   `json:"success"`
	LevelGranted     string `json:"level_granted"`
	DeviceRemembered bool   `json:"device_remembered"`
	GrantToken       string `json:"grant_token,omitempty"`
}

// HandleVerify handles POST /v1/stepup/challenges/{id}/verify.
func (h *StepUpHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}
	if req.Proof == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "proof is required")
		return
	}

	result, err := h.Engine.Verify(ctx, service.VerifyInput{
		UserID:         userID,
		ChallengeID:    r.PathValue("id"),
		Proof:          req.Proof,
		IPAddress:      httpx.IPKeyExtractor(r),
		UserAgent:      r.UserAgent(),
		DeviceID:       req.DeviceID,
		DeviceName:     req.DeviceName,
		RememberDevice: req.RememberDevice,
		RememberTTL:    time.Duration(req.RememberDays) * 24 * time.Hour,
	})
	if err != nil {
		log.Warn("verification rejected", "user_id", userID, "challenge_id", r.PathValue("id"), "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, verifyResponse{
		Success:          result.Success,
		LevelGranted:     result.LevelGranted.String(),
		DeviceRemembered: result.DeviceRemembered,
		GrantToken:       result.GrantToken,
	})
}

// HandleCancel handles POST /v1/stepup/challenges/{id}/cancel.
func (h *StepUpHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	if err := h.Engine.CancelChallenge(ctx, userID, r.PathValue("id")); err != nil {
		log.Warn("cancel rejected", "user_id", userID, "challenge_id", r.PathValue("id"), "err", err)
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type requirementResponse struct {
	RequirementID  string   `json:"requirement_id"`
	Status         string   `json:"status"`
	RequiredLevel  string   `json:"required_level"`
	AllowedMethods []string `json:"allowed_methods,omitempty"`
	ExpiresAt      string   `json:"expires_at"`
}

// HandleGetRequirement handles GET /v1/stepup/requirements/{id}.
func (h *StepUpHandler) HandleGetRequirement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	req, err := h.Engine.GetRequirement(ctx, userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, requirementResponse{
		RequirementID:  req.ID,
		Status:         string(req.Status),
		RequiredLevel:  req.RequiredLevel.String(),
		AllowedMethods: methodStrings(req.AllowedMethods),
		ExpiresAt:      req.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func methodStrings(methods []domain.FactorType) []string {
	if len(methods) == 0 {
		return nil
	}
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}
