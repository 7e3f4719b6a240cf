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

// FactorHandler covers enrollment and factor lifecycle endpoints.
type FactorHandler struct {
	Factors *service.FactorService
}

// factorView is the wire shape of a factor. Adapter metadata (secrets,
// credentials) never leaves the service.
type factorView struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	CreatedAt  string `json:"created_at"`
	VerifiedAt string `json:"verified_at,omitempty"`
	LastUsedAt string `json:"last_used_at,omitempty"`
}

func toFactorView(f domain.Factor) factorView {
	v := factorView{
		ID:        f.ID,
		Type:      string(f.Type),
		Name:      f.Name,
		Status:    string(f.Status),
		Priority:  string(f.Priority),
		CreatedAt: f.CreatedAt.UTC().Format(time.RFC3339),
	}
	if f.VerifiedAt != nil {
		v.VerifiedAt = f.VerifiedAt.UTC().Format(time.RFC3339)
	}
	if f.LastUsedAt != nil {
		v.LastUsedAt = f.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// HandleList handles GET /v1/factors.
func (h *FactorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	factors, err := h.Factors.List(ctx, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]factorView, 0, len(factors))
	for _, f := range factors {
		views = append(views, toFactorView(f))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"factors": views})
}

type enrollRequest struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Target   string `json:"target,omitempty"`
}

type enrollResponse struct {
	Factor       factorView        `json:"factor"`
	Provisioning map[string]string `json:"provisioning,omitempty"`
}

// HandleEnroll handles POST /v1/factors. The provisioning payload (TOTP
// secret, WebAuthn options, backup codes) is returned exactly once.
func (h *FactorHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}
	ftype := domain.ParseFactorType(req.Type)
	if ftype == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_factor_type", "Unsupported factor type")
		return
	}
	username := req.Username
	if username == "" {
		username = userID
	}

	f, provisioning, err := h.Factors.Enroll(ctx, service.EnrollInput{
		UserID:   userID,
		Username: username,
		Type:     ftype,
		Name:     req.Name,
		Target:   req.Target,
	})
	if err != nil {
		log.Warn("enrollment rejected", "user_id", userID, "type", req.Type, "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, enrollResponse{
		Factor:       toFactorView(f),
		Provisioning: provisioning,
	})
}

type activateRequest struct {
	Proof string `json:"proof"`
}

// HandleActivate handles POST /v1/factors/{id}/activate.
func (h *FactorHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}
	if req.Proof == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "proof is required")
		return
	}

	f, err := h.Factors.Activate(ctx, userID, r.PathValue("id"), req.Proof)
	if err != nil {
		log.Warn("activation rejected", "user_id", userID, "factor_id", r.PathValue("id"), "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"factor": toFactorView(f)})
}

// HandleDisable handles DELETE /v1/factors/{id}.
func (h *FactorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	if err := h.Factors.Disable(ctx, userID, r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegenerateBackupCodes handles POST /v1/factors/backup-codes/regenerate.
// The fresh batch replaces all unspent codes and is shown exactly once.
func (h *FactorHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	codes, err := h.Factors.RegenerateBackupCodes(ctx, userID)
	if err != nil {
		log.Warn("backup code regeneration rejected", "user_id", userID, "err", err)
		writeServiceError(w, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"codes": codes})
}
