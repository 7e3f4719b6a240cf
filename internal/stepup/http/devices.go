package http

import (
	"net/http"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/service"
	"github.com/authsome/stepup/pkg/httpx"
)

// DeviceHandler lists and revokes remembered devices.
type DeviceHandler struct {
	Devices *service.DeviceService
}

type deviceView struct {
	DeviceID   string `json:"device_id"`
	Name       string `json:"name,omitempty"`
	Level      string `json:"level"`
	CreatedAt  string `json:"created_at"`
	ExpiresAt  string `json:"expires_at"`
	LastUsedAt string `json:"last_used_at"`
}

func toDeviceView(d domain.TrustedDevice) deviceView {
	return deviceView{
		DeviceID:   d.DeviceID,
		Name:       d.Name,
		Level:      d.Level.String(),
		CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:  d.ExpiresAt.UTC().Format(time.RFC3339),
		LastUsedAt: d.LastUsedAt.UTC().Format(time.RFC3339),
	}
}

// HandleList handles GET /v1/devices.
func (h *DeviceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	devices, err := h.Devices.List(ctx, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, toDeviceView(d))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"devices": views})
}

// HandleForget handles DELETE /v1/devices/{id}. Idempotent.
func (h *DeviceHandler) HandleForget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or invalid access token")
		return
	}

	if err := h.Devices.Forget(ctx, userID, r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
