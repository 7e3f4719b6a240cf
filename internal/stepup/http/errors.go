package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/authsome/stepup/internal/stepup/service"
	"github.com/authsome/stepup/pkg/httpx"
)

// writeServiceError maps the engine's typed outcomes to wire responses.
// Expired state gets 410 with start-over guidance; invalid proofs stay
// deliberately vague.
func writeServiceError(w http.ResponseWriter, err error) {
	if locked, ok := service.IsAccountLocked(err); ok {
		httpx.WriteJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":             "account_locked",
			"error_description": "Too many failed attempts. Try again later.",
			"locked_until":      locked.LockedUntil.UTC().Format(time.RFC3339),
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "The requested resource does not exist")
	case errors.Is(err, service.ErrInvalidFactorType):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_factor_type", "Unsupported factor type")
	case errors.Is(err, service.ErrLimitExceeded):
		httpx.WriteError(w, http.StatusConflict, "limit_exceeded", "Maximum number of factors of this type already enrolled")
	case errors.Is(err, service.ErrRequirementExpired):
		httpx.WriteError(w, http.StatusGone, "requirement_expired", "The step-up requirement has expired. Start a new evaluation.")
	case errors.Is(err, service.ErrChallengeNotActive):
		httpx.WriteError(w, http.StatusGone, "challenge_not_active", "The challenge is no longer active. Begin a new verification.")
	case errors.Is(err, service.ErrMethodNotAllowed):
		httpx.WriteError(w, http.StatusBadRequest, "method_not_allowed", "This method cannot satisfy the requirement")
	case errors.Is(err, service.ErrNoActiveFactor):
		httpx.WriteError(w, http.StatusBadRequest, "no_active_factor", "No active factor of this type is enrolled")
	case errors.Is(err, service.ErrAttemptsExhausted):
		httpx.WriteError(w, http.StatusForbidden, "attempts_exhausted", "No attempts remain for this challenge. Begin a new verification.")
	case errors.Is(err, service.ErrInvalidProof):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_proof", "The submitted proof was not accepted")
	case errors.Is(err, service.ErrAlreadyFinalized):
		httpx.WriteError(w, http.StatusConflict, "already_finalized", "The resource has already reached a terminal state")
	case errors.Is(err, service.ErrInvalidRule):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_rule", err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "An internal error occurred")
	}
}

func writeInvalidBody(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
}
