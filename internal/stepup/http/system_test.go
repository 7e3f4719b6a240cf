package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/service"
	"github.com/authsome/stepup/internal/stepup/store/drivers/sqlite"
)

func TestLivezHandler(t *testing.T) {
	t.Parallel()

	h := LivezHandler(time.Now(), "v1.2.3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "v1.2.3", body.Version)
}

func TestReadyzHandler(t *testing.T) {
	t.Parallel()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())

	h := ReadyzHandler(time.Now(), "v1.2.3", st)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("degraded after the store closes", func(t *testing.T) {
		require.NoError(t, st.Close())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "degraded", body.Status)
	})
}

func TestWriteServiceErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err      error
		wantCode int
		wantErr  string
	}{
		{service.ErrNotFound, http.StatusNotFound, "not_found"},
		{service.ErrInvalidFactorType, http.StatusBadRequest, "invalid_factor_type"},
		{service.ErrLimitExceeded, http.StatusConflict, "limit_exceeded"},
		{service.ErrRequirementExpired, http.StatusGone, "requirement_expired"},
		{service.ErrChallengeNotActive, http.StatusGone, "challenge_not_active"},
		{service.ErrMethodNotAllowed, http.StatusBadRequest, "method_not_allowed"},
		{service.ErrNoActiveFactor, http.StatusBadRequest, "no_active_factor"},
		{service.ErrAttemptsExhausted, http.StatusForbidden, "attempts_exhausted"},
		{service.ErrInvalidProof, http.StatusBadRequest, "invalid_proof"},
		{service.ErrAlreadyFinalized, http.StatusConflict, "already_finalized"},
		{errors.New("surprise"), http.StatusInternalServerError, "server_error"},
	}

	for _, tc := range cases {
		t.Run(tc.wantErr, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, fmt.Errorf("wrapped: %w", tc.err))
			require.Equal(t, tc.wantCode, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.wantErr, body["error"])
		})
	}

	t.Run("account lockout carries its release time", func(t *testing.T) {
		until := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
		rec := httptest.NewRecorder()
		writeServiceError(rec, &service.AccountLockedError{LockedUntil: until})
		require.Equal(t, http.StatusTooManyRequests, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "account_locked", body["error"])
		require.Equal(t, "2025-06-01T12:30:00Z", body["locked_until"])
	})
}
