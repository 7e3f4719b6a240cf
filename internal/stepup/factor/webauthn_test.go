package factor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"

	"github.com/authsome/stepup/internal/stepup/domain"
)

func newTestWebAuthn(t *testing.T) *WebAuthnAdapter {
	t.Helper()

	web, err := webauthn.New(&webauthn.Config{
		RPID:          "example.com",
		RPDisplayName: "Example",
		RPOrigins:     []string{"https://example.com"},
	})
	require.NoError(t, err)

	return NewWebAuthnAdapter(web, 5)
}

func TestWebAuthnEnrollIssuesCeremony(t *testing.T) {
	t.Parallel()

	adapter := newTestWebAuthn(t)

	enrollment, err := adapter.Enroll(context.Background(), EnrollRequest{UserID: "user-1", Username: "alex"})
	require.NoError(t, err)
	require.False(t, enrollment.Activated, "registration must be proven before the key is usable")

	var options map[string]any
	require.NoError(t, json.Unmarshal([]byte(enrollment.Provisioning["creation_options"]), &options))
	require.Contains(t, options, "publicKey")

	var session webauthn.SessionData
	require.NoError(t, json.Unmarshal([]byte(enrollment.Metadata["registration_session"]), &session))
	require.NotEmpty(t, session.Challenge)
	require.Equal(t, []byte("user-1"), session.UserID)
}

func TestWebAuthnVerifyWithoutPendingRegistration(t *testing.T) {
	t.Parallel()

	adapter := newTestWebAuthn(t)
	f := domain.Factor{ID: "f-1", UserID: "user-1", Type: domain.FactorWebAuthn, Metadata: map[string]string{}}

	_, err := adapter.Verify(context.Background(), f, "", "{}")
	require.Error(t, err)
}

func TestWebAuthnChallengeRequiresCredential(t *testing.T) {
	t.Parallel()

	adapter := newTestWebAuthn(t)
	f := domain.Factor{ID: "f-1", UserID: "user-1", Type: domain.FactorWebAuthn, Metadata: map[string]string{}}

	_, err := adapter.IssueChallengeMaterial(context.Background(), f)
	require.Error(t, err)
}

func TestWebAuthnMalformedAssertionRejected(t *testing.T) {
	t.Parallel()

	adapter := newTestWebAuthn(t)

	cred := webauthn.Credential{ID: []byte("cred-1")}
	credJSON, err := json.Marshal(cred)
	require.NoError(t, err)

	f := domain.Factor{
		ID:     "f-1",
		UserID: "user-1",
		Name:   "alex",
		Type:   domain.FactorWebAuthn,
		Metadata: map[string]string{
			"credential": string(credJSON),
		},
	}

	material, err := adapter.IssueChallengeMaterial(context.Background(), f)
	require.NoError(t, err)

	outcome, err := adapter.Verify(context.Background(), f, material.ProviderState, "not-json")
	require.NoError(t, err)
	require.False(t, outcome.Valid)
}
