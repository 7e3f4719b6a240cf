package factor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/authsome/stepup/internal/stepup/domain"
)

const (
	metaCredential   = "credential"
	metaRegSession   = "registration_session"
	metaCredentialID = "credential_id"
)

// WebAuthnAdapter backs platform and roaming authenticators. Each factor
// holds exactly one credential; users enroll additional keys as additional
// factors. Ceremony sessions ride the enrollment metadata (registration)
// or the challenge provider state (assertion).
type WebAuthnAdapter struct {
	web *webauthn.WebAuthn
	max int
}

func NewWebAuthnAdapter(web *webauthn.WebAuthn, maxPerUser int) *WebAuthnAdapter {
	return &WebAuthnAdapter{web: web, max: maxPerUser}
}

func (a *WebAuthnAdapter) Type() domain.FactorType { return domain.FactorWebAuthn }

func (a *WebAuthnAdapter) MaxPerUser() int { return a.max }

func (a *WebAuthnAdapter) Enroll(_ context.Context, req EnrollRequest) (Enrollment, error) {
	user := &ceremonyUser{id: req.UserID, name: req.Username}

	options, session, err := a.web.BeginRegistration(user)
	if err != nil {
		return Enrollment{}, fmt.Errorf("begin webauthn registration: %w", err)
	}

	optJSON, err := json.Marshal(options)
	if err != nil {
		return Enrollment{}, fmt.Errorf("encode creation options: %w", err)
	}
	sessJSON, err := json.Marshal(session)
	if err != nil {
		return Enrollment{}, fmt.Errorf("encode registration session: %w", err)
	}

	return Enrollment{
		Provisioning: map[string]string{"creation_options": string(optJSON)},
		Metadata:     map[string]string{metaRegSession: string(sessJSON)},
	}, nil
}

func (a *WebAuthnAdapter) IssueChallengeMaterial(_ context.Context, f domain.Factor) (Material, error) {
	user, err := a.loadUser(f)
	if err != nil {
		return Material{}, err
	}

	options, session, err := a.web.BeginLogin(user)
	if err != nil {
		return Material{}, fmt.Errorf("begin webauthn login: %w", err)
	}

	optJSON, err := json.Marshal(options)
	if err != nil {
		return Material{}, fmt.Errorf("encode assertion options: %w", err)
	}
	sessJSON, err := json.Marshal(session)
	if err != nil {
		return Material{}, fmt.Errorf("encode login session: %w", err)
	}

	return Material{
		Data:          map[string]string{"assertion_options": string(optJSON)},
		ProviderState: string(sessJSON),
	}, nil
}

func (a *WebAuthnAdapter) Verify(_ context.Context, f domain.Factor, providerState, proof string) (VerifyOutcome, error) {
	if providerState == "" {
		return a.finishRegistration(f, proof)
	}
	return a.finishLogin(f, providerState, proof)
}

func (a *WebAuthnAdapter) finishRegistration(f domain.Factor, proof string) (VerifyOutcome, error) {
	raw := f.Metadata[metaRegSession]
	if raw == "" {
		return VerifyOutcome{}, fmt.Errorf("factor %s has no pending registration", f.ID)
	}
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return VerifyOutcome{}, fmt.Errorf("decode registration session: %w", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(strings.NewReader(proof))
	if err != nil {
		return VerifyOutcome{Valid: false}, nil
	}

	user := &ceremonyUser{id: f.UserID, name: f.Name}
	cred, err := a.web.CreateCredential(user, session, parsed)
	if err != nil {
		return VerifyOutcome{Valid: false}, nil
	}

	credJSON, err := json.Marshal(cred)
	if err != nil {
		return VerifyOutcome{}, fmt.Errorf("encode credential: %w", err)
	}
	return VerifyOutcome{
		Valid: true,
		UpdatedMetadata: map[string]string{
			metaCredential:   string(credJSON),
			metaCredentialID: protocol.URLEncodedBase64(cred.ID).String(),
		},
	}, nil
}

func (a *WebAuthnAdapter) finishLogin(f domain.Factor, providerState, proof string) (VerifyOutcome, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(providerState), &session); err != nil {
		return VerifyOutcome{}, fmt.Errorf("decode login session: %w", err)
	}

	user, err := a.loadUser(f)
	if err != nil {
		return VerifyOutcome{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(strings.NewReader(proof))
	if err != nil {
		return VerifyOutcome{Valid: false}, nil
	}

	cred, err := a.web.ValidateLogin(user, session, parsed)
	if err != nil {
		return VerifyOutcome{Valid: false}, nil
	}

	// Persist the updated sign counter for clone detection on later logins.
	credJSON, err := json.Marshal(cred)
	if err != nil {
		return VerifyOutcome{}, fmt.Errorf("encode credential: %w", err)
	}
	meta := map[string]string{
		metaCredential:   string(credJSON),
		metaCredentialID: f.Metadata[metaCredentialID],
	}
	return VerifyOutcome{Valid: true, UpdatedMetadata: meta}, nil
}

func (a *WebAuthnAdapter) loadUser(f domain.Factor) (*ceremonyUser, error) {
	raw := f.Metadata[metaCredential]
	if raw == "" {
		return nil, fmt.Errorf("factor %s has no registered credential", f.ID)
	}
	var cred webauthn.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &ceremonyUser{
		id:    f.UserID,
		name:  f.Name,
		creds: []webauthn.Credential{cred},
	}, nil
}

// ceremonyUser adapts our identifiers to the library's user contract for
// the duration of one ceremony.
type ceremonyUser struct {
	id    string
	name  string
	creds []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte { return []byte(u.id) }

func (u *ceremonyUser) WebAuthnName() string { return u.name }

func (u *ceremonyUser) WebAuthnDisplayName() string { return u.name }

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }
