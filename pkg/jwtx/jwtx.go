// Package jwtx signs and verifies the EdDSA tokens the stepup service deals
// in: inbound session bearers carrying the caller's current assurance level,
// and outbound elevation grants minted after a successful verification.
package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultGrantTTL is the default lifetime of an elevation grant token.
// Grants are deliberately short; longer exemptions belong to device trust.
const DefaultGrantTTL = 10 * time.Minute

var (
	ErrInvalidToken = errors.New("jwtx: invalid token")
	ErrExpiredToken = errors.New("jwtx: token expired")
)

// Claims are the session/grant claims shared with the surrounding platform.
type Claims struct {
	jwt.RegisteredClaims

	// OrgID scopes the session to a tenant organization.
	OrgID string `json:"org,omitempty"`

	// ACR carries the session's security level ("none", "basic",
	// "elevated", "high").
	ACR string `json:"acr,omitempty"`

	// AMR lists the authentication methods that produced this level,
	// e.g. ["pwd","totp"].
	AMR []string `json:"amr,omitempty"`
}

// Keypair signs and verifies tokens with a single Ed25519 key. The platform
// rotates keys upstream; this service only ever holds the current one.
type Keypair struct {
	issuer string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
}

// NewEphemeralKeypair generates a fresh Ed25519 keypair. Suitable for dev
// and tests; production deployments load key material via NewKeypair.
func NewEphemeralKeypair(issuer string) (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return &Keypair{issuer: issuer, priv: priv, pub: pub}, nil
}

// NewKeypair builds a Keypair from a base64url-encoded Ed25519 seed.
func NewKeypair(issuer, seedB64 string) (*Keypair, error) {
	seed, err := base64.RawURLEncoding.DecodeString(seedB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{
		issuer: issuer,
		priv:   priv,
		pub:    priv.Public().(ed25519.PublicKey),
	}, nil
}

// Sign mints a token for the given subject with the supplied custom claims.
func (k *Keypair) Sign(subject, orgID, acr string, amr []string, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OrgID: orgID,
		ACR:   acr,
		AMR:   amr,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(k.priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (k *Keypair) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return k.pub, nil
	}, jwt.WithIssuer(k.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
