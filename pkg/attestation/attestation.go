// Package attestation checks the identity, emergency and authorization
// attestations that accompany an emergency claim.
package attestation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// Verifier checks the three attestations of a proof bundle.
type Verifier interface {
	VerifyIdentity(ctx context.Context, proof contracts.Proof) (bool, error)
	VerifyEmergency(ctx context.Context, proof contracts.Proof) (bool, error)
	VerifyAuthorization(ctx context.Context, proof contracts.Proof) (bool, error)
}

// Attestation kinds carried in the "kind" claim.
const (
	KindIdentity      = "identity"
	KindEmergency     = "emergency"
	KindAuthorization = "authorization"
)

// ScopeEmergencyRelease must be present on authorization attestations.
const ScopeEmergencyRelease = "emergency_release"

var (
	ErrWrongKind  = errors.New("attestation kind mismatch")
	ErrStale      = errors.New("emergency attestation is stale")
	ErrOutOfScope = errors.New("authorization does not cover emergency release")
)

// Claims are the attestation claims.
type Claims struct {
	jwt.RegisteredClaims
	Kind          string   `json:"kind"`
	EmergencyID   string   `json:"emergency_id,omitempty"`
	SeverityLevel int      `json:"severity_level,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
}

// maxAge bounds how old an emergency attestation may be per severity level.
var maxAge = map[int]time.Duration{
	1: 24 * time.Hour,
	2: 12 * time.Hour,
	3: 6 * time.Hour,
}

// JWTVerifier verifies EdDSA-signed JWT attestations from a trusted issuer.
type JWTVerifier struct {
	issuerKey ed25519.PublicKey
	issuer    string
	clock     func() time.Time
}

func NewJWTVerifier(issuer string, issuerKey ed25519.PublicKey) *JWTVerifier {
	return &JWTVerifier{issuerKey: issuerKey, issuer: issuer, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (v *JWTVerifier) WithClock(clock func() time.Time) *JWTVerifier {
	v.clock = clock
	return v
}

func (v *JWTVerifier) parse(token, kind string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.issuerKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("%s attestation: %w", kind, err)
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: want %s, got %q", ErrWrongKind, kind, claims.Kind)
	}
	return claims, nil
}

func (v *JWTVerifier) VerifyIdentity(_ context.Context, proof contracts.Proof) (bool, error) {
	claims, err := v.parse(proof.Identity, KindIdentity)
	if err != nil {
		return false, err
	}
	if claims.Subject == "" {
		return false, fmt.Errorf("identity attestation has no subject")
	}
	return true, nil
}

func (v *JWTVerifier) VerifyEmergency(_ context.Context, proof contracts.Proof) (bool, error) {
	claims, err := v.parse(proof.Emergency, KindEmergency)
	if err != nil {
		return false, err
	}
	if claims.IssuedAt == nil {
		return false, fmt.Errorf("emergency attestation has no issued-at")
	}
	limit, ok := maxAge[claims.SeverityLevel]
	if !ok {
		limit = maxAge[1]
	}
	if age := v.clock().Sub(claims.IssuedAt.Time); age > limit {
		return false, fmt.Errorf("%w: age %s exceeds %s", ErrStale, age.Round(time.Minute), limit)
	}
	return true, nil
}

func (v *JWTVerifier) VerifyAuthorization(_ context.Context, proof contracts.Proof) (bool, error) {
	claims, err := v.parse(proof.Authorization, KindAuthorization)
	if err != nil {
		return false, err
	}
	if !slices.Contains(claims.Scopes, ScopeEmergencyRelease) {
		return false, ErrOutOfScope
	}
	return true, nil
}

// Issuer mints attestations. Used by drills and tests.
type Issuer struct {
	name string
	key  ed25519.PrivateKey
}

func NewIssuer(name string, key ed25519.PrivateKey) *Issuer {
	return &Issuer{name: name, key: key}
}

// Issue signs claims of the given kind for subject.
func (i *Issuer) Issue(kind, subject string, issuedAt time.Time, ttl time.Duration, extra Claims) (string, error) {
	claims := extra
	claims.Kind = kind
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    i.name,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.key)
}

// IssueProof mints a complete, valid proof bundle for a principal.
func (i *Issuer) IssueProof(principalID, emergencyID string, severityLevel int, at time.Time) (contracts.Proof, error) {
	id, err := i.Issue(KindIdentity, principalID, at, time.Hour, Claims{})
	if err != nil {
		return contracts.Proof{}, err
	}
	em, err := i.Issue(KindEmergency, principalID, at, 24*time.Hour, Claims{EmergencyID: emergencyID, SeverityLevel: severityLevel})
	if err != nil {
		return contracts.Proof{}, err
	}
	auth, err := i.Issue(KindAuthorization, principalID, at, time.Hour, Claims{Scopes: []string{ScopeEmergencyRelease}})
	if err != nil {
		return contracts.Proof{}, err
	}
	return contracts.Proof{Identity: id, Emergency: em, Authorization: auth}, nil
}
