package attestation

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

func setup(t *testing.T, now time.Time) (*Issuer, *JWTVerifier) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	iss := NewIssuer("attest.example", priv)
	v := NewJWTVerifier("attest.example", pub).WithClock(func() time.Time { return now })
	return iss, v
}

func TestJWTVerifier_ValidProof(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	iss, v := setup(t, now)
	proof, err := iss.IssueProof("user-1", "em_1", 3, now.Add(-30*time.Minute))
	require.NoError(t, err)

	ctx := context.Background()
	ok, err := v.VerifyIdentity(ctx, proof)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = v.VerifyEmergency(ctx, proof)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = v.VerifyAuthorization(ctx, proof)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJWTVerifier_StaleEmergency(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	iss, v := setup(t, now)
	proof, err := iss.IssueProof("user-1", "em_1", 3, now.Add(-7*time.Hour))
	require.NoError(t, err)

	ok, err := v.VerifyEmergency(context.Background(), proof)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStale)
}

func TestJWTVerifier_WrongKindAndScope(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	iss, v := setup(t, now)
	ctx := context.Background()

	idTok, err := iss.Issue(KindIdentity, "user-1", now, time.Hour, Claims{})
	require.NoError(t, err)
	ok, err := v.VerifyAuthorization(ctx, contracts.Proof{Authorization: idTok})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrWrongKind)

	authTok, err := iss.Issue(KindAuthorization, "user-1", now, time.Hour, Claims{Scopes: []string{"read"}})
	require.NoError(t, err)
	ok, err = v.VerifyAuthorization(ctx, contracts.Proof{Authorization: authTok})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrOutOfScope)
}

func TestJWTVerifier_ForeignIssuerKey(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	_, v := setup(t, now)
	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)
	forged, err := NewIssuer("attest.example", otherPriv).IssueProof("user-1", "em_1", 1, now)
	require.NoError(t, err)

	ok, err := v.VerifyIdentity(context.Background(), forged)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestJWTVerifier_Expired(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	iss, v := setup(t, now)
	tok, err := iss.Issue(KindIdentity, "user-1", now.Add(-2*time.Hour), time.Hour, Claims{})
	require.NoError(t, err)
	ok, err := v.VerifyIdentity(context.Background(), contracts.Proof{Identity: tok})
	assert.False(t, ok)
	assert.Error(t, err)
}
