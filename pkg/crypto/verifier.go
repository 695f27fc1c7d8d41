package crypto

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// SignatureVerifier checks a guardian signature over a hex digest.
type SignatureVerifier interface {
	Verify(ctx context.Context, guardianID, signature string, scheme contracts.SignatureScheme, digest string) (bool, error)
}

// KeyResolver maps a guardian id to its hex public key.
type KeyResolver interface {
	PublicKey(guardianID string) (string, bool)
}

// SchemeRegistry dispatches verification by signature scheme.
type SchemeRegistry struct {
	mu      sync.RWMutex
	schemes map[contracts.SignatureScheme]SignatureVerifier
}

// NewSchemeRegistry creates an empty registry.
func NewSchemeRegistry() *SchemeRegistry {
	return &SchemeRegistry{schemes: make(map[contracts.SignatureScheme]SignatureVerifier)}
}

// Register binds a verifier to a scheme, replacing any previous binding.
func (r *SchemeRegistry) Register(scheme contracts.SignatureScheme, v SignatureVerifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[scheme] = v
}

// Verify implements SignatureVerifier.
func (r *SchemeRegistry) Verify(ctx context.Context, guardianID, signature string, scheme contracts.SignatureScheme, digest string) (bool, error) {
	r.mu.RLock()
	v, ok := r.schemes[scheme]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("unsupported signature scheme %q", scheme)
	}
	return v.Verify(ctx, guardianID, signature, scheme, digest)
}

// Ed25519Verifier verifies hex Ed25519 signatures over the raw digest bytes.
type Ed25519Verifier struct {
	keys KeyResolver
}

// NewEd25519Verifier creates a verifier resolving guardian keys through keys.
func NewEd25519Verifier(keys KeyResolver) *Ed25519Verifier {
	return &Ed25519Verifier{keys: keys}
}

// Verify implements SignatureVerifier.
func (v *Ed25519Verifier) Verify(_ context.Context, guardianID, signature string, _ contracts.SignatureScheme, digest string) (bool, error) {
	pubHex, ok := v.keys.PublicKey(guardianID)
	if !ok {
		return false, fmt.Errorf("no public key for guardian %s", guardianID)
	}
	data, err := hex.DecodeString(strings.TrimPrefix(digest, "0x"))
	if err != nil {
		return false, fmt.Errorf("invalid digest hex: %w", err)
	}
	return Verify(pubHex, strings.TrimPrefix(signature, "0x"), data)
}

// Verify verifies a hex signature against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}
