package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signer produces guardian approvals. Used by guardian tooling and drills.
type Signer interface {
	SignDigest(digest string) (string, error)
	PublicKey() string
}

// Ed25519Signer signs approval digests with an Ed25519 key.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

// SignDigest signs the raw bytes of a hex digest and returns a hex signature.
func (s *Ed25519Signer) SignDigest(digest string) (string, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(digest, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid digest hex: %w", err)
	}
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}
