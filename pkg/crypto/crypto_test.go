package crypto

import (
	"context"
	"testing"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

type staticKeys map[string]string

func (k staticKeys) PublicKey(id string) (string, bool) {
	v, ok := k[id]
	return v, ok
}

func TestApprovalDigest_Deterministic(t *testing.T) {
	amount := contracts.NewMoney(5000, "usd")
	msg1, d1, err := ApprovalDigest("exec_1", "em_1", "hospital", amount)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	_, d2, err := ApprovalDigest("exec_1", "em_1", "hospital", amount)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if d1 != d2 {
		t.Errorf("digest not deterministic: %s != %s", d1, d2)
	}
	if len(d1) != 64 {
		t.Errorf("expected 32-byte hex digest, got %d chars", len(d1))
	}
	if msg1 != "Emergency Guardian Execution Authorization: exec_1" {
		t.Errorf("unexpected message %q", msg1)
	}

	_, d3, _ := ApprovalDigest("exec_1", "em_1", "hospital", contracts.NewMoney(5001, "USD"))
	if d3 == d1 {
		t.Error("amount change did not change digest")
	}
}

func TestCanonical_SortedKeys(t *testing.T) {
	out, err := NewApprovalMessage("e", "m", "r", contracts.NewMoney(1, "USD")).Canonical()
	if err != nil {
		t.Fatalf("canonical failed: %v", err)
	}
	want := `{"amount_minor":1,"currency":"USD","emergency_id":"m","execution_id":"e","purpose":"Emergency Guardian Execution Authorization","recipient":"r"}`
	if string(out) != want {
		t.Errorf("got %s", out)
	}
}

func TestEd25519_SignVerify(t *testing.T) {
	signer, err := NewEd25519Signer("g1")
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	_, digest, _ := ApprovalDigest("exec_1", "em_1", "r", contracts.NewMoney(100, "USD"))

	sig, err := signer.SignDigest(digest)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	reg := NewSchemeRegistry()
	reg.Register(contracts.SchemeEd25519, NewEd25519Verifier(staticKeys{"g1": signer.PublicKey()}))
	ctx := context.Background()

	ok, err := reg.Verify(ctx, "g1", sig, contracts.SchemeEd25519, digest)
	if err != nil || !ok {
		t.Fatalf("valid signature rejected: ok=%v err=%v", ok, err)
	}

	_, other, _ := ApprovalDigest("exec_2", "em_1", "r", contracts.NewMoney(100, "USD"))
	ok, _ = reg.Verify(ctx, "g1", sig, contracts.SchemeEd25519, other)
	if ok {
		t.Error("signature accepted for a different digest")
	}

	if _, err := reg.Verify(ctx, "unknown", sig, contracts.SchemeEd25519, digest); err == nil {
		t.Error("expected error for unknown guardian")
	}
	if _, err := reg.Verify(ctx, "g1", sig, "secp256k1", digest); err == nil {
		t.Error("expected error for unsupported scheme")
	}
	ok, _ = reg.Verify(ctx, "g1", "abcd", contracts.SchemeEd25519, digest)
	if ok {
		t.Error("short signature accepted")
	}
}
