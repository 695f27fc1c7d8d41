// Package crypto provides the approval digest guardians sign and the
// verifiers that check their signatures.
package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// ApprovalPurpose is bound into every approval message.
const ApprovalPurpose = "Emergency Guardian Execution Authorization"

// ApprovalMessage is the content a guardian approves.
type ApprovalMessage struct {
	Purpose     string `json:"purpose"`
	ExecutionID string `json:"execution_id"`
	EmergencyID string `json:"emergency_id"`
	Recipient   string `json:"recipient"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// NewApprovalMessage builds the message for one execution.
func NewApprovalMessage(executionID, emergencyID, recipient string, amount contracts.Money) ApprovalMessage {
	return ApprovalMessage{
		Purpose:     ApprovalPurpose,
		ExecutionID: executionID,
		EmergencyID: emergencyID,
		Recipient:   recipient,
		AmountMinor: amount.AmountMinor,
		Currency:    amount.Currency,
	}
}

// Canonical returns the RFC 8785 form of the message.
func (m ApprovalMessage) Canonical() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("approval message encoding failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("approval message canonicalization failed: %w", err)
	}
	return out, nil
}

// Digest is the Keccak-256 of the canonical message.
func (m ApprovalMessage) Digest() ([]byte, error) {
	canonical, err := m.Canonical()
	if err != nil {
		return nil, err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(canonical)
	return h.Sum(nil), nil
}

// ApprovalDigest returns the human-readable message and the hex digest for an execution.
func ApprovalDigest(executionID, emergencyID, recipient string, amount contracts.Money) (string, string, error) {
	msg := NewApprovalMessage(executionID, emergencyID, recipient, amount)
	d, err := msg.Digest()
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%s: %s", ApprovalPurpose, executionID), hex.EncodeToString(d), nil
}
