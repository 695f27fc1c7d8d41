// Package settlement moves authorized funds and confirms they arrived.
package settlement

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// Request is one authorized transfer.
type Request struct {
	ExecutionID string                        `json:"execution_id"`
	EmergencyID string                        `json:"emergency_id"`
	Recipient   string                        `json:"recipient"`
	Amount      contracts.Money               `json:"amount"`
	Digest      string                        `json:"digest"`
	Signatures  []contracts.GuardianSignature `json:"signatures"`
}

// Receipt identifies a submitted transfer.
type Receipt struct {
	ReceiptID   string    `json:"receipt_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Confirmation is the backend's view of a submitted transfer.
type Confirmation struct {
	Confirmed bool   `json:"confirmed"`
	Reference string `json:"reference,omitempty"`
}

// Backend submits and confirms transfers. Execute is not idempotent and
// must never be retried by callers.
type Backend interface {
	Execute(ctx context.Context, req Request) (Receipt, error)
	Confirm(ctx context.Context, receiptID string) (Confirmation, error)
}

// FundsChecker optionally confirms the recipient side of a transfer.
type FundsChecker interface {
	FundsReceived(ctx context.Context, recipient string, amount contracts.Money) (bool, error)
}
