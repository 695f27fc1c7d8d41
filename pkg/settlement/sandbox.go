package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// SandboxBackend is an in-memory backend for drills and tests. Transfers
// confirm after ConfirmAfter polls.
type SandboxBackend struct {
	mu           sync.Mutex
	ConfirmAfter int
	FailExecute  error
	transfers    map[string]*sandboxTransfer
	balances     map[string]int64
	executeCalls int
}

type sandboxTransfer struct {
	req   Request
	polls int
}

func NewSandboxBackend() *SandboxBackend {
	return &SandboxBackend{
		ConfirmAfter: 1,
		transfers:    make(map[string]*sandboxTransfer),
		balances:     make(map[string]int64),
	}
}

func (s *SandboxBackend) Execute(_ context.Context, req Request) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executeCalls++
	if s.FailExecute != nil {
		return Receipt{}, s.FailExecute
	}
	if !req.Amount.IsPositive() {
		return Receipt{}, fmt.Errorf("sandbox: non-positive amount %s", req.Amount)
	}
	id := "tx_" + uuid.New().String()
	s.transfers[id] = &sandboxTransfer{req: req}
	return Receipt{ReceiptID: id, SubmittedAt: time.Now()}, nil
}

func (s *SandboxBackend) Confirm(_ context.Context, receiptID string) (Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[receiptID]
	if !ok {
		return Confirmation{}, fmt.Errorf("sandbox: unknown receipt %s", receiptID)
	}
	t.polls++
	need := max(s.ConfirmAfter, 1)
	if t.polls < need {
		return Confirmation{}, nil
	}
	if t.polls == need {
		s.balances[t.req.Recipient] += t.req.Amount.AmountMinor
	}
	return Confirmation{Confirmed: true, Reference: receiptID}, nil
}

func (s *SandboxBackend) FundsReceived(_ context.Context, recipient string, amount contracts.Money) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[recipient] >= amount.AmountMinor, nil
}

// ExecuteCalls reports how many times Execute was invoked.
func (s *SandboxBackend) ExecuteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executeCalls
}
