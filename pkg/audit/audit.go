// Package audit records the terminal outcome of every execution.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/ledger"
)

// Record is the audit record of one execution.
type Record struct {
	ExecutionID         string                    `json:"execution_id"`
	EmergencyID         string                    `json:"emergency_id"`
	OperationType       contracts.OperationType   `json:"operation_type"`
	Amount              contracts.Money           `json:"amount"`
	Recipient           string                    `json:"recipient"`
	SignaturesCollected int                       `json:"signatures_collected"`
	Signers             []string                  `json:"signers,omitempty"`
	TxReceipt           string                    `json:"tx_receipt,omitempty"`
	Status              contracts.ExecutionStatus `json:"status"`
	FailedStep          string                    `json:"failed_step,omitempty"`
	FailureKind         contracts.ErrorKind       `json:"failure_kind,omitempty"`
	Reason              string                    `json:"reason,omitempty"`
	CompletedAt         time.Time                 `json:"completed_at"`
}

// Kind returns the ledger kind for the record status.
func (r Record) Kind() string {
	switch r.Status {
	case contracts.ExecutionCompleted:
		return "execution.completed"
	case contracts.ExecutionFailed:
		return "execution.failed"
	case contracts.ExecutionCancelled:
		return "execution.cancelled"
	default:
		return "execution.updated"
	}
}

// Sink accepts audit records.
type Sink interface {
	Record(ctx context.Context, r Record) error
}

// EntryStore persists ledger entries.
type EntryStore interface {
	SaveEntry(ctx context.Context, e ledger.Entry) error
}

// LedgerSink appends records to a hash-chained ledger and, optionally,
// persists each entry.
type LedgerSink struct {
	ledger *ledger.Ledger
	store  EntryStore
}

// NewLedgerSink creates a sink. store may be nil.
func NewLedgerSink(l *ledger.Ledger, store EntryStore) *LedgerSink {
	return &LedgerSink{ledger: l, store: store}
}

func (s *LedgerSink) Record(ctx context.Context, r Record) error {
	e, err := s.ledger.Append(r.Kind(), r)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	if s.store != nil {
		if err := s.store.SaveEntry(ctx, e); err != nil {
			return fmt.Errorf("audit persist seq %d: %w", e.Sequence, err)
		}
	}
	return nil
}

// Ledger exposes the underlying ledger.
func (s *LedgerSink) Ledger() *ledger.Ledger { return s.ledger }

// LogSink writes records to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Record(ctx context.Context, r Record) error {
	s.logger.InfoContext(ctx, "audit record",
		"kind", r.Kind(),
		"execution_id", r.ExecutionID,
		"emergency_id", r.EmergencyID,
		"amount", r.Amount.String(),
		"signatures", r.SignaturesCollected,
		"tx_receipt", r.TxReceipt,
	)
	return nil
}

// FanOut delivers to every sink and joins their errors.
type FanOut []Sink

func (f FanOut) Record(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range f {
		if err := s.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
