// Package notify delivers guardian notifications and tracks how guardians
// respond to an active emergency.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// Kind labels the purpose of a notification.
type Kind string

const (
	KindSignatureRequest Kind = "signature_request"
	KindCompletion       Kind = "completion"
	KindEscalation       Kind = "escalation"
	KindCancellation     Kind = "cancellation"
)

// Payload is the content delivered to a guardian.
type Payload struct {
	Kind        Kind               `json:"kind"`
	ExecutionID string             `json:"execution_id"`
	EmergencyID string             `json:"emergency_id"`
	Priority    contracts.Priority `json:"priority"`
	Message     string             `json:"message"`
	Digest      string             `json:"digest,omitempty"`
	Amount      contracts.Money    `json:"amount"`
	Recipient   string             `json:"recipient,omitempty"`
	ExpiresAt   time.Time          `json:"expires_at,omitempty"`
}

// Notifier delivers a payload to one guardian over one channel.
type Notifier interface {
	Notify(ctx context.Context, guardianID string, channel contracts.Channel, payload Payload) error
}

// StatusSource reports a guardian's response state for an emergency.
type StatusSource interface {
	ResponseState(ctx context.Context, emergencyID, guardianID string) (contracts.GuardianResponseState, error)
}

// Registry stores guardian response states.
type Registry interface {
	StatusSource
	SetResponseState(ctx context.Context, emergencyID, guardianID string, state contracts.GuardianResponseState) error
}

// LogNotifier writes notifications to the structured log. Used by drills.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, guardianID string, channel contracts.Channel, payload Payload) error {
	n.logger.InfoContext(ctx, "guardian notified",
		"guardian_id", guardianID,
		"channel", channel,
		"kind", payload.Kind,
		"execution_id", payload.ExecutionID,
		"priority", payload.Priority,
	)
	return nil
}
