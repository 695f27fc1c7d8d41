package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// Confirmer polls a backend until a transfer is confirmed or the attempt
// budget runs out.
type Confirmer struct {
	backend Backend
	funds   FundsChecker
	policy  BackoffPolicy
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewConfirmer creates a confirmer. funds may be nil.
func NewConfirmer(backend Backend, funds FundsChecker, policy BackoffPolicy) *Confirmer {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Confirmer{
		backend: backend,
		funds:   funds,
		policy:  policy,
		logger:  slog.Default().With("component", "confirmer"),
		sleep:   sleepCtx,
	}
}

// WithLogger sets the logger.
func (c *Confirmer) WithLogger(l *slog.Logger) *Confirmer {
	c.logger = l.With("component", "confirmer")
	return c
}

// Confirm waits for the receipt to be confirmed and, when a FundsChecker is
// set, for the recipient to hold the amount. Exhaustion is a TIMEOUT.
func (c *Confirmer) Confirm(ctx context.Context, receipt Receipt, recipient string, amount contracts.Money) (Confirmation, error) {
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, ComputeBackoff(receipt.ReceiptID, attempt, c.policy)); err != nil {
				return Confirmation{}, contracts.WrapError(contracts.KindCancelled, contracts.StepVerification, err, "confirmation aborted")
			}
		}

		conf, err := c.backend.Confirm(ctx, receipt.ReceiptID)
		if err != nil {
			lastErr = err
			c.logger.WarnContext(ctx, "confirmation attempt failed", "receipt_id", receipt.ReceiptID, "attempt", attempt, "error", err)
			continue
		}
		if !conf.Confirmed {
			continue
		}
		if c.funds != nil {
			ok, err := c.funds.FundsReceived(ctx, recipient, amount)
			if err != nil {
				lastErr = err
				continue
			}
			if !ok {
				continue
			}
		}
		return conf, nil
	}
	if lastErr != nil {
		return Confirmation{}, contracts.WrapError(contracts.KindTimeout, contracts.StepVerification, lastErr,
			"receipt %s unconfirmed after %d attempts", receipt.ReceiptID, c.policy.MaxAttempts)
	}
	return Confirmation{}, contracts.NewError(contracts.KindTimeout, contracts.StepVerification,
		"receipt %s unconfirmed after %d attempts", receipt.ReceiptID, c.policy.MaxAttempts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
