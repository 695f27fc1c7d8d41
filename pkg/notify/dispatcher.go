package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// Target is one guardian-channel pair.
type Target struct {
	GuardianID string
	Channel    contracts.Channel
}

// Dispatcher fans notifications out to guardians under a shared rate limit
// and records the outcome of every delivery.
type Dispatcher struct {
	notifier Notifier
	registry Registry
	limiter  *rate.Limiter
	logger   *slog.Logger
	clock    func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRateLimit bounds deliveries per second across all guardians.
func WithRateLimit(perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRegistry marks guardians NOTIFIED after a successful delivery.
func WithRegistry(r Registry) DispatcherOption {
	return func(d *Dispatcher) { d.registry = r }
}

func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l.With("component", "dispatcher") }
}

func WithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

// NewDispatcher creates a dispatcher. The default limit is 20 deliveries/s with burst 10.
func NewDispatcher(n Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: n,
		limiter:  rate.NewLimiter(rate.Limit(20), 10),
		logger:   slog.Default().With("component", "dispatcher"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers payload to every target concurrently and waits for all
// outcomes. A failed delivery never aborts the others.
func (d *Dispatcher) Dispatch(ctx context.Context, targets []Target, payload Payload) []contracts.NotificationRecord {
	records := make([]contracts.NotificationRecord, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			records[i] = d.deliver(ctx, t, payload)
		}(i, t)
	}
	wg.Wait()
	return records
}

// DispatchAsync is fire-and-forget: done, if non-nil, receives the records.
func (d *Dispatcher) DispatchAsync(ctx context.Context, targets []Target, payload Payload, done func([]contracts.NotificationRecord)) {
	go func() {
		records := d.Dispatch(ctx, targets, payload)
		if done != nil {
			done(records)
		}
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, t Target, payload Payload) contracts.NotificationRecord {
	rec := contracts.NotificationRecord{GuardianID: t.GuardianID, Channel: t.Channel}

	err := d.limiter.Wait(ctx)
	if err == nil {
		err = d.notifier.Notify(ctx, t.GuardianID, t.Channel, payload)
	}
	rec.At = d.clock()
	if err != nil {
		rec.Error = err.Error()
		d.logger.WarnContext(ctx, "notification failed",
			"guardian_id", t.GuardianID,
			"channel", t.Channel,
			"kind", payload.Kind,
			"execution_id", payload.ExecutionID,
			"error", err,
		)
		return rec
	}
	rec.Delivered = true

	if d.registry != nil && payload.EmergencyID != "" {
		d.markNotified(ctx, payload.EmergencyID, t.GuardianID)
	}
	return rec
}

// markNotified never downgrades an acknowledged or responded guardian.
func (d *Dispatcher) markNotified(ctx context.Context, emergencyID, guardianID string) {
	cur, err := d.registry.ResponseState(ctx, emergencyID, guardianID)
	if err == nil && cur.Engaged() {
		return
	}
	if err := d.registry.SetResponseState(ctx, emergencyID, guardianID, contracts.ResponseNotified); err != nil {
		d.logger.WarnContext(ctx, "response state update failed", "guardian_id", guardianID, "error", err)
	}
}
