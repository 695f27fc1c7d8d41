package monitor

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/notify"
)

// NotifyEscalator re-contacts guardians who have not engaged over a
// fallback channel with CRITICAL priority.
type NotifyEscalator struct {
	dispatcher *notify.Dispatcher
	channel    contracts.Channel
}

func NewNotifyEscalator(d *notify.Dispatcher, fallback contracts.Channel) *NotifyEscalator {
	if fallback == "" {
		fallback = contracts.ChannelSMS
	}
	return &NotifyEscalator{dispatcher: d, channel: fallback}
}

func (e *NotifyEscalator) Escalate(ctx context.Context, req Request, states map[string]contracts.GuardianResponseState) error {
	var targets []notify.Target
	for _, gid := range req.Roster {
		if states[gid].Engaged() {
			continue
		}
		targets = append(targets, notify.Target{GuardianID: gid, Channel: e.channel})
	}
	if len(targets) == 0 {
		return nil
	}
	recs := e.dispatcher.Dispatch(ctx, targets, notify.Payload{
		Kind:        notify.KindEscalation,
		ExecutionID: req.ExecutionID,
		EmergencyID: req.EmergencyID,
		Priority:    contracts.PriorityCritical,
		Message:     "Guardian response required: emergency approval still pending",
	})
	failed := 0
	for _, r := range recs {
		if !r.Delivered {
			failed++
		}
	}
	if failed == len(recs) {
		return contracts.NewError(contracts.KindNotification, "", "escalation undeliverable to %d guardians", failed)
	}
	if failed > 0 {
		return fmt.Errorf("escalation reached %d of %d guardians", len(recs)-failed, len(recs))
	}
	return nil
}
