// Package quorum derives approval parameters for an emergency release from
// the assessed severity, urgency and requested amount.
//
// Higher confidence of genuine urgency relaxes the human-approval bar, but the
// required signature count never drops below one.
package quorum

import "github.com/Mindburn-Labs/helm-guardian/pkg/contracts"

// Parameters are the plan parameters derived by the policy.
type Parameters struct {
	RequiredSignatures int                `json:"required_signatures"`
	TimelockHours      int                `json:"timelock_hours"`
	Priority           contracts.Priority `json:"priority"`
	MonitorResponses   bool               `json:"monitor_responses"`
}

// Policy holds the configurable thresholds of the derivation.
type Policy struct {
	// LargePayment is the amount, in whole major units of the payment's
	// currency, above which one extra signature is required.
	LargePayment int64 `json:"large_payment" yaml:"large_payment"`
	// MaxSignatures caps the large-payment bump.
	MaxSignatures int `json:"max_signatures" yaml:"max_signatures"`
	// MonitorUrgency is the urgency at which guardian responses are watched.
	MonitorUrgency int `json:"monitor_urgency" yaml:"monitor_urgency"`
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		LargePayment:      100,
		MaxSignatures:     5,
		MonitorUrgency:    80,
	}
}

// Derive maps (severity, urgency, amount) to plan parameters.
// Urgency outside [0,100] is clamped, so Derive is total.
func (p Policy) Derive(severity contracts.Severity, urgency int, amount contracts.Money) Parameters {
	urgency = clamp(urgency, 0, 100)
	maxSigs := p.MaxSignatures
	if maxSigs < 1 {
		maxSigs = DefaultPolicy().MaxSignatures
	}

	required := 3
	switch {
	case severity == contracts.SeverityCritical || urgency >= 90:
		required = 1
	case severity == contracts.SeverityHigh || urgency >= 75:
		required = 2
	}
	if p.LargePayment > 0 && amount.ExceedsMajor(p.LargePayment) {
		required++
	}
	if required > maxSigs {
		required = maxSigs
	}

	monitorAt := p.MonitorUrgency
	if monitorAt <= 0 {
		monitorAt = DefaultPolicy().MonitorUrgency
	}

	return Parameters{
		RequiredSignatures: required,
		TimelockHours:      TimelockHours(urgency),
		Priority:           PriorityFor(urgency),
		MonitorResponses:   urgency >= monitorAt,
	}
}

// TimelockHours returns the approval window for an urgency score.
func TimelockHours(urgency int) int {
	switch {
	case urgency >= 90:
		return 1
	case urgency >= 75:
		return 3
	case urgency >= 50:
		return 6
	default:
		return 12
	}
}

// PriorityFor returns the notification priority for an urgency score.
func PriorityFor(urgency int) contracts.Priority {
	switch {
	case urgency >= 90:
		return contracts.PriorityCritical
	case urgency >= 75:
		return contracts.PriorityHigh
	case urgency >= 50:
		return contracts.PriorityNormal
	default:
		return contracts.PriorityLow
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
