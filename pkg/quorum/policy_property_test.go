package quorum

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

var severities = []contracts.Severity{
	contracts.SeverityLow, contracts.SeverityMedium, contracts.SeverityHigh, contracts.SeverityCritical,
}

var currencies = []string{"USD", "EUR", "ETH", "BTC"}

// genMoney draws an amount in any supported currency.
func genMoney() gopter.Gen {
	return gopter.CombineGens(gen.IntRange(0, len(currencies)-1), gen.Int64Range(1, 10_000_000_000)).
		Map(func(v []any) contracts.Money {
			return contracts.NewMoney(v[1].(int64), currencies[v[0].(int)])
		})
}

func genSeverity() gopter.Gen {
	return gen.IntRange(0, len(severities)-1).Map(func(i int) contracts.Severity {
		return severities[i]
	})
}

// Property: required signatures stay in [1,5] and the timelock is one of {1,3,6,12}.
func TestDerive_Ranges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)
	p := DefaultPolicy()

	properties.Property("derived parameters stay in range", prop.ForAll(
		func(sev contracts.Severity, urgency int, amount contracts.Money) bool {
			got := p.Derive(sev, urgency, amount)
			if got.RequiredSignatures < 1 || got.RequiredSignatures > 5 {
				return false
			}
			switch got.TimelockHours {
			case 1, 3, 6, 12:
				return true
			default:
				return false
			}
		},
		genSeverity(),
		gen.IntRange(-50, 150),
		genMoney(),
	))

	properties.TestingRun(t)
}

// Property: Derive(x) == Derive(x).
func TestDerive_Deterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	p := DefaultPolicy()

	properties.Property("derive is a pure function", prop.ForAll(
		func(sev contracts.Severity, urgency int, amount contracts.Money) bool {
			return p.Derive(sev, urgency, amount) == p.Derive(sev, urgency, amount)
		},
		genSeverity(),
		gen.IntRange(0, 100),
		genMoney(),
	))

	properties.TestingRun(t)
}

// Property: more urgency never demands more signatures or a longer window.
func TestDerive_MonotoneInUrgency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	p := DefaultPolicy()

	properties.Property("urgency relaxes the approval bar", prop.ForAll(
		func(sev contracts.Severity, a, b int, amount contracts.Money) bool {
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			low := p.Derive(sev, lo, amount)
			high := p.Derive(sev, hi, amount)
			return high.RequiredSignatures <= low.RequiredSignatures && high.TimelockHours <= low.TimelockHours
		},
		genSeverity(),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		genMoney(),
	))

	properties.TestingRun(t)
}

// Property: the large-payment rule depends on the major amount, not the
// currency's scale.
func TestDerive_ScaleIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	p := DefaultPolicy()

	properties.Property("same major amount, same parameters", prop.ForAll(
		func(sev contracts.Severity, urgency int, whole int64) bool {
			fiat := p.Derive(sev, urgency, contracts.NewMoney(whole*100, "USD"))
			crypto := p.Derive(sev, urgency, contracts.NewMoney(whole*100_000_000, "ETH"))
			return fiat == crypto
		},
		genSeverity(),
		gen.IntRange(0, 100),
		gen.Int64Range(1, 1_000),
	))

	properties.TestingRun(t)
}
