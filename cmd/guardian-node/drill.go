package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/signature"
)

// drillReport is printed at the end of a drill.
type drillReport struct {
	Plan        contracts.ExecutionPlan   `json:"plan"`
	Result      contracts.ExecutionResult `json:"result"`
	Status      contracts.StatusReport    `json:"status"`
	Collections signature.Summary         `json:"collections"`
	AuditHead   string                    `json:"audit_head"`
	AuditValid  bool                      `json:"audit_valid"`
}

// Drill admits one emergency and has the simulated guardians sign it.
func (n *node) Drill(ctx context.Context, opts drillOptions) (drillReport, error) {
	em := contracts.Emergency{
		EmergencyID:        "em_" + uuid.New().String(),
		PrincipalID:        "drill-principal",
		Type:               contracts.EmergencyType(opts.Type),
		InstitutionName:    "Drill Institution",
		InstitutionAddress: opts.Recipient,
		RequestedAmount:    contracts.NewMoney(opts.AmountMinor, opts.Currency),
		ReportedAt:         time.Now(),
	}
	proof, err := n.issuer.IssueProof(em.PrincipalID, em.EmergencyID, severityLevel(opts.Severity), time.Now())
	if err != nil {
		return drillReport{}, fmt.Errorf("issue proof: %w", err)
	}

	plan, _, err := n.engine.Admit(ctx, em, proof)
	if err != nil {
		return drillReport{}, fmt.Errorf("admit: %w", err)
	}

	type outcome struct {
		res contracts.ExecutionResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := n.engine.Execute(ctx, plan.ExecutionID)
		done <- outcome{res, err}
	}()

	go n.simulateGuardians(ctx, plan, opts)

	out := <-done
	if out.err != nil {
		return drillReport{}, out.err
	}
	status, err := n.engine.GetStatus(plan.ExecutionID)
	if err != nil {
		return drillReport{}, err
	}
	final, _ := n.engine.Registry().Get(plan.ExecutionID)
	valid, _ := n.audit.Ledger().Verify()
	return drillReport{
		Plan:        final,
		Result:      out.res,
		Status:      status,
		Collections: n.collector.Summary(),
		AuditHead:   n.audit.Ledger().Head(),
		AuditValid:  valid,
	}, nil
}

// simulateGuardians waits for the roster and submits signatures from the
// first guardians on it.
func (n *node) simulateGuardians(ctx context.Context, plan contracts.ExecutionPlan, opts drillOptions) {
	var col contracts.SignatureCollection
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		c, err := n.collector.Status(plan.ExecutionID)
		if err == nil && c.Status == contracts.SignatureInProgress {
			col = c
			break
		}
		if err == nil && c.Status.Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	count := opts.Signers
	if count < 0 {
		count = col.Required
	}
	for i, gid := range col.Roster {
		if i >= count {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.SignDelay):
		}
		sig, err := n.signers[gid].SignDigest(col.Digest)
		if err != nil {
			n.logger.Error("simulated guardian failed to sign", "guardian_id", gid, "error", err)
			continue
		}
		if _, err := n.collector.Submit(ctx, plan.ExecutionID, gid, sig, contracts.SchemeEd25519); err != nil {
			n.logger.Warn("simulated signature rejected", "guardian_id", gid, "error", err)
			return
		}
	}
}

// severityLevel maps a severity onto the attestation severity level.
func severityLevel(s string) int {
	switch contracts.Severity(s) {
	case contracts.SeverityCritical, contracts.SeverityHigh:
		return 3
	case contracts.SeverityMedium:
		return 2
	default:
		return 1
	}
}
