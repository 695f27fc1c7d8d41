package execution

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/monitor"
	"github.com/Mindburn-Labs/helm-guardian/pkg/notify"
	"github.com/Mindburn-Labs/helm-guardian/pkg/settlement"
	"github.com/Mindburn-Labs/helm-guardian/pkg/signature"
)

// run is one pass of Execute over a claimed plan.
type run struct {
	engine    *Engine
	id        string
	completed []string
	receipt   settlement.Receipt
}

// phaseFailure carries a failed phase to the terminal transition.
type phaseFailure struct {
	step string
	kind contracts.ErrorKind
	err  error
}

func failure(step string, err error) *phaseFailure {
	kind := contracts.KindOf(err)
	if kind == "" {
		kind = contracts.KindValidation
	}
	return &phaseFailure{step: step, kind: kind, err: err}
}

// errCancelled signals that the plan was cancelled while running.
var errCancelled = errors.New("execution cancelled")

func (r *run) execute(ctx context.Context) contracts.ExecutionResult {
	e := r.engine
	phases := []struct {
		name string
		fn   func(context.Context) (*phaseFailure, error)
	}{
		{contracts.StepPreparation, r.prepare},
		{contracts.StepSignatureCollection, r.collect},
		{contracts.StepContractExecution, r.settle},
		{contracts.StepVerification, r.verify},
		{contracts.StepCompletion, r.complete},
	}
	for _, ph := range phases {
		pctx, done := e.deps.Obs.TrackOperation(ctx, "execution."+ph.name, attribute.String("execution_id", r.id))
		pf, err := ph.fn(pctx)
		switch {
		case errors.Is(err, errCancelled) || errors.Is(err, ErrPlanTerminal):
			done(nil)
			return r.cancelled()
		case err != nil:
			pf = failure(ph.name, err)
		}
		if pf != nil {
			done(pf.err)
			return r.fail(ctx, pf)
		}
		done(nil)
		r.completed = append(r.completed, ph.name)
	}

	plan, _ := e.registry.Get(r.id)
	return contracts.ExecutionResult{
		Success:        true,
		ExecutionID:    r.id,
		TxReceipt:      plan.TxReceipt,
		Message:        "emergency release completed",
		CompletedSteps: append([]string(nil), r.completed...),
	}
}

func (r *run) transition(ctx context.Context, fn func(p *contracts.ExecutionPlan)) (contracts.ExecutionPlan, error) {
	return r.engine.registry.Update(ctx, r.id, func(p *contracts.ExecutionPlan) error {
		fn(p)
		return nil
	})
}

func (r *run) prepare(ctx context.Context) (*phaseFailure, error) {
	e := r.engine
	plan, err := r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.Status = contracts.ExecutionInProgress
		p.Phase = contracts.PhasePreparation
	})
	if err != nil {
		return nil, err
	}

	switch {
	case len(plan.Steps) == 0:
		return failure(contracts.StepPreparation, contracts.NewError(contracts.KindValidation, contracts.StepPreparation, "plan has no workflow steps")), nil
	case plan.Recipient == "":
		return failure(contracts.StepPreparation, contracts.NewError(contracts.KindValidation, contracts.StepPreparation, "recipient is required")), nil
	case !plan.Amount.IsPositive():
		return failure(contracts.StepPreparation, contracts.NewError(contracts.KindValidation, contracts.StepPreparation, "amount must be positive")), nil
	case plan.RequiredSignatures < 1:
		return failure(contracts.StepPreparation, contracts.NewError(contracts.KindValidation, contracts.StepPreparation, "required signatures must be at least 1")), nil
	}

	_, err = e.deps.Collector.Initialize(ctx, signature.InitRequest{
		ExecutionID: plan.ExecutionID,
		EmergencyID: plan.EmergencyID,
		Recipient:   plan.Recipient,
		Amount:      plan.Amount,
		Required:    plan.RequiredSignatures,
		Timelock:    e.timelock(plan),
		Priority:    plan.Priority,
	})
	if err != nil {
		return failure(contracts.StepPreparation, err), nil
	}
	e.logger.InfoContext(ctx, "preparation complete", "execution_id", r.id, "phase", contracts.PhasePreparation)
	return nil, nil
}

func (r *run) collect(ctx context.Context) (*phaseFailure, error) {
	e := r.engine
	plan, err := r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.Status = contracts.ExecutionWaitingSignatures
		p.Phase = contracts.PhaseSignatureCollection
	})
	if err != nil {
		return nil, err
	}

	col, err := e.deps.Collector.Start(ctx, r.id)
	if err != nil {
		return failure(contracts.StepSignatureCollection, err), nil
	}
	if plan.MonitorResponses && e.deps.Monitor != nil {
		e.deps.Monitor.Start(context.WithoutCancel(ctx), monitor.Request{
			EmergencyID: plan.EmergencyID,
			ExecutionID: plan.ExecutionID,
			Roster:      col.Roster,
			Timeout:     e.cfg.MonitorTimeout,
		})
	}

	deadline := plan.CreatedAt.Add(e.timelock(plan))
	if col.ExpiresAt.Before(deadline) {
		deadline = col.ExpiresAt
	}
	wctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	col, err = e.deps.Collector.Wait(wctx, r.id)
	defer func() { r.recordSigners(ctx, col) }()
	switch contracts.KindOf(err) {
	case "":
	case contracts.KindQuorumTimeout:
		e.deps.Collector.Expire(r.id)
		if latest, serr := e.deps.Collector.Status(r.id); serr == nil {
			col = latest
		}
		if col.Status != contracts.SignatureCompleted {
			e.logger.WarnContext(ctx, "quorum not reached before deadline",
				"execution_id", r.id, "collected", col.CollectedCount(), "required", col.Required)
			return failure(contracts.StepSignatureCollection, err), nil
		}
	case contracts.KindCancelled:
		return nil, errCancelled
	default:
		return failure(contracts.StepSignatureCollection, err), nil
	}

	switch col.Status {
	case contracts.SignatureCompleted:
	case contracts.SignatureExpired:
		return failure(contracts.StepSignatureCollection, contracts.NewError(contracts.KindQuorumTimeout, contracts.StepSignatureCollection,
			"collected %d of %d signatures before expiry", col.CollectedCount(), col.Required)), nil
	case contracts.SignatureCancelled:
		return nil, errCancelled
	default:
		return failure(contracts.StepSignatureCollection, contracts.NewError(contracts.KindValidation, contracts.StepSignatureCollection,
			"collection closed: %s", col.CloseReason)), nil
	}

	_, err = r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.Status = contracts.ExecutionReadyToExecute
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "signature quorum reached", "execution_id", r.id, "signers", col.CollectedCount())
	return nil, nil
}

// recordSigners copies the verified signers onto the plan for audit.
func (r *run) recordSigners(ctx context.Context, col contracts.SignatureCollection) {
	var signers []string
	for _, s := range col.Signatures {
		if s.Verified {
			signers = append(signers, s.GuardianID)
		}
	}
	_, _ = r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.CollectedSigs = len(signers)
		p.Signers = signers
	})
}

func (r *run) settle(ctx context.Context) (*phaseFailure, error) {
	e := r.engine
	plan, err := r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.Status = contracts.ExecutionExecuting
		p.Phase = contracts.PhaseSettlement
	})
	if err != nil {
		return nil, err
	}

	sigs, err := e.deps.Collector.Signatures(r.id)
	if err != nil {
		return failure(contracts.StepContractExecution, err), nil
	}
	if len(sigs) < plan.RequiredSignatures {
		return failure(contracts.StepContractExecution, contracts.WrapError(contracts.KindSettlement, contracts.StepContractExecution,
			ErrInsufficientSignatures, "have %d, need %d", len(sigs), plan.RequiredSignatures)), nil
	}
	col, err := e.deps.Collector.Status(r.id)
	if err != nil {
		return failure(contracts.StepContractExecution, err), nil
	}

	// Once submitted, settlement is never interrupted or retried.
	receipt, err := e.deps.Backend.Execute(context.WithoutCancel(ctx), settlement.Request{
		ExecutionID: plan.ExecutionID,
		EmergencyID: plan.EmergencyID,
		Recipient:   plan.Recipient,
		Amount:      plan.Amount,
		Digest:      col.Digest,
		Signatures:  sigs,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "settlement failed", "execution_id", r.id, "error", err)
		return failure(contracts.StepContractExecution, contracts.WrapError(contracts.KindSettlement, contracts.StepContractExecution,
			err, "backend execute")), nil
	}
	r.receipt = receipt
	_, err = r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.TxReceipt = receipt.ReceiptID
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "settlement submitted", "execution_id", r.id, "receipt_id", receipt.ReceiptID)
	return nil, nil
}

func (r *run) verify(ctx context.Context) (*phaseFailure, error) {
	e := r.engine
	plan, err := r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.Phase = contracts.PhaseVerification
	})
	if err != nil {
		return nil, err
	}
	conf, err := e.confirmer.Confirm(context.WithoutCancel(ctx), r.receipt, plan.Recipient, plan.Amount)
	if err != nil {
		e.logger.WarnContext(ctx, "settlement unconfirmed", "execution_id", r.id, "receipt_id", r.receipt.ReceiptID, "error", err)
		return failure(contracts.StepVerification, err), nil
	}
	e.logger.InfoContext(ctx, "settlement confirmed", "execution_id", r.id, "reference", conf.Reference)
	return nil, nil
}

func (r *run) complete(ctx context.Context) (*phaseFailure, error) {
	e := r.engine
	plan, err := r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.Phase = contracts.PhaseCompletion
	})
	if err != nil {
		return nil, err
	}

	e.notifyRoster(ctx, plan, notify.KindCompletion,
		fmt.Sprintf("Emergency release of %s to %s completed (receipt %s)", plan.Amount, plan.Recipient, plan.TxReceipt))
	e.deps.Collector.Release(r.id)
	e.stopMonitor(plan)

	plan, err = r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.Status = contracts.ExecutionCompleted
		p.CompletedSteps = append(append([]string(nil), r.completed...), contracts.StepCompletion)
	})
	if err != nil {
		return failure(contracts.StepCompletion, err), nil
	}
	e.record(ctx, plan)
	e.logger.InfoContext(ctx, "execution completed", "execution_id", r.id, "receipt_id", plan.TxReceipt)
	return nil, nil
}

// fail moves the plan to FAILED, keeping its current phase, and releases
// the collection and the monitor.
func (r *run) fail(ctx context.Context, pf *phaseFailure) contracts.ExecutionResult {
	e := r.engine
	reason := pf.err.Error()
	plan, err := r.transition(ctx, func(p *contracts.ExecutionPlan) {
		p.Status = contracts.ExecutionFailed
		p.CompletedSteps = append([]string(nil), r.completed...)
		p.Failure = &contracts.Failure{
			Step:     pf.step,
			Kind:     pf.kind,
			Reason:   reason,
			FailedAt: e.clock(),
		}
	})
	if errors.Is(err, ErrPlanTerminal) && plan.Status == contracts.ExecutionCancelled {
		return r.cancelled()
	}

	e.deps.Collector.Cancel(r.id, "execution failed: "+pf.step)
	e.stopMonitor(plan)
	if err == nil {
		e.record(ctx, plan)
	}
	e.logger.WarnContext(ctx, "execution failed",
		"execution_id", r.id,
		"failed_step", pf.step,
		"kind", pf.kind,
		"error", pf.err,
	)
	return contracts.ExecutionResult{
		ExecutionID:    r.id,
		TxReceipt:      plan.TxReceipt,
		Message:        reason,
		CompletedSteps: append([]string(nil), r.completed...),
		FailedStep:     pf.step,
		Kind:           pf.kind,
	}
}

// cancelled reports a plan cancelled by Cancel while it was running. If the
// run's own context ended instead, the plan is cancelled here.
func (r *run) cancelled() contracts.ExecutionResult {
	e := r.engine
	plan, err := e.registry.Get(r.id)
	if err == nil && !plan.Status.Terminal() {
		bg := context.Background()
		if e.Cancel(bg, r.id, "execution context ended") {
			plan, _ = e.registry.Get(r.id)
		}
	}
	msg := "execution cancelled"
	if plan.CancelReason != "" {
		msg += ": " + plan.CancelReason
	}
	return contracts.ExecutionResult{
		ExecutionID:    r.id,
		Message:        msg,
		CompletedSteps: append([]string(nil), r.completed...),
		Kind:           contracts.KindCancelled,
	}
}
