// Package execution drives an emergency release through its phases:
// preparation, guardian signature collection, settlement, verification
// and completion.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/helm-guardian/pkg/attestation"
	"github.com/Mindburn-Labs/helm-guardian/pkg/audit"
	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/manual"
	"github.com/Mindburn-Labs/helm-guardian/pkg/monitor"
	"github.com/Mindburn-Labs/helm-guardian/pkg/notify"
	"github.com/Mindburn-Labs/helm-guardian/pkg/observability"
	"github.com/Mindburn-Labs/helm-guardian/pkg/quorum"
	"github.com/Mindburn-Labs/helm-guardian/pkg/settlement"
	"github.com/Mindburn-Labs/helm-guardian/pkg/signature"
)

var (
	ErrInsufficientSignatures = errors.New("insufficient signatures")
	ErrAttestationRejected    = errors.New("attestation rejected")
	ErrLowConfidence          = errors.New("assessment confidence below threshold")
)

// Collection is the signature collection process the engine drives.
type Collection interface {
	Initialize(ctx context.Context, req signature.InitRequest) (contracts.SignatureCollection, error)
	Start(ctx context.Context, executionID string) (contracts.SignatureCollection, error)
	Wait(ctx context.Context, executionID string) (contracts.SignatureCollection, error)
	Status(executionID string) (contracts.SignatureCollection, error)
	Signatures(executionID string) ([]contracts.GuardianSignature, error)
	Cancel(executionID, reason string) bool
	Expire(executionID string) bool
	Release(executionID string)
}

// RiskAssessor scores an emergency.
type RiskAssessor interface {
	Assess(ctx context.Context, e contracts.Emergency) (contracts.Assessment, error)
}

// GuardianLookup resolves a guardian's contact channels.
type GuardianLookup interface {
	Get(id string) (contracts.Guardian, bool)
}

// Config tunes the engine. Zero fields take the DefaultConfig value.
type Config struct {
	Policy         quorum.Policy
	TimelockUnit   time.Duration
	MinConfidence  float64
	MonitorTimeout time.Duration
	Retention      time.Duration
	Confirm        settlement.BackoffPolicy
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Policy:         quorum.DefaultPolicy(),
		TimelockUnit:   time.Hour,
		MinConfidence:  0.7,
		MonitorTimeout: monitor.DefaultTimeout,
		Retention:      24 * time.Hour,
		Confirm:        settlement.DefaultBackoffPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Policy == (quorum.Policy{}) {
		c.Policy = d.Policy
	}
	if c.TimelockUnit <= 0 {
		c.TimelockUnit = d.TimelockUnit
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.MonitorTimeout <= 0 {
		c.MonitorTimeout = d.MonitorTimeout
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.Confirm.MaxAttempts < 1 {
		c.Confirm = d.Confirm
	}
	return c
}

// Deps are the engine's collaborators. Collector and Backend are required.
type Deps struct {
	Collector   Collection
	Backend     settlement.Backend
	Funds       settlement.FundsChecker
	Guardians   GuardianLookup
	Dispatcher  *notify.Dispatcher
	Monitor     *monitor.Supervisor
	Audit       audit.Sink
	Manual      *manual.Manual
	Assessor    RiskAssessor
	Attestation attestation.Verifier
	Obs         *observability.Provider
	Snapshots   Snapshotter
}

// Engine owns the execution registry and runs plans to a terminal state.
type Engine struct {
	cfg       Config
	deps      Deps
	registry  *Registry
	confirmer *settlement.Confirmer
	logger    *slog.Logger
	clock     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
		e.registry.clock = clock
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l.With("component", "execution_engine")
		e.registry.logger = l.With("component", "execution_registry")
	}
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	if deps.Collector == nil {
		return nil, fmt.Errorf("execution engine: collector is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("execution engine: settlement backend is required")
	}
	cfg = cfg.withDefaults()
	if deps.Manual == nil {
		deps.Manual = manual.New(cfg.Policy.LargePayment, cfg.Policy.MaxSignatures)
	}
	if deps.Obs == nil {
		obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("execution engine: %w", err)
		}
		deps.Obs = obs
	}

	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		registry: NewRegistry(deps.Snapshots),
		logger:   slog.Default().With("component", "execution_engine"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.confirmer = settlement.NewConfirmer(deps.Backend, deps.Funds, cfg.Confirm).WithLogger(e.logger)
	return e, nil
}

// Registry exposes the plan registry.
func (e *Engine) Registry() *Registry { return e.registry }

// CreatePlan builds a PENDING plan for an assessed emergency. The amount is
// the assessor's recommendation, or the requested amount when none is given.
func (e *Engine) CreatePlan(ctx context.Context, em contracts.Emergency, a contracts.Assessment) (contracts.ExecutionPlan, error) {
	if em.EmergencyID == "" {
		return contracts.ExecutionPlan{}, contracts.NewError(contracts.KindValidation, contracts.StepPreparation, "emergency id is required")
	}
	amount := a.RecommendedAmount
	if !amount.IsPositive() {
		amount = em.RequestedAmount
	}
	if amount.Currency == "" {
		amount.Currency = em.RequestedAmount.Currency
		amount.Scale = em.RequestedAmount.Scale
	}
	if !amount.IsPositive() {
		return contracts.ExecutionPlan{}, contracts.NewError(contracts.KindValidation, contracts.StepPreparation,
			"amount must be positive, got %d", amount.AmountMinor)
	}

	op := contracts.OperationFor(em.Type)
	params := e.cfg.Policy.Derive(a.Severity, a.UrgencyScore, amount)
	now := e.clock()
	plan := contracts.ExecutionPlan{
		ExecutionID:        "exec_" + uuid.New().String(),
		EmergencyID:        em.EmergencyID,
		OperationType:      op,
		Steps:              e.deps.Manual.Steps(op, amount, a),
		RequiredSignatures: params.RequiredSignatures,
		TimelockHours:      params.TimelockHours,
		Priority:           params.Priority,
		MonitorResponses:   params.MonitorResponses,
		UrgencyScore:       a.UrgencyScore,
		Recipient:          em.InstitutionAddress,
		Amount:             amount,
		CreatedAt:          now,
		UpdatedAt:          now,
		Status:             contracts.ExecutionPending,
		Phase:              contracts.PhasePreparation,
	}
	if err := e.registry.Create(ctx, plan); err != nil {
		return contracts.ExecutionPlan{}, err
	}
	e.logger.InfoContext(ctx, "execution plan created",
		"execution_id", plan.ExecutionID,
		"emergency_id", plan.EmergencyID,
		"operation", op,
		"required_signatures", plan.RequiredSignatures,
		"timelock_hours", plan.TimelockHours,
	)
	return plan, nil
}

// Admit verifies the emergency's attestations, assesses it and creates a
// plan when the assessment is confident enough.
func (e *Engine) Admit(ctx context.Context, em contracts.Emergency, proof contracts.Proof) (contracts.ExecutionPlan, contracts.Assessment, error) {
	if e.deps.Attestation == nil || e.deps.Assessor == nil {
		return contracts.ExecutionPlan{}, contracts.Assessment{}, contracts.NewError(contracts.KindValidation, contracts.StepPreparation,
			"admission requires an attestation verifier and a risk assessor")
	}
	checks := []struct {
		name string
		fn   func(context.Context, contracts.Proof) (bool, error)
	}{
		{"identity", e.deps.Attestation.VerifyIdentity},
		{"emergency", e.deps.Attestation.VerifyEmergency},
		{"authorization", e.deps.Attestation.VerifyAuthorization},
	}
	for _, c := range checks {
		ok, err := c.fn(ctx, proof)
		if err != nil || !ok {
			cause := ErrAttestationRejected
			if err != nil {
				cause = fmt.Errorf("%w: %w", ErrAttestationRejected, err)
			}
			e.logger.WarnContext(ctx, "attestation rejected", "emergency_id", em.EmergencyID, "check", c.name)
			return contracts.ExecutionPlan{}, contracts.Assessment{}, contracts.WrapError(contracts.KindVerification, contracts.StepPreparation,
				cause, "%s proof", c.name)
		}
	}

	a, err := e.deps.Assessor.Assess(ctx, em)
	if err != nil {
		return contracts.ExecutionPlan{}, contracts.Assessment{}, fmt.Errorf("risk assessment: %w", err)
	}
	if a.Confidence < e.cfg.MinConfidence {
		return contracts.ExecutionPlan{}, a, contracts.WrapError(contracts.KindValidation, contracts.StepPreparation, ErrLowConfidence,
			"confidence %.2f < %.2f", a.Confidence, e.cfg.MinConfidence)
	}
	plan, err := e.CreatePlan(ctx, em, a)
	if err != nil {
		return contracts.ExecutionPlan{}, a, err
	}
	return plan, a, nil
}

// Execute runs a PENDING plan to a terminal state. Timing and external
// failures are reported through the result and the plan's Failure; the
// returned error is reserved for plans that cannot be executed at all.
func (e *Engine) Execute(ctx context.Context, executionID string) (contracts.ExecutionResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.registry.claim(executionID, cancel); err != nil {
		return contracts.ExecutionResult{}, err
	}
	defer e.registry.release(executionID)

	r := &run{engine: e, id: executionID}
	ctx, done := e.deps.Obs.TrackOperation(runCtx, "execution.execute", attribute.String("execution_id", executionID))
	res := r.execute(ctx)
	var outcome error
	if !res.Success {
		outcome = errors.New(res.Message)
	}
	done(outcome)
	return res, nil
}

// Cancel stops a plan that has not started settlement. It reports whether
// the plan was cancelled.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) bool {
	plan, err := e.registry.Update(ctx, executionID, func(p *contracts.ExecutionPlan) error {
		if p.Status == contracts.ExecutionExecuting {
			return errTransitionAbort
		}
		p.Status = contracts.ExecutionCancelled
		p.CancelReason = reason
		return nil
	})
	if err != nil {
		e.logger.InfoContext(ctx, "cancel refused", "execution_id", executionID, "error", err)
		return false
	}

	e.deps.Collector.Cancel(executionID, reason)
	e.registry.abort(executionID)
	e.stopMonitor(plan)
	e.notifyRoster(ctx, plan, notify.KindCancellation, "Emergency release cancelled: "+reason)
	e.record(ctx, plan)
	e.logger.InfoContext(ctx, "execution cancelled", "execution_id", executionID, "reason", reason)
	return true
}

// GetStatus reports the plan's externally visible state.
func (e *Engine) GetStatus(executionID string) (contracts.StatusReport, error) {
	plan, err := e.registry.Get(executionID)
	if err != nil {
		return contracts.StatusReport{}, err
	}
	collected := plan.CollectedSigs
	if col, err := e.deps.Collector.Status(executionID); err == nil {
		collected = col.CollectedCount()
	}
	report := contracts.StatusReport{
		ExecutionID:         plan.ExecutionID,
		Status:              plan.Status,
		Phase:               plan.Phase,
		OperationType:       plan.OperationType,
		RequiredSignatures:  plan.RequiredSignatures,
		CollectedSignatures: collected,
		Amount:              plan.Amount,
		Recipient:           plan.Recipient,
		TimelockHours:       plan.TimelockHours,
		CreatedAt:           plan.CreatedAt,
		CancelReason:        plan.CancelReason,
	}
	if plan.Failure != nil {
		report.FailedStep = plan.Failure.Step
		report.FailureKind = plan.Failure.Kind
		report.FailureReason = plan.Failure.Reason
	}
	return report, nil
}

// Sweep drops terminal plans older than the retention window, with their
// collections, and returns how many were dropped.
func (e *Engine) Sweep() int {
	swept := e.registry.Sweep(e.clock(), e.cfg.Retention)
	for _, id := range swept {
		e.deps.Collector.Release(id)
	}
	if len(swept) > 0 {
		e.logger.Info("swept terminal plans", "count", len(swept))
	}
	return len(swept)
}

func (e *Engine) timelock(plan contracts.ExecutionPlan) time.Duration {
	return time.Duration(plan.TimelockHours) * e.cfg.TimelockUnit
}

func (e *Engine) stopMonitor(plan contracts.ExecutionPlan) {
	if e.deps.Monitor != nil && plan.MonitorResponses {
		e.deps.Monitor.Stop(plan.ExecutionID)
	}
}

// notifyRoster sends a best-effort notice to every guardian asked to sign.
func (e *Engine) notifyRoster(ctx context.Context, plan contracts.ExecutionPlan, kind notify.Kind, message string) {
	if e.deps.Dispatcher == nil {
		return
	}
	col, err := e.deps.Collector.Status(plan.ExecutionID)
	if err != nil || len(col.Roster) == 0 {
		return
	}
	targets := make([]notify.Target, 0, len(col.Roster))
	for _, id := range col.Roster {
		ch := contracts.ChannelEmail
		if e.deps.Guardians != nil {
			if g, ok := e.deps.Guardians.Get(id); ok && len(g.Channels) > 0 {
				ch = g.Channels[0]
			}
		}
		targets = append(targets, notify.Target{GuardianID: id, Channel: ch})
	}
	e.deps.Dispatcher.DispatchAsync(context.WithoutCancel(ctx), targets, notify.Payload{
		Kind:        kind,
		ExecutionID: plan.ExecutionID,
		EmergencyID: plan.EmergencyID,
		Priority:    plan.Priority,
		Message:     message,
		Amount:      plan.Amount,
		Recipient:   plan.Recipient,
	}, nil)
}

// record writes the audit record and outcome metric of a terminal plan.
func (e *Engine) record(ctx context.Context, plan contracts.ExecutionPlan) {
	e.deps.Obs.RecordOutcome(ctx, string(plan.Status), attribute.String("operation_type", string(plan.OperationType)))
	if e.deps.Audit == nil {
		return
	}
	rec := audit.Record{
		ExecutionID:         plan.ExecutionID,
		EmergencyID:         plan.EmergencyID,
		OperationType:       plan.OperationType,
		Amount:              plan.Amount,
		Recipient:           plan.Recipient,
		SignaturesCollected: plan.CollectedSigs,
		Signers:             plan.Signers,
		TxReceipt:           plan.TxReceipt,
		Status:              plan.Status,
		Reason:              plan.CancelReason,
		CompletedAt:         plan.UpdatedAt,
	}
	if plan.Failure != nil {
		rec.FailedStep = plan.Failure.Step
		rec.FailureKind = plan.Failure.Kind
		rec.Reason = plan.Failure.Reason
	}
	if err := e.deps.Audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.ErrorContext(ctx, "audit record failed", "execution_id", plan.ExecutionID, "error", err)
	}
}
