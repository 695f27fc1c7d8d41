// Package contracts holds the data model shared by the emergency release engine:
// emergencies, execution plans, signature collections and typed errors.
package contracts

import "time"

// ExecutionStatus is the lifecycle status of an execution plan.
type ExecutionStatus string

const (
	ExecutionPending           ExecutionStatus = "PENDING"
	ExecutionInProgress        ExecutionStatus = "IN_PROGRESS"
	ExecutionWaitingSignatures ExecutionStatus = "WAITING_SIGNATURES"
	ExecutionReadyToExecute    ExecutionStatus = "READY_TO_EXECUTE"
	ExecutionExecuting         ExecutionStatus = "EXECUTING"
	ExecutionCompleted         ExecutionStatus = "COMPLETED"
	ExecutionFailed            ExecutionStatus = "FAILED"
	ExecutionCancelled         ExecutionStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// ExecutionPhase is the workflow phase an execution plan is in.
type ExecutionPhase string

const (
	PhasePreparation         ExecutionPhase = "PREPARATION"
	PhaseSignatureCollection ExecutionPhase = "SIGNATURE_COLLECTION"
	PhaseSettlement          ExecutionPhase = "SETTLEMENT"
	PhaseVerification        ExecutionPhase = "VERIFICATION"
	PhaseCompletion          ExecutionPhase = "COMPLETION"
)

// Step labels recorded as the failed step of an execution.
const (
	StepPreparation         = "preparation"
	StepSignatureCollection = "signature_collection"
	StepContractExecution   = "contract_execution"
	StepVerification        = "verification"
	StepCompletion          = "completion"
)

// validStates lists the phases each status may be paired with.
var validStates = map[ExecutionStatus][]ExecutionPhase{
	ExecutionPending:           {PhasePreparation},
	ExecutionInProgress:        {PhasePreparation},
	ExecutionWaitingSignatures: {PhaseSignatureCollection},
	ExecutionReadyToExecute:    {PhaseSignatureCollection},
	ExecutionExecuting:         {PhaseSettlement, PhaseVerification, PhaseCompletion},
	ExecutionCompleted:         {PhaseCompletion},
	ExecutionFailed: {
		PhasePreparation, PhaseSignatureCollection, PhaseSettlement, PhaseVerification, PhaseCompletion,
	},
	ExecutionCancelled: {PhasePreparation, PhaseSignatureCollection},
}

// ValidState reports whether status and phase form a documented combination.
func ValidState(status ExecutionStatus, phase ExecutionPhase) bool {
	for _, p := range validStates[status] {
		if p == phase {
			return true
		}
	}
	return false
}

// WorkflowStep is one step of an operation manual attached to a plan.
type WorkflowStep struct {
	StepID           string         `json:"step_id"`
	Kind             string         `json:"kind"`
	Name             string         `json:"name"`
	Required         bool           `json:"required"`
	EstimatedMinutes int            `json:"estimated_minutes"`
	DependsOn        []string       `json:"depends_on,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
}

// ExecutionPlan is one authorization-and-payout attempt.
type ExecutionPlan struct {
	ExecutionID        string          `json:"execution_id"`
	EmergencyID        string          `json:"emergency_id"`
	OperationType      OperationType   `json:"operation_type"`
	Steps              []WorkflowStep  `json:"steps"`
	RequiredSignatures int             `json:"required_signatures"`
	CollectedSigs      int             `json:"collected_signatures"`
	Signers            []string        `json:"signers,omitempty"`
	TimelockHours      int             `json:"timelock_hours"`
	Priority           Priority        `json:"priority"`
	MonitorResponses   bool            `json:"monitor_responses"`
	UrgencyScore       int             `json:"urgency_score"`
	Recipient          string          `json:"recipient"`
	Amount             Money           `json:"amount"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Status             ExecutionStatus `json:"status"`
	Phase              ExecutionPhase  `json:"phase"`
	CompletedSteps     []string        `json:"completed_steps,omitempty"`
	TxReceipt          string          `json:"tx_receipt,omitempty"`
	Failure            *Failure        `json:"failure,omitempty"`
	CancelReason       string          `json:"cancel_reason,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p ExecutionPlan) Clone() ExecutionPlan {
	out := p
	if p.Steps != nil {
		out.Steps = make([]WorkflowStep, len(p.Steps))
		for i, s := range p.Steps {
			out.Steps[i] = s
			if s.DependsOn != nil {
				out.Steps[i].DependsOn = append([]string(nil), s.DependsOn...)
			}
			if s.Parameters != nil {
				params := make(map[string]any, len(s.Parameters))
				for k, v := range s.Parameters {
					params[k] = v
				}
				out.Steps[i].Parameters = params
			}
		}
	}
	if p.Signers != nil {
		out.Signers = append([]string(nil), p.Signers...)
	}
	if p.CompletedSteps != nil {
		out.CompletedSteps = append([]string(nil), p.CompletedSteps...)
	}
	if p.Failure != nil {
		f := *p.Failure
		out.Failure = &f
	}
	return out
}

// Failure is the durable terminal reason of a failed plan.
type Failure struct {
	Step     string    `json:"step"`
	Kind     ErrorKind `json:"kind"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Priority of an execution, derived from urgency.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// ExecutionResult is returned by Execute.
type ExecutionResult struct {
	Success        bool      `json:"success"`
	ExecutionID    string    `json:"execution_id"`
	TxReceipt      string    `json:"tx_receipt,omitempty"`
	Message        string    `json:"message"`
	CompletedSteps []string  `json:"completed_steps"`
	FailedStep     string    `json:"failed_step,omitempty"`
	Kind           ErrorKind `json:"kind,omitempty"`
}

// StatusReport is the externally visible state of an execution.
type StatusReport struct {
	ExecutionID         string          `json:"execution_id"`
	Status              ExecutionStatus `json:"status"`
	Phase               ExecutionPhase  `json:"phase"`
	OperationType       OperationType   `json:"operation_type"`
	RequiredSignatures  int             `json:"required_signatures"`
	CollectedSignatures int             `json:"collected_signatures"`
	Amount              Money           `json:"amount"`
	Recipient           string          `json:"recipient"`
	TimelockHours       int             `json:"timelock_hours"`
	CreatedAt           time.Time       `json:"created_at"`
	FailedStep          string          `json:"failed_step,omitempty"`
	FailureKind         ErrorKind       `json:"failure_kind,omitempty"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	CancelReason        string          `json:"cancel_reason,omitempty"`
}
