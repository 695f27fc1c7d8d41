package manual

import "github.com/Mindburn-Labs/helm-guardian/pkg/contracts"

// Step kinds.
const (
	KindVerification  = "verification"
	KindNotification  = "notification"
	KindDocumentation = "documentation"
	KindApproval      = "approval"
	KindExecution     = "execution"
	KindMonitoring    = "monitoring"
)

func step(id, kind, name string, required bool, minutes int, dependsOn string, params map[string]any) contracts.WorkflowStep {
	s := contracts.WorkflowStep{
		StepID:           id,
		Kind:             kind,
		Name:             name,
		Required:         required,
		EstimatedMinutes: minutes,
		Parameters:       params,
	}
	if dependsOn != "" {
		s.DependsOn = []string{dependsOn}
	}
	return s
}

func defaultTemplates() map[contracts.OperationType][]contracts.WorkflowStep {
	return map[contracts.OperationType][]contracts.WorkflowStep{
		contracts.OperationMedicalTreatment: {
			step("med_01", KindVerification, "Verify medical documents", true, 15, "", map[string]any{
				"required_documents": []string{"diagnosis", "physician_license", "institution_accreditation"},
			}),
			step("med_02", KindNotification, "Notify guardians of medical emergency", true, 5, "med_01", map[string]any{
				"channels":                 []string{"email", "sms", "push"},
				"response_timeout_minutes": 30,
			}),
			step("med_03", KindApproval, "Collect guardian authorization", true, 45, "med_02", map[string]any{
				"required_signatures":     2,
				"signature_timeout_hours": 2,
			}),
			step("med_04", KindExecution, "Pay medical institution", true, 10, "med_03", map[string]any{
				"verification_required": true,
				"receipt_generation":    true,
			}),
			step("med_05", KindMonitoring, "Track treatment and fund usage", false, 60, "med_04", map[string]any{
				"monitoring_interval_hours": 6,
			}),
		},
		contracts.OperationInsuranceClaim: {
			step("ins_01", KindDocumentation, "Collect accident documentation", true, 30, "", map[string]any{
				"required_documents": []string{"incident_report", "policy", "damage_assessment"},
			}),
			step("ins_02", KindVerification, "Verify claim with insurer", true, 20, "ins_01", nil),
			step("ins_03", KindNotification, "Notify guardians of claim", true, 10, "ins_02", map[string]any{
				"estimated_payout": true,
			}),
			step("ins_04", KindExecution, "Advance claim funds", true, 15, "ins_03", map[string]any{
				"verification_required": true,
			}),
		},
		contracts.OperationFamilyAssistance: {
			step("fam_01", KindVerification, "Verify family relationship", true, 20, "", nil),
			step("fam_02", KindNotification, "Notify family guardians", true, 15, "fam_01", nil),
			step("fam_03", KindApproval, "Collect guardian authorization", true, 60, "fam_02", map[string]any{
				"required_signatures": 2,
			}),
			step("fam_04", KindExecution, "Transfer family support funds", true, 10, "fam_03", nil),
		},
		contracts.OperationLegalSupport: {
			step("leg_01", KindDocumentation, "Collect legal documents", true, 45, "", nil),
			step("leg_02", KindVerification, "Verify counsel credentials", true, 25, "leg_01", nil),
			step("leg_03", KindNotification, "Notify guardians of legal matter", true, 10, "leg_02", nil),
			step("leg_04", KindApproval, "Collect guardian authorization", true, 90, "leg_03", map[string]any{
				"required_signatures": 3,
			}),
			step("leg_05", KindExecution, "Pay legal retainer", true, 15, "leg_04", nil),
		},
		contracts.OperationGeneralEmergency: {
			step("gen_01", KindVerification, "Assess emergency", true, 20, "", nil),
			step("gen_02", KindNotification, "Send emergency notifications", true, 10, "gen_01", map[string]any{
				"channels":          []string{"email", "sms", "push"},
				"response_tracking": true,
			}),
			step("gen_03", KindDocumentation, "Collect evidence", true, 30, "gen_02", nil),
			step("gen_04", KindApproval, "Collect guardian authorization", true, 60, "gen_03", map[string]any{
				"required_signatures": 2,
				"timeout_hours":       4,
			}),
			step("gen_05", KindExecution, "Execute approved release", true, 15, "gen_04", map[string]any{
				"verification_steps": true,
			}),
			step("gen_06", KindMonitoring, "Monitor outcome", false, 120, "gen_05", map[string]any{
				"monitoring_duration_hours": 24,
			}),
		},
	}
}
