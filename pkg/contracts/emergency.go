package contracts

import "time"

// EmergencyType classifies the asserted emergency.
type EmergencyType string

const (
	EmergencyMedical   EmergencyType = "MEDICAL_EMERGENCY"
	EmergencyFinancial EmergencyType = "FINANCIAL_EMERGENCY"
	EmergencySecurity  EmergencyType = "SECURITY_INCIDENT"
	EmergencyAccident  EmergencyType = "ACCIDENT_INSURANCE"
	EmergencyFamily    EmergencyType = "FAMILY_SUPPORT"
	EmergencyLegal     EmergencyType = "LEGAL_ASSISTANCE"
	EmergencyUnknown   EmergencyType = "UNKNOWN"
)

// OperationType is the workflow category an emergency maps onto.
type OperationType string

const (
	OperationMedicalTreatment    OperationType = "MEDICAL_TREATMENT"
	OperationInsuranceClaim      OperationType = "INSURANCE_CLAIM"
	OperationFamilyAssistance    OperationType = "FAMILY_ASSISTANCE"
	OperationLegalSupport        OperationType = "LEGAL_SUPPORT"
	OperationFinancialProtection OperationType = "FINANCIAL_PROTECTION"
	OperationSecurityResponse    OperationType = "SECURITY_RESPONSE"
	OperationGeneralEmergency    OperationType = "GENERAL_EMERGENCY"
)

// OperationFor maps an emergency type to its operation category.
func OperationFor(t EmergencyType) OperationType {
	switch t {
	case EmergencyMedical:
		return OperationMedicalTreatment
	case EmergencyFinancial:
		return OperationFinancialProtection
	case EmergencySecurity:
		return OperationSecurityResponse
	case EmergencyAccident:
		return OperationInsuranceClaim
	case EmergencyFamily:
		return OperationFamilyAssistance
	case EmergencyLegal:
		return OperationLegalSupport
	default:
		return OperationGeneralEmergency
	}
}

// Severity is the tier returned by the risk assessor.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Emergency is the originating emergency record for an execution.
type Emergency struct {
	EmergencyID        string            `json:"emergency_id"`
	PrincipalID        string            `json:"principal_id"`
	Type               EmergencyType     `json:"type"`
	InstitutionName    string            `json:"institution_name"`
	InstitutionAddress string            `json:"institution_address"`
	RequestedAmount    Money             `json:"requested_amount"`
	Documents          []Document        `json:"documents,omitempty"`
	ContactInfo        map[string]string `json:"contact_info,omitempty"`
	ReportedAt         time.Time         `json:"reported_at"`
}

// Document is a piece of evidence attached to an emergency.
type Document struct {
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

// Assessment is the risk assessor's view of an emergency.
type Assessment struct {
	Severity               Severity `json:"severity"`
	UrgencyScore           int      `json:"urgency_score"` // 0-100
	Confidence             float64  `json:"confidence"`    // 0-1
	RecommendedAmount      Money    `json:"recommended_amount"`
	InstitutionCredibility float64  `json:"institution_credibility"` // 0-1
	RiskFactors            []string `json:"risk_factors,omitempty"`
	Reasoning              string   `json:"reasoning,omitempty"`
}

// Proof is an opaque attestation bundle handed to the attestation verifier.
type Proof struct {
	Identity      string `json:"identity"`
	Emergency     string `json:"emergency"`
	Authorization string `json:"authorization"`
}

// Guardian is a designated approver.
type Guardian struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	PublicKey string    `json:"public_key,omitempty"` // hex
	Channels  []Channel `json:"channels,omitempty"`
}

// Channel is a notification channel a guardian can be reached on.
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelSMS     Channel = "SMS"
	ChannelPush    Channel = "PUSH"
	ChannelWebhook Channel = "WEBHOOK"
)

// GuardianResponseState tracks a guardian's reaction to an active emergency.
type GuardianResponseState string

const (
	ResponseUnknown      GuardianResponseState = "UNKNOWN"
	ResponseNotified     GuardianResponseState = "NOTIFIED"
	ResponseAcknowledged GuardianResponseState = "ACKNOWLEDGED"
	ResponseResponded    GuardianResponseState = "RESPONDED"
	ResponseOffline      GuardianResponseState = "OFFLINE"
)

// Engaged reports whether the guardian has acknowledged or responded.
func (s GuardianResponseState) Engaged() bool {
	return s == ResponseAcknowledged || s == ResponseResponded
}

// ParseResponseState converts a stored value back into a state.
// Unrecognised values map to ResponseUnknown.
func ParseResponseState(s string) GuardianResponseState {
	switch st := GuardianResponseState(s); st {
	case ResponseNotified, ResponseAcknowledged, ResponseResponded, ResponseOffline:
		return st
	default:
		return ResponseUnknown
	}
}
