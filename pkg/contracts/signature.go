package contracts

import "time"

// SignatureStatus is the lifecycle status of a signature collection.
type SignatureStatus string

const (
	SignaturePending    SignatureStatus = "PENDING"
	SignatureInProgress SignatureStatus = "IN_PROGRESS"
	SignatureCompleted  SignatureStatus = "COMPLETED"
	SignatureFailed     SignatureStatus = "FAILED"
	SignatureExpired    SignatureStatus = "EXPIRED"
	SignatureCancelled  SignatureStatus = "CANCELLED"
)

// Terminal reports whether the collection is immutable.
func (s SignatureStatus) Terminal() bool {
	switch s {
	case SignatureCompleted, SignatureFailed, SignatureExpired, SignatureCancelled:
		return true
	}
	return false
}

// SignatureScheme tags the algorithm a guardian signed with.
type SignatureScheme string

const (
	SchemeEd25519 SignatureScheme = "ed25519"
)

// GuardianSignature is one verified guardian approval.
type GuardianSignature struct {
	GuardianID string          `json:"guardian_id"`
	Signature  string          `json:"signature"`
	Scheme     SignatureScheme `json:"scheme"`
	SignedAt   time.Time       `json:"signed_at"`
	Digest     string          `json:"digest"`
	Verified   bool            `json:"verified"`
}

// NotificationRecord is the recorded outcome of one fan-out delivery.
type NotificationRecord struct {
	GuardianID string    `json:"guardian_id"`
	Channel    Channel   `json:"channel"`
	Delivered  bool      `json:"delivered"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// SignatureCollection is the quorum state for one execution plan.
type SignatureCollection struct {
	CollectionID  string               `json:"collection_id"`
	ExecutionID   string               `json:"execution_id"`
	EmergencyID   string               `json:"emergency_id"`
	Required      int                  `json:"required"`
	Roster        []string             `json:"roster,omitempty"`
	Signatures    []GuardianSignature  `json:"signatures"`
	Notifications []NotificationRecord `json:"notifications,omitempty"`
	Status        SignatureStatus      `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	ExpiresAt     time.Time            `json:"expires_at"`
	ClosedAt      time.Time            `json:"closed_at,omitempty"`
	Message       string               `json:"message"`
	Digest        string               `json:"digest"`
	CloseReason   string               `json:"close_reason,omitempty"`

	// Rejected counts submissions that failed verification. They are not
	// kept in Signatures.
	Rejected int `json:"rejected"`
}

// CollectedCount is the number of verified signatures.
func (c *SignatureCollection) CollectedCount() int {
	n := 0
	for _, s := range c.Signatures {
		if s.Verified {
			n++
		}
	}
	return n
}

// QuorumMet reports whether the verified count meets the requirement.
func (c *SignatureCollection) QuorumMet() bool {
	return c.CollectedCount() >= c.Required
}

// ExpiredAt reports whether the collection window has elapsed at t.
func (c *SignatureCollection) ExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// HasGuardian reports whether the guardian already has a verified entry.
func (c *SignatureCollection) HasGuardian(guardianID string) bool {
	for _, s := range c.Signatures {
		if s.GuardianID == guardianID && s.Verified {
			return true
		}
	}
	return false
}

// OnRoster reports whether the guardian was asked to sign.
func (c *SignatureCollection) OnRoster(guardianID string) bool {
	for _, id := range c.Roster {
		if id == guardianID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c SignatureCollection) Clone() SignatureCollection {
	out := c
	out.Roster = append([]string(nil), c.Roster...)
	out.Signatures = append([]GuardianSignature(nil), c.Signatures...)
	out.Notifications = append([]NotificationRecord(nil), c.Notifications...)
	return out
}
