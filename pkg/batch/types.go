// Package batch models the certification record and its lifecycle.
//
// The ledger owns the authoritative copy of every record; this package is the
// shared state-machine logic enforced by both the gateway and the ledger-side
// contract.
package batch

import "time"

// Status is the lifecycle state of a certification record.
type Status string

const (
	StatusRegistered  Status = "REGISTERED"
	StatusSubmitted   Status = "SUBMITTED"
	StatusInspected   Status = "INSPECTED"
	StatusEvaluated   Status = "EVALUATED"
	StatusCertified   Status = "CERTIFIED"
	StatusDistributed Status = "DISTRIBUTED"
	StatusRevoked     Status = "REVOKED"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{
	StatusRegistered, StatusSubmitted, StatusInspected, StatusEvaluated,
	StatusCertified, StatusDistributed, StatusRevoked,
}

// ValidStatus reports whether s names a known status.
func ValidStatus(s Status) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// DocKind categorizes an attached document.
type DocKind string

const (
	DocSeedSource     DocKind = "seed_source"
	DocCertRequest    DocKind = "certification_request"
	DocInspection     DocKind = "field_inspection"
	DocEvaluation     DocKind = "chief_evaluation"
	DocCertificate    DocKind = "certificate"
	DocDistribution   DocKind = "distribution"
	DocRevocation     DocKind = "revocation"
)

// Document is one attachment on a record, addressed by content id.
type Document struct {
	Name       string    `json:"name"`
	CID        string    `json:"cid,omitempty"`
	Kind       DocKind   `json:"doc_type"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`

	// Kind-specific payloads.
	Result   string  `json:"result,omitempty"`   // field_inspection
	Note     string  `json:"note,omitempty"`     // chief_evaluation
	Approval string  `json:"status,omitempty"`   // chief_evaluation: APPROVE/REJECT
	CertNo   string  `json:"cert_number,omitempty"`
	Location string  `json:"location,omitempty"` // distribution
	Quantity float64 `json:"quantity,omitempty"` // distribution
	Reason   string  `json:"reason,omitempty"`   // revocation
}

// SeedClass codes and their label colors.
const (
	ClassBreeder    = "BS"
	ClassFoundation = "BD"
	ClassStock      = "BP"
	ClassExtension  = "BR"
)

// ValidSeedClass reports whether class is one of the four seed class codes.
func ValidSeedClass(class string) bool {
	switch class {
	case ClassBreeder, ClassFoundation, ClassStock, ClassExtension:
		return true
	}
	return false
}

// LabelColor returns the certification label color for a seed class.
func LabelColor(class string) string {
	switch class {
	case ClassBreeder:
		return "Yellow"
	case ClassFoundation:
		return "White"
	case ClassStock:
		return "Purple"
	case ClassExtension:
		return "Blue"
	default:
		return "Unspecified"
	}
}

// Record is a certification record tracked through its lifecycle. Created on
// first registration, mutated only through lifecycle transitions, never
// deleted: revocation is a terminal status, not removal.
type Record struct {
	ID          string `json:"id"`
	VarietyName string `json:"variety_name"`
	Commodity   string `json:"commodity"`
	HarvestDate string `json:"harvest_date"`
	SourceNo    string `json:"seed_source_number"`
	Origin      string `json:"origin"`
	PermitNo    string `json:"iup_number"`
	SeedClass   string `json:"seed_class"`
	LabelColor  string `json:"label_color"`

	ProducerID string    `json:"producer_id"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`

	FieldInspectorID string `json:"inspector_field_id,omitempty"`
	ChiefInspectorID string `json:"inspector_chief_id,omitempty"`
	IssuerID         string `json:"issuer_id,omitempty"`

	CertNumber     string     `json:"cert_number,omitempty"`
	CertIssueDate  *time.Time `json:"cert_issue_date,omitempty"`
	CertExpiryDate *time.Time `json:"cert_expiry_date,omitempty"`
	CertRevokeDate *time.Time `json:"cert_revoke_date,omitempty"`

	Status    Status     `json:"current_status"`
	Documents []Document `json:"documents"`

	RejectionCount int `json:"rejection_count,omitempty"`

	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	InspectedAt   *time.Time `json:"inspected_at,omitempty"`
	EvaluatedAt   *time.Time `json:"evaluated_at,omitempty"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	DistributedAt *time.Time `json:"distributed_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`

	// Version increments on every mutation.
	Version        uint64    `json:"version"`
	LastModifiedBy string    `json:"last_modified_by"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}
