package batch

import (
	"time"

	"github.com/codekinian-dev/seed-chain-zta/pkg/policy"
)

// Transition names, as used by the ledger contract and audit trail.
const (
	TransitionRegister   = "CREATE_SEED_BATCH"
	TransitionSubmit     = "SUBMIT_CERTIFICATION"
	TransitionInspect    = "RECORD_INSPECTION"
	TransitionEvaluate   = "EVALUATE_INSPECTION"
	TransitionIssue      = "ISSUE_CERTIFICATE"
	TransitionDistribute = "DISTRIBUTE_SEED"
	TransitionRevoke     = "REVOKE_CERTIFICATE"
)

// TransitionSpec describes one legal transition: the role required to perform
// it and the statuses it connects.
type TransitionSpec struct {
	RequiredRole string
	From         []Status
	To           Status
}

// Transitions is the transition table. evaluate(REJECT) is the single
// backward edge, INSPECTED -> REGISTERED.
var Transitions = map[string]TransitionSpec{
	TransitionRegister:   {RequiredRole: policy.RoleProducer, From: nil, To: StatusRegistered},
	TransitionSubmit:     {RequiredRole: policy.RoleProducer, From: []Status{StatusRegistered}, To: StatusSubmitted},
	TransitionInspect:    {RequiredRole: policy.RoleFieldInspector, From: []Status{StatusSubmitted}, To: StatusInspected},
	TransitionEvaluate:   {RequiredRole: policy.RoleChiefInspector, From: []Status{StatusInspected}, To: StatusEvaluated},
	TransitionIssue:      {RequiredRole: policy.RoleIssuer, From: []Status{StatusEvaluated}, To: StatusCertified},
	TransitionDistribute: {RequiredRole: policy.RoleProducer, From: []Status{StatusCertified}, To: StatusDistributed},
	TransitionRevoke:     {RequiredRole: policy.RoleIssuer, From: []Status{StatusCertified, StatusDistributed}, To: StatusRevoked},
}

// SecurityFlagThreshold is the rejection count at which repeated rejections
// raise a security flag. The flag is logged, never blocking.
const SecurityFlagThreshold = 3

// NewRecord creates a record in REGISTERED state with its seed source
// document attached. Identifier uniqueness is enforced by the store.
func NewRecord(id, variety, commodity, harvestDate, sourceNo, origin, permitNo, seedClass, producerID, actor string, sourceDoc Document, now time.Time) *Record {
	return &Record{
		ID:          id,
		VarietyName: variety,
		Commodity:   commodity,
		HarvestDate: harvestDate,
		SourceNo:    sourceNo,
		Origin:      origin,
		PermitNo:    permitNo,
		SeedClass:   seedClass,
		LabelColor:  LabelColor(seedClass),

		ProducerID: producerID,
		CreatedBy:  actor,
		CreatedAt:  now,

		Status:    StatusRegistered,
		Documents: []Document{sourceDoc},

		Version:        1,
		LastModifiedBy: actor,
		LastModifiedAt: now,
	}
}

func (r *Record) touch(actor string, now time.Time) {
	r.Version++
	r.LastModifiedBy = actor
	r.LastModifiedAt = now
}

// Submit attaches the certification-request document and moves the record to
// SUBMITTED.
func (r *Record) Submit(actor string, doc Document, now time.Time) error {
	if r.Status != StatusRegistered {
		return wrongStatus(StatusRegistered, r.Status)
	}

	r.Documents = append(r.Documents, doc)
	r.Status = StatusSubmitted
	r.SubmittedAt = &now
	r.touch(actor, now)
	return nil
}

// Inspect records the field inspector and inspection document and moves the
// record to INSPECTED. The same inspector may not inspect a record twice.
func (r *Record) Inspect(actor, inspectorID string, doc Document, now time.Time) error {
	if r.Status != StatusSubmitted {
		return wrongStatus(StatusSubmitted, r.Status)
	}
	if r.FieldInspectorID == inspectorID && inspectorID != "" {
		return guardf(CodeDuplicateInspector, "inspector %s has already inspected this record", inspectorID)
	}

	r.FieldInspectorID = inspectorID
	r.Documents = append(r.Documents, doc)
	r.Status = StatusInspected
	r.InspectedAt = &now
	r.touch(actor, now)
	return nil
}

// Evaluate records the chief inspector's verdict. APPROVE moves the record to
// EVALUATED; REJECT returns it to REGISTERED and increments the rejection
// counter. The chief may not evaluate their own field inspection.
//
// The returned flag is true when the rejection counter reaches the security
// threshold; the caller logs it, the transition itself is unaffected.
func (r *Record) Evaluate(actor, chiefID string, approve bool, doc Document, now time.Time) (securityFlag bool, err error) {
	if r.Status != StatusInspected {
		return false, wrongStatus(StatusInspected, r.Status)
	}
	if r.FieldInspectorID == chiefID {
		return false, guardf(CodeConflictOfInterest, "chief inspector %s cannot evaluate their own field inspection", chiefID)
	}

	r.ChiefInspectorID = chiefID
	r.EvaluatedAt = &now

	if approve {
		r.Status = StatusEvaluated
	} else {
		r.Status = StatusRegistered
		r.RejectionCount++
		securityFlag = r.RejectionCount >= SecurityFlagThreshold
	}

	r.Documents = append(r.Documents, doc)
	r.touch(actor, now)
	return securityFlag, nil
}

// IssueCertificate attaches certificate metadata and moves the record to
// CERTIFIED. Global uniqueness of the certificate number is enforced by the
// store's certificate index; this guard only validates the record itself.
func (r *Record) IssueCertificate(actor, issuerID, certNumber string, expiryMonths int, doc Document, now time.Time) error {
	if r.Status != StatusEvaluated {
		return wrongStatus(StatusEvaluated, r.Status)
	}

	expiry := now.AddDate(0, expiryMonths, 0)

	r.IssuerID = issuerID
	r.CertNumber = certNumber
	r.CertIssueDate = &now
	r.CertExpiryDate = &expiry
	r.Status = StatusCertified
	r.IssuedAt = &now
	r.Documents = append(r.Documents, doc)
	r.touch(actor, now)
	return nil
}

// Distribute attaches the distribution document and moves the record to
// DISTRIBUTED. The certificate must not be expired.
func (r *Record) Distribute(actor string, doc Document, now time.Time) error {
	if r.Status != StatusCertified {
		return wrongStatus(StatusCertified, r.Status)
	}
	if r.CertExpiryDate != nil && now.After(*r.CertExpiryDate) {
		return guardf(CodeCertExpired, "certificate %s expired at %s", r.CertNumber, r.CertExpiryDate.Format(time.RFC3339))
	}

	r.Documents = append(r.Documents, doc)
	r.Status = StatusDistributed
	r.DistributedAt = &now
	r.touch(actor, now)
	return nil
}

// Revoke moves a certified or distributed record to the REVOKED terminal
// state. The caller removes the certificate-number index entry.
func (r *Record) Revoke(actor string, doc Document, now time.Time) error {
	if r.Status != StatusCertified && r.Status != StatusDistributed {
		return guardf(CodeWrongStatus, "only certified records can be revoked, current status is %s", r.Status)
	}

	r.Documents = append(r.Documents, doc)
	r.Status = StatusRevoked
	r.CertRevokeDate = &now
	r.RevokedAt = &now
	r.touch(actor, now)
	return nil
}
