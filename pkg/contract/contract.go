// Package contract is the ledger-side half of the certification workflow: the
// authoritative state machine behind the gateway. It re-validates every input
// and re-checks every role independently of the gateway, so a compromised
// gateway cannot push an illegal transition through.
package contract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codekinian-dev/seed-chain-zta/pkg/batch"
	"github.com/codekinian-dev/seed-chain-zta/pkg/policy"
)

// Identity is the caller context submitted with every transaction. The
// contract trusts nothing else about the caller.
type Identity struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles"`
}

func (id Identity) hasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuditEntry is one composite-keyed audit record. Written for mutations and
// for reads: querying the ledger is itself an audited event.
type AuditEntry struct {
	Key        string         `json:"key"`
	Timestamp  time.Time      `json:"timestamp"`
	TxID       string         `json:"tx_id"`
	Action     string         `json:"action"`
	ResourceID string         `json:"resource_id"`
	UserID     string         `json:"user_id"`
	Role       string         `json:"role"`
	Details    map[string]any `json:"details,omitempty"`
	Status     string         `json:"status"`
}

// HistoryEntry is one point-in-time snapshot of a record, taken from the
// transaction chain.
type HistoryEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	TxID      string          `json:"tx_id"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
}

// Contract holds the world state: current records keyed by id, the
// certificate-number index, the audit log, and the transaction chain. Records
// are stored serialized, so readers always get an independent copy.
type Contract struct {
	mu        sync.Mutex
	records   map[string]json.RawMessage
	certIndex map[string]string
	audits    []AuditEntry
	chain     *Chain
	clock     func() time.Time
	logger    *slog.Logger
}

// New creates an empty contract state.
func New(logger *slog.Logger) *Contract {
	if logger == nil {
		logger = slog.Default()
	}
	return &Contract{
		records:   make(map[string]json.RawMessage),
		certIndex: make(map[string]string),
		chain:     NewChain(),
		clock:     time.Now,
		logger:    logger,
	}
}

// WithClock overrides the clock for testing.
func (c *Contract) WithClock(clock func() time.Time) *Contract {
	c.clock = clock
	c.chain.WithClock(clock)
	return c
}

// Chain exposes the transaction chain for integrity checks.
func (c *Contract) Chain() *Chain { return c.chain }

func (c *Contract) requireRole(caller Identity, role string) error {
	if caller.UserID == "" {
		c.securityEvent(caller, "ACCESS_DENIED", "missing caller identity")
		return &AccessError{Message: "access denied: missing caller identity"}
	}
	if !caller.hasRole(role) {
		c.securityEvent(caller, "ACCESS_DENIED", fmt.Sprintf("required role %s not held", role))
		return &AccessError{Message: fmt.Sprintf("access denied: role %s required", role)}
	}
	return nil
}

func (c *Contract) securityEvent(caller Identity, eventType, details string) {
	c.logger.Warn("security event",
		"event_type", eventType,
		"user_id", caller.UserID,
		"details", details,
	)
}

// recordAudit appends a composite-keyed audit entry. Caller holds the lock.
func (c *Contract) recordAudit(caller Identity, txID, action, resourceID, role string, details map[string]any) {
	now := c.clock()
	c.audits = append(c.audits, AuditEntry{
		Key:        fmt.Sprintf("AUDIT:%s:%d:%s", action, now.UnixMilli(), txID),
		Timestamp:  now,
		TxID:       txID,
		Action:     action,
		ResourceID: resourceID,
		UserID:     caller.UserID,
		Role:       role,
		Details:    details,
		Status:     "SUCCESS",
	})
}

func notFound(id string) error {
	return &batch.GuardError{Code: batch.CodeNotFound, Message: fmt.Sprintf("record %s not found", id)}
}

// getRecord unmarshals the stored copy. Caller holds the lock.
func (c *Contract) getRecord(id string) (*batch.Record, error) {
	raw, ok := c.records[id]
	if !ok {
		return nil, notFound(id)
	}
	var r batch.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return &r, nil
}

// putRecord stores the record and appends the chain entry. Caller holds the
// lock.
func (c *Contract) putRecord(txID, action, author string, r *batch.Record) (*batch.Record, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %s: %w", r.ID, err)
	}
	if _, err := c.chain.Append(txID, r.ID, action, author, raw); err != nil {
		return nil, err
	}
	c.records[r.ID] = raw
	return r, nil
}

// CreateSeedBatch registers a new record. Requires role_producer; the record
// id must be unused.
func (c *Contract) CreateSeedBatch(caller Identity, id, varietyName, commodity, harvestDate, seedSourceNumber, origin, iupNumber, seedClass, producerUUID, seedSourceDocName, seedSourceCID string) (*batch.Record, error) {
	if err := c.requireRole(caller, policy.RoleProducer); err != nil {
		return nil, err
	}

	for field, value := range map[string]string{
		"id": id, "varietyName": varietyName, "commodity": commodity,
		"seedSourceNumber": seedSourceNumber, "origin": origin,
		"iupNumber": iupNumber, "seedSourceDocName": seedSourceDocName,
	} {
		if err := requireField(field, value); err != nil {
			return nil, err
		}
	}
	if err := validateDate("harvestDate", harvestDate); err != nil {
		return nil, err
	}
	if err := validateSeedClass(seedClass); err != nil {
		return nil, err
	}
	if err := validateUUID("producerUUID", producerUUID); err != nil {
		return nil, err
	}
	if err := validateCID("seedSourceIpfsCid", seedSourceCID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[id]; exists {
		return nil, &batch.GuardError{Code: batch.CodeAlreadyExists, Message: fmt.Sprintf("record %s already exists", id)}
	}

	now := c.clock()
	txID := uuid.NewString()

	doc := batch.Document{
		Name:       sanitize(seedSourceDocName),
		CID:        seedSourceCID,
		Kind:       batch.DocSeedSource,
		UploadedBy: caller.UserID,
		UploadedAt: now,
	}
	r := batch.NewRecord(
		sanitize(id), sanitize(varietyName), sanitize(commodity), harvestDate,
		sanitize(seedSourceNumber), sanitize(origin), sanitize(iupNumber),
		seedClass, producerUUID, caller.UserID, doc, now,
	)

	stored, err := c.putRecord(txID, batch.TransitionRegister, caller.UserID, r)
	if err != nil {
		return nil, err
	}
	c.recordAudit(caller, txID, batch.TransitionRegister, r.ID, policy.RoleProducer, map[string]any{
		"variety": varietyName, "commodity": commodity, "seed_class": seedClass,
	})
	return stored, nil
}

// SubmitCertification moves a record to SUBMITTED. Requires role_producer.
func (c *Contract) SubmitCertification(caller Identity, id, documentName, cid string) (*batch.Record, error) {
	if err := c.requireRole(caller, policy.RoleProducer); err != nil {
		return nil, err
	}
	if err := requireField("id", id); err != nil {
		return nil, err
	}
	if err := requireField("documentName", documentName); err != nil {
		return nil, err
	}
	if err := validateCID("ipfsCid", cid); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.getRecord(id)
	if err != nil {
		return nil, err
	}

	now := c.clock()
	doc := batch.Document{
		Name:       sanitize(documentName),
		CID:        cid,
		Kind:       batch.DocCertRequest,
		UploadedBy: caller.UserID,
		UploadedAt: now,
	}
	if err := r.Submit(caller.UserID, doc, now); err != nil {
		return nil, err
	}

	txID := uuid.NewString()
	stored, err := c.putRecord(txID, batch.TransitionSubmit, caller.UserID, r)
	if err != nil {
		return nil, err
	}
	c.recordAudit(caller, txID, batch.TransitionSubmit, id, policy.RoleProducer, map[string]any{
		"document_name": documentName, "cid": cid,
	})
	return stored, nil
}

// RecordInspection moves a record to INSPECTED. Requires role_pbt_field; the
// same inspector may not inspect a record twice.
func (c *Contract) RecordInspection(caller Identity, id, inspectionResult, inspectionCID, inspectorFieldUUID string) (*batch.Record, error) {
	if err := c.requireRole(caller, policy.RoleFieldInspector); err != nil {
		return nil, err
	}
	if err := requireField("id", id); err != nil {
		return nil, err
	}
	if err := requireField("inspectionResult", inspectionResult); err != nil {
		return nil, err
	}
	if err := validateCID("ipfsInspectionCid", inspectionCID); err != nil {
		return nil, err
	}
	if err := validateUUID("inspectorFieldUUID", inspectorFieldUUID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.getRecord(id)
	if err != nil {
		return nil, err
	}

	now := c.clock()
	doc := batch.Document{
		Name:       "Field Inspection Report",
		Result:     sanitize(inspectionResult),
		CID:        inspectionCID,
		Kind:       batch.DocInspection,
		UploadedBy: caller.UserID,
		UploadedAt: now,
	}
	if err := r.Inspect(caller.UserID, inspectorFieldUUID, doc, now); err != nil {
		return nil, err
	}

	txID := uuid.NewString()
	stored, err := c.putRecord(txID, batch.TransitionInspect, caller.UserID, r)
	if err != nil {
		return nil, err
	}
	c.recordAudit(caller, txID, batch.TransitionInspect, id, policy.RoleFieldInspector, map[string]any{
		"inspector_uuid": inspectorFieldUUID,
	})
	return stored, nil
}

// EvaluateInspection records the chief's verdict. Requires role_pbt_chief.
// APPROVE moves the record to EVALUATED; REJECT returns it to REGISTERED.
func (c *Contract) EvaluateInspection(caller Identity, id, evaluationNote, approvalStatus, inspectorChiefUUID string) (*batch.Record, error) {
	if err := c.requireRole(caller, policy.RoleChiefInspector); err != nil {
		return nil, err
	}
	if err := requireField("id", id); err != nil {
		return nil, err
	}
	if err := requireField("evaluationNote", evaluationNote); err != nil {
		return nil, err
	}
	if err := validateUUID("inspectorChiefUUID", inspectorChiefUUID); err != nil {
		return nil, err
	}
	if approvalStatus != "APPROVE" && approvalStatus != "REJECT" {
		return nil, &ValidationError{Field: "approvalStatus", Message: "approvalStatus must be APPROVE or REJECT"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.getRecord(id)
	if err != nil {
		return nil, err
	}

	now := c.clock()
	doc := batch.Document{
		Name:       "Chief Evaluation",
		Note:       sanitize(evaluationNote),
		Approval:   approvalStatus,
		Kind:       batch.DocEvaluation,
		UploadedBy: caller.UserID,
		UploadedAt: now,
	}
	flagged, err := r.Evaluate(caller.UserID, inspectorChiefUUID, approvalStatus == "APPROVE", doc, now)
	if err != nil {
		if ge, ok := err.(*batch.GuardError); ok && ge.Code == batch.CodeConflictOfInterest {
			c.securityEvent(caller, "CONFLICT_OF_INTEREST", ge.Message)
		}
		return nil, err
	}
	if flagged {
		c.securityEvent(caller, "MULTIPLE_REJECTIONS",
			fmt.Sprintf("record %s has been rejected %d times", id, r.RejectionCount))
	}

	txID := uuid.NewString()
	stored, err := c.putRecord(txID, batch.TransitionEvaluate, caller.UserID, r)
	if err != nil {
		return nil, err
	}
	c.recordAudit(caller, txID, batch.TransitionEvaluate, id, policy.RoleChiefInspector, map[string]any{
		"approval_status": approvalStatus,
	})
	return stored, nil
}

// IssueCertificate moves a record to CERTIFIED and indexes the certificate
// number. Requires role_lsm_head; certificate numbers are globally unique.
func (c *Contract) IssueCertificate(caller Identity, id, certNumber, expiryMonths, certDocumentName, certCID, issuerUUID string) (*batch.Record, error) {
	if err := c.requireRole(caller, policy.RoleIssuer); err != nil {
		return nil, err
	}
	if err := requireField("id", id); err != nil {
		return nil, err
	}
	if err := requireField("certNumber", certNumber); err != nil {
		return nil, err
	}
	months, err := parseExpiryMonths(expiryMonths)
	if err != nil {
		return nil, err
	}
	if err := requireField("certDocumentName", certDocumentName); err != nil {
		return nil, err
	}
	if err := validateCID("certIpfsCid", certCID); err != nil {
		return nil, err
	}
	if err := validateUUID("issuerUUID", issuerUUID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.getRecord(id)
	if err != nil {
		return nil, err
	}

	cert := sanitize(certNumber)
	if _, taken := c.certIndex[cert]; taken {
		c.securityEvent(caller, "DUPLICATE_CERTIFICATE",
			fmt.Sprintf("certificate number %s already exists", cert))
		return nil, &batch.GuardError{Code: batch.CodeDuplicateCert, Message: fmt.Sprintf("certificate number %s is already in use", cert)}
	}

	now := c.clock()
	doc := batch.Document{
		Name:       sanitize(certDocumentName),
		CID:        certCID,
		CertNo:     cert,
		Kind:       batch.DocCertificate,
		UploadedBy: caller.UserID,
		UploadedAt: now,
	}
	if err := r.IssueCertificate(caller.UserID, issuerUUID, cert, months, doc, now); err != nil {
		return nil, err
	}

	txID := uuid.NewString()
	stored, err := c.putRecord(txID, batch.TransitionIssue, caller.UserID, r)
	if err != nil {
		return nil, err
	}
	c.certIndex[cert] = id
	c.recordAudit(caller, txID, batch.TransitionIssue, id, policy.RoleIssuer, map[string]any{
		"cert_number": cert, "expiry_months": months,
	})
	return stored, nil
}

// RevokeCertificate moves a certified or distributed record to REVOKED and
// drops the certificate-number index entry. Requires role_lsm_head.
func (c *Contract) RevokeCertificate(caller Identity, id, reason string) (*batch.Record, error) {
	if err := c.requireRole(caller, policy.RoleIssuer); err != nil {
		return nil, err
	}
	if err := requireField("id", id); err != nil {
		return nil, err
	}
	if err := requireField("reason", reason); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.getRecord(id)
	if err != nil {
		return nil, err
	}

	c.securityEvent(caller, "CERTIFICATE_REVOCATION",
		fmt.Sprintf("certificate %s for record %s is being revoked: %s", r.CertNumber, id, reason))

	now := c.clock()
	doc := batch.Document{
		Name:       "Revocation Notice",
		Reason:     sanitize(reason),
		Kind:       batch.DocRevocation,
		UploadedBy: caller.UserID,
		UploadedAt: now,
	}
	if err := r.Revoke(caller.UserID, doc, now); err != nil {
		return nil, err
	}

	txID := uuid.NewString()
	stored, err := c.putRecord(txID, batch.TransitionRevoke, caller.UserID, r)
	if err != nil {
		return nil, err
	}
	delete(c.certIndex, r.CertNumber)
	c.recordAudit(caller, txID, batch.TransitionRevoke, id, policy.RoleIssuer, map[string]any{
		"cert_number": r.CertNumber, "reason": reason,
	})
	return stored, nil
}

// DistributeSeed moves a certified record to DISTRIBUTED. Requires
// role_producer; the certificate must not be expired.
func (c *Contract) DistributeSeed(caller Identity, id, distributionLocation, quantity string) (*batch.Record, error) {
	if err := c.requireRole(caller, policy.RoleProducer); err != nil {
		return nil, err
	}
	if err := requireField("id", id); err != nil {
		return nil, err
	}
	if err := requireField("distributionLocation", distributionLocation); err != nil {
		return nil, err
	}
	qty, err := parseQuantity(quantity)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.getRecord(id)
	if err != nil {
		return nil, err
	}

	now := c.clock()
	doc := batch.Document{
		Name:       "Distribution Receipt",
		Location:   sanitize(distributionLocation),
		Quantity:   qty,
		Kind:       batch.DocDistribution,
		UploadedBy: caller.UserID,
		UploadedAt: now,
	}
	if err := r.Distribute(caller.UserID, doc, now); err != nil {
		if ge, ok := err.(*batch.GuardError); ok && ge.Code == batch.CodeCertExpired {
			c.securityEvent(caller, "EXPIRED_CERTIFICATE_USE",
				fmt.Sprintf("attempt to distribute record %s with expired certificate %s", id, r.CertNumber))
		}
		return nil, err
	}

	txID := uuid.NewString()
	stored, err := c.putRecord(txID, batch.TransitionDistribute, caller.UserID, r)
	if err != nil {
		return nil, err
	}
	c.recordAudit(caller, txID, batch.TransitionDistribute, id, policy.RoleProducer, map[string]any{
		"location": distributionLocation, "quantity": qty,
	})
	return stored, nil
}

// QuerySeedBatch returns one record. Reads are audited like writes.
func (c *Contract) QuerySeedBatch(caller Identity, id string) (*batch.Record, error) {
	if err := requireField("id", id); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.getRecord(id)
	if err != nil {
		return nil, err
	}
	c.recordAudit(caller, uuid.NewString(), "READ_SEED_BATCH", id, callerRole(caller), map[string]any{
		"access_type": "single_query",
	})
	return r, nil
}

// QueryAllSeedBatches returns every record, sorted by id.
func (c *Contract) QueryAllSeedBatches(caller Identity) ([]*batch.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*batch.Record, 0, len(c.records))
	for id := range c.records {
		r, err := c.getRecord(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	c.recordAudit(caller, uuid.NewString(), "READ_ALL_BATCHES", "ALL", callerRole(caller), map[string]any{
		"access_type": "bulk_query",
	})
	return out, nil
}

// QuerySeedBatchesByStatus returns the records in one lifecycle status.
func (c *Contract) QuerySeedBatchesByStatus(caller Identity, status string) ([]*batch.Record, error) {
	if err := requireField("status", status); err != nil {
		return nil, err
	}
	if !batch.ValidStatus(batch.Status(status)) {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %s", status)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*batch.Record
	for id := range c.records {
		r, err := c.getRecord(id)
		if err != nil {
			return nil, err
		}
		if r.Status == batch.Status(status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	c.recordAudit(caller, uuid.NewString(), "QUERY_BY_STATUS", status, callerRole(caller), map[string]any{
		"status": status,
	})
	return out, nil
}

// QuerySeedBatchesByProducer returns one producer's records. A producer can
// only query their own: the producer id must match the caller.
func (c *Contract) QuerySeedBatchesByProducer(caller Identity, producerUUID string) ([]*batch.Record, error) {
	if err := c.requireRole(caller, policy.RoleProducer); err != nil {
		return nil, err
	}
	if producerUUID != caller.UserID {
		c.securityEvent(caller, "UNAUTHORIZED_QUERY",
			fmt.Sprintf("producer %s attempted to query records of %s", caller.UserID, producerUUID))
		return nil, &AccessError{Message: "access denied: producers can only query their own records"}
	}
	if err := validateUUID("producerUUID", producerUUID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*batch.Record
	for id := range c.records {
		r, err := c.getRecord(id)
		if err != nil {
			return nil, err
		}
		if r.ProducerID == producerUUID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	c.recordAudit(caller, uuid.NewString(), "QUERY_BY_PRODUCER", producerUUID, policy.RoleProducer, map[string]any{
		"producer_uuid": producerUUID,
	})
	return out, nil
}

// QueryAuditLogs filters the audit log by time range and action. Requires
// role_admin. Zero time bounds are open-ended; empty action matches all.
func (c *Contract) QueryAuditLogs(caller Identity, start, end time.Time, action string) ([]AuditEntry, error) {
	if err := c.requireRole(caller, policy.RoleAdmin); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []AuditEntry
	for _, e := range c.audits {
		if action != "" && e.Action != action {
			continue
		}
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// GetHistory returns every stored version of a record, oldest first.
func (c *Contract) GetHistory(caller Identity, id string) ([]HistoryEntry, error) {
	if err := requireField("id", id); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, ok := c.records[id]; !ok {
		c.mu.Unlock()
		return nil, notFound(id)
	}
	c.recordAudit(caller, uuid.NewString(), "READ_HISTORY", id, callerRole(caller), map[string]any{
		"access_type": "full_history",
	})
	c.mu.Unlock()

	entries := c.chain.History(id)
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntry{
			Timestamp: e.Timestamp,
			TxID:      e.TxID,
			Action:    e.Action,
			Data:      e.State,
		})
	}
	return out, nil
}

func callerRole(caller Identity) string {
	if len(caller.Roles) > 0 {
		return caller.Roles[0]
	}
	return "public"
}
