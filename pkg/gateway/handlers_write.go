package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/codekinian-dev/seed-chain-zta/pkg/api"
	"github.com/codekinian-dev/seed-chain-zta/pkg/audit"
	"github.com/codekinian-dev/seed-chain-zta/pkg/auth"
	"github.com/codekinian-dev/seed-chain-zta/pkg/contract"
	"github.com/codekinian-dev/seed-chain-zta/pkg/policy"
	"github.com/codekinian-dev/seed-chain-zta/pkg/saga"
	"github.com/codekinian-dev/seed-chain-zta/pkg/validation"
)

// envelope is the success response shape shared by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	SagaID  string          `json:"saga_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// track opens the telemetry span for one operation; the returned func takes
// the operation's final error. Works with telemetry disabled.
func (s *Server) track(r *http.Request, op string) (context.Context, func(error)) {
	if s.obs == nil {
		return r.Context(), func(error) {}
	}
	return s.obs.TrackOperation(r.Context(), op, attribute.String("operation", op))
}

func (s *Server) requestContext(r *http.Request) policy.Context {
	return policy.Context{
		IP:     r.RemoteAddr,
		Method: r.Method,
		Path:   r.URL.Path,
	}
}

// decodeJSON reads a JSON request body into a map, answering the 400 itself
// on malformed input.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body := map[string]any{}
	if r.Body == nil || r.ContentLength == 0 {
		return body, true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		api.WriteBadRequest(w, "request body must be a JSON object")
		return nil, false
	}
	return body, true
}

// validate runs the schema for one operation, answering the 400 itself.
func (s *Server) validate(w http.ResponseWriter, op string, body map[string]any) bool {
	if err := s.validator.Validate(op, body); err != nil {
		api.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// pathID pulls and bounds-checks the {id} path parameter.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := validation.ValidateID(id); err != nil {
		api.WriteBadRequest(w, err.Error())
		return "", false
	}
	return id, true
}

// uploadStep runs the content-store half of a write saga: upload, best-effort
// pin, step bookkeeping. On failure the saga is failed (nothing to
// compensate yet) and the 502 is written.
func (s *Server) uploadStep(ctx context.Context, w http.ResponseWriter, sagaID, path string) (string, bool) {
	s.sagas.RecordStep(sagaID, saga.StepContentUpload, saga.StepStarted, nil)

	cid, err := s.content.Upload(ctx, path)
	if err != nil {
		s.logger.Error("content upload failed", "saga_id", sagaID, "error", err)
		s.sagas.RecordStep(sagaID, saga.StepContentUpload, saga.StepFailed, map[string]any{"error": err.Error()})
		s.sagas.MarkFailure(ctx, sagaID, err)
		api.WriteOperationFailed(w, sagaID)
		return "", false
	}

	if !s.content.Pin(ctx, cid) {
		// The upload itself stands; the cluster will pin on its own schedule.
		s.logger.Warn("pin request rejected", "saga_id", sagaID, "cid", cid)
	}

	s.sagas.RecordStep(sagaID, saga.StepContentUpload, saga.StepCompleted, map[string]any{"cid": cid})
	return cid, true
}

// submitStep runs the ledger half of a write saga. Every failure fails the
// saga, which unpins any uploaded content; the HTTP status still reflects
// whether the ledger rejected the business operation or never answered.
func (s *Server) submitStep(ctx context.Context, w http.ResponseWriter, p *auth.Principal, sagaID, fn string, args ...string) (json.RawMessage, bool) {
	s.sagas.RecordStep(sagaID, saga.StepLedgerSubmit, saga.StepStarted, map[string]any{"function": fn})

	out, err := s.ledger.Submit(ctx, identityOf(p), fn, args...)
	if err != nil {
		if isDomainError(err) {
			s.logger.Warn("ledger rejected transaction", "saga_id", sagaID, "function", fn, "error", err)
		} else {
			s.logger.Error("ledger submission failed", "saga_id", sagaID, "function", fn, "error", err)
		}
		s.sagas.RecordStep(sagaID, saga.StepLedgerSubmit, saga.StepFailed, map[string]any{"error": err.Error()})
		s.sagas.MarkFailure(ctx, sagaID, err)
		writeLedgerError(w, sagaID, err)
		return nil, false
	}

	s.sagas.RecordStep(sagaID, saga.StepLedgerSubmit, saga.StepCompleted, map[string]any{"function": fn})
	return out, true
}

func (s *Server) recordMutation(ctx context.Context, action, resourceID, sagaID string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, audit.EventMutation, action, resourceID, map[string]interface{}{
		"saga_id":    sagaID,
		"request_id": api.GetRequestID(ctx),
	})
}

func str(body map[string]any, key string) string {
	v, _ := body[key].(string)
	return v
}

// newBatchID mints a batch identifier. Time-prefixed so listings sort by
// creation order even before the ledger assigns history.
func newBatchID() string {
	return fmt.Sprintf("BATCH-%d-%s", time.Now().UnixMilli(), strings.SplitN(uuid.NewString(), "-", 2)[0])
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "create_seed_batch")
	var opErr error
	defer func() { done(opErr) }()

	up, body, ok := s.parseUpload(w, r)
	if !ok {
		return
	}
	defer up.cleanup()

	if !s.validate(w, validation.OpCreateSeedBatch, body) {
		return
	}
	if !s.authorize(w, r, p, "seed_batch", "create", s.requestContext(r)) {
		return
	}

	batchID := newBatchID()
	sagaID := s.sagas.Begin("CREATE_SEED_BATCH", map[string]any{
		"batch_id": batchID,
		"actor":    p.ID,
	})

	cid, ok := s.uploadStep(ctx, w, sagaID, up.path)
	if !ok {
		opErr = fmt.Errorf("content upload failed")
		return
	}

	result, ok := s.submitStep(ctx, w, p, sagaID, contract.FnCreateSeedBatch,
		batchID,
		str(body, "varietyName"),
		str(body, "commodity"),
		str(body, "harvestDate"),
		str(body, "seedSourceNumber"),
		str(body, "origin"),
		str(body, "iupNumber"),
		str(body, "seedClass"),
		p.ID,
		up.filename,
		cid,
	)
	if !ok {
		opErr = fmt.Errorf("ledger submission failed")
		return
	}

	s.sagas.MarkSuccess(sagaID, map[string]any{"batch_id": batchID, "cid": cid})
	s.recordMutation(ctx, "create_seed_batch", batchID, sagaID)
	api.WriteJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "Seed batch created successfully",
		SagaID:  sagaID,
		Data:    result,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "submit_certification")
	var opErr error
	defer func() { done(opErr) }()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	up, body, ok := s.parseUpload(w, r)
	if !ok {
		return
	}
	defer up.cleanup()

	if !s.validate(w, validation.OpSubmitCertification, body) {
		return
	}
	if !s.authorize(w, r, p, "certification_request", "submit", s.requestContext(r)) {
		return
	}

	sagaID := s.sagas.Begin("SUBMIT_CERTIFICATION", map[string]any{
		"batch_id": id,
		"actor":    p.ID,
	})

	cid, ok := s.uploadStep(ctx, w, sagaID, up.path)
	if !ok {
		opErr = fmt.Errorf("content upload failed")
		return
	}

	result, ok := s.submitStep(ctx, w, p, sagaID, contract.FnSubmitCertification, id, up.filename, cid)
	if !ok {
		opErr = fmt.Errorf("ledger submission failed")
		return
	}

	s.sagas.MarkSuccess(sagaID, map[string]any{"batch_id": id, "cid": cid})
	s.recordMutation(ctx, "submit_certification", id, sagaID)
	api.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Certification request submitted successfully",
		SagaID:  sagaID,
		Data:    result,
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "record_inspection")
	var opErr error
	defer func() { done(opErr) }()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	up, body, ok := s.parseUpload(w, r)
	if !ok {
		return
	}
	defer up.cleanup()

	if !s.validate(w, validation.OpRecordInspection, body) {
		return
	}
	if !s.authorize(w, r, p, "inspection", "create", s.requestContext(r)) {
		return
	}

	sagaID := s.sagas.Begin("RECORD_INSPECTION", map[string]any{
		"batch_id": id,
		"actor":    p.ID,
	})

	cid, ok := s.uploadStep(ctx, w, sagaID, up.path)
	if !ok {
		opErr = fmt.Errorf("content upload failed")
		return
	}

	result, ok := s.submitStep(ctx, w, p, sagaID, contract.FnRecordInspection,
		id, str(body, "inspectionResult"), cid, p.ID)
	if !ok {
		opErr = fmt.Errorf("ledger submission failed")
		return
	}

	s.sagas.MarkSuccess(sagaID, map[string]any{"batch_id": id, "cid": cid})
	s.recordMutation(ctx, "record_inspection", id, sagaID)
	api.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Inspection recorded successfully",
		SagaID:  sagaID,
		Data:    result,
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "evaluate_inspection")
	var opErr error
	defer func() { done(opErr) }()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body, ok := s.decodeJSON(w, r)
	if !ok {
		return
	}
	if !s.validate(w, validation.OpEvaluateInspection, body) {
		return
	}

	approvalStatus := str(body, "approvalStatus")
	action := "approve"
	if approvalStatus == "REJECT" {
		action = "reject"
	}
	if !s.authorize(w, r, p, "evaluation", action, s.requestContext(r)) {
		return
	}

	sagaID := s.sagas.Begin("EVALUATE_INSPECTION", map[string]any{
		"batch_id": id,
		"actor":    p.ID,
		"decision": approvalStatus,
	})

	result, ok := s.submitStep(ctx, w, p, sagaID, contract.FnEvaluateInspection,
		id, str(body, "evaluationNote"), approvalStatus, p.ID)
	if !ok {
		opErr = fmt.Errorf("ledger submission failed")
		return
	}

	s.sagas.MarkSuccess(sagaID, map[string]any{"batch_id": id, "decision": approvalStatus})
	s.recordMutation(ctx, "evaluate_inspection", id, sagaID)
	api.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Evaluation recorded successfully",
		SagaID:  sagaID,
		Data:    result,
	})
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "issue_certificate")
	var opErr error
	defer func() { done(opErr) }()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	up, body, ok := s.parseUpload(w, r)
	if !ok {
		return
	}
	defer up.cleanup()

	// Form values arrive as strings; the schema wants an integer.
	expiryRaw := str(body, "expiryMonths")
	if months, err := strconv.Atoi(expiryRaw); err == nil {
		body["expiryMonths"] = months
	}
	if !s.validate(w, validation.OpIssueCertificate, body) {
		return
	}
	if !s.authorize(w, r, p, "certificate", "issue", s.requestContext(r)) {
		return
	}

	sagaID := s.sagas.Begin("ISSUE_CERTIFICATE", map[string]any{
		"batch_id": id,
		"actor":    p.ID,
	})

	cid, ok := s.uploadStep(ctx, w, sagaID, up.path)
	if !ok {
		opErr = fmt.Errorf("content upload failed")
		return
	}

	result, ok := s.submitStep(ctx, w, p, sagaID, contract.FnIssueCertificate,
		id, str(body, "certificateNumber"), expiryRaw, up.filename, cid, p.ID)
	if !ok {
		opErr = fmt.Errorf("ledger submission failed")
		return
	}

	s.sagas.MarkSuccess(sagaID, map[string]any{"batch_id": id, "cid": cid})
	s.recordMutation(ctx, "issue_certificate", id, sagaID)
	api.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Certificate issued successfully",
		SagaID:  sagaID,
		Data:    result,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "revoke_certificate")
	var opErr error
	defer func() { done(opErr) }()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body, ok := s.decodeJSON(w, r)
	if !ok {
		return
	}
	if !s.validate(w, validation.OpRevokeCertificate, body) {
		return
	}
	if !s.authorize(w, r, p, "certificate", "revoke", s.requestContext(r)) {
		return
	}

	sagaID := s.sagas.Begin("REVOKE_CERTIFICATE", map[string]any{
		"batch_id": id,
		"actor":    p.ID,
	})

	result, ok := s.submitStep(ctx, w, p, sagaID, contract.FnRevokeCertificate, id, str(body, "reason"))
	if !ok {
		opErr = fmt.Errorf("ledger submission failed")
		return
	}

	s.sagas.MarkSuccess(sagaID, map[string]any{"batch_id": id})
	s.recordMutation(ctx, "revoke_certificate", id, sagaID)
	api.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Certificate revoked successfully",
		SagaID:  sagaID,
		Data:    result,
	})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "distribute_seed")
	var opErr error
	defer func() { done(opErr) }()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body, ok := s.decodeJSON(w, r)
	if !ok {
		return
	}
	if !s.validate(w, validation.OpDistributeSeed, body) {
		return
	}
	if !s.authorize(w, r, p, "distribution", "create", s.requestContext(r)) {
		return
	}

	quantity, _ := body["quantity"].(float64)

	sagaID := s.sagas.Begin("DISTRIBUTE_SEED", map[string]any{
		"batch_id": id,
		"actor":    p.ID,
	})

	result, ok := s.submitStep(ctx, w, p, sagaID, contract.FnDistributeSeed,
		id, str(body, "distributionLocation"), strconv.FormatFloat(quantity, 'f', -1, 64))
	if !ok {
		opErr = fmt.Errorf("ledger submission failed")
		return
	}

	s.sagas.MarkSuccess(sagaID, map[string]any{"batch_id": id})
	s.recordMutation(ctx, "distribute_seed", id, sagaID)
	api.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Seed batch distributed successfully",
		SagaID:  sagaID,
		Data:    result,
	})
}
