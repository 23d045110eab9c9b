package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/codekinian-dev/seed-chain-zta/pkg/api"
	"github.com/codekinian-dev/seed-chain-zta/pkg/auth"
	"github.com/codekinian-dev/seed-chain-zta/pkg/batch"
	"github.com/codekinian-dev/seed-chain-zta/pkg/contract"
	"github.com/codekinian-dev/seed-chain-zta/pkg/policy"
)

// evaluate runs a ledger query and writes the classified error itself on
// failure. Reads have no saga; infra failures map to a plain 502.
func (s *Server) evaluate(ctx context.Context, w http.ResponseWriter, p *auth.Principal, fn string, args ...string) (json.RawMessage, bool) {
	out, err := s.ledger.Evaluate(ctx, identityOf(p), fn, args...)
	if err != nil {
		writeLedgerError(w, "", err)
		return nil, false
	}
	return out, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "query_seed_batch")
	defer done(nil)

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, p, "seed_batch", "read", s.requestContext(r)) {
		return
	}

	result, ok := s.evaluate(ctx, w, p, contract.FnQuerySeedBatch, id)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, envelope{Success: true, Message: "Seed batch retrieved", Data: result})
}

// handleList answers three shapes of listing: all batches, by status, or the
// caller's own. Producers are forced onto the ownership-scoped query so they
// never see other producers' batches.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "query_seed_batches")
	defer done(nil)

	if !s.authorize(w, r, p, "seed_batch", "read", s.requestContext(r)) {
		return
	}

	status := r.URL.Query().Get("status")
	mine := r.URL.Query().Get("mine") == "true"
	ownOnly := mine || s.isProducerOnly(p)

	var (
		result json.RawMessage
		ok     bool
	)
	switch {
	case ownOnly:
		result, ok = s.evaluate(ctx, w, p, contract.FnQueryByProducer, p.ID)
	case status != "":
		if !batch.ValidStatus(batch.Status(status)) {
			api.WriteBadRequest(w, "unknown status filter: "+status)
			return
		}
		result, ok = s.evaluate(ctx, w, p, contract.FnQueryByStatus, status)
	default:
		result, ok = s.evaluate(ctx, w, p, contract.FnQueryAllSeedBatches)
	}
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, envelope{Success: true, Message: "Seed batches retrieved", Data: result})
}

// isProducerOnly reports whether the principal holds no role beyond
// producer. Inspectors and admins see the full listing.
func (s *Server) isProducerOnly(p *auth.Principal) bool {
	if !p.HasRole(policy.RoleProducer) {
		return false
	}
	for _, role := range p.Roles {
		if role != policy.RoleProducer {
			return false
		}
	}
	return true
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "query_history")
	defer done(nil)

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, p, "seed_batch", "read", s.requestContext(r)) {
		return
	}

	result, ok := s.evaluate(ctx, w, p, contract.FnGetHistory, id)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, envelope{Success: true, Message: "History retrieved", Data: result})
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	ctx, done := s.track(r, "query_audit_logs")
	defer done(nil)

	if !s.engine.HasAnyRole(p, []string{policy.RoleAdmin}) {
		api.WriteForbidden(w, "audit logs require administrator role")
		return
	}

	q := r.URL.Query()
	result, ok := s.evaluate(ctx, w, p, contract.FnQueryAuditLogs,
		q.Get("start"), q.Get("end"), q.Get("action"))
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, envelope{Success: true, Message: "Audit logs retrieved", Data: result})
}

func (s *Server) handleGetSaga(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}

	sg, ok := s.sagas.Get(r.PathValue("id"))
	if !ok {
		api.WriteNotFound(w, "saga not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": sg})
}

func (s *Server) handleListFailedSagas(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	if !s.engine.HasAnyRole(p, []string{policy.RoleAdmin}) {
		api.WriteForbidden(w, "saga listing requires administrator role")
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": s.sagas.FailedSagas()})
}

func (s *Server) handleRetrySaga(w http.ResponseWriter, r *http.Request) {
	p := s.principal(w, r)
	if p == nil {
		return
	}
	if !s.engine.HasAnyRole(p, []string{policy.RoleAdmin}) {
		api.WriteForbidden(w, "saga retry requires administrator role")
		return
	}

	newID, err := s.sagas.Retry(r.PathValue("id"))
	if err != nil {
		api.WriteNotFound(w, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "saga_id": newID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "seed-chain-gateway",
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}

// handleReady probes the ledger and the content store. Either one down means
// writes would fail, so readiness is all-or-nothing.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ledgerUp := s.ledger.Probe(r.Context())
	contentUp := s.content.Probe(r.Context())

	status := http.StatusOK
	overall := "ready"
	if !ledgerUp || !contentUp {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	api.WriteJSON(w, status, map[string]any{
		"status": overall,
		"components": map[string]string{
			"ledger":  upDown(ledgerUp),
			"content": upDown(contentUp),
		},
	})
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
