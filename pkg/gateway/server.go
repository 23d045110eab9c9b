// Package gateway is the HTTP surface of the certification workflow: one
// handler per lifecycle transition plus reads, health, and saga lookups.
// Every write goes policy check first, then saga, then content store, then
// ledger.
package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/codekinian-dev/seed-chain-zta/pkg/api"
	"github.com/codekinian-dev/seed-chain-zta/pkg/audit"
	"github.com/codekinian-dev/seed-chain-zta/pkg/auth"
	"github.com/codekinian-dev/seed-chain-zta/pkg/config"
	"github.com/codekinian-dev/seed-chain-zta/pkg/contract"
	"github.com/codekinian-dev/seed-chain-zta/pkg/ledgerclient"
	"github.com/codekinian-dev/seed-chain-zta/pkg/observability"
	"github.com/codekinian-dev/seed-chain-zta/pkg/policy"
	"github.com/codekinian-dev/seed-chain-zta/pkg/saga"
	"github.com/codekinian-dev/seed-chain-zta/pkg/validation"
)

// ContentStore is the slice of the content client the handlers need.
// Unpinning belongs to saga compensation, not to the handlers.
type ContentStore interface {
	Upload(ctx context.Context, path string) (string, error)
	Pin(ctx context.Context, cid string) bool
	Probe(ctx context.Context) bool
}

// Server wires the policy engine, saga coordinator, content store, and
// ledger client behind the HTTP handlers.
type Server struct {
	cfg       *config.Config
	engine    *policy.Engine
	ledger    *ledgerclient.Client
	content   ContentStore
	sagas     *saga.Coordinator
	validator *validation.Validator
	audit     audit.Logger
	obs       *observability.Provider
	logger    *slog.Logger
}

// New assembles a server. obs may be nil when telemetry is disabled.
func New(
	cfg *config.Config,
	engine *policy.Engine,
	ledger *ledgerclient.Client,
	content ContentStore,
	sagas *saga.Coordinator,
	validator *validation.Validator,
	auditLog audit.Logger,
	obs *observability.Provider,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		engine:    engine,
		ledger:    ledger,
		content:   content,
		sagas:     sagas,
		validator: validator,
		audit:     auditLog,
		obs:       obs,
		logger:    logger,
	}
}

// Routes builds the full handler tree. The auth middleware is applied by the
// caller so tests can inject principals directly.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Lifecycle transitions, one handler each.
	mux.HandleFunc("POST /api/seed-batches", s.handleCreate)
	mux.HandleFunc("POST /api/seed-batches/{id}/submit", s.handleSubmit)
	mux.HandleFunc("POST /api/seed-batches/{id}/inspection", s.handleInspect)
	mux.HandleFunc("POST /api/seed-batches/{id}/evaluation", s.handleEvaluate)
	mux.HandleFunc("POST /api/seed-batches/{id}/certificate", s.handleIssue)
	mux.HandleFunc("POST /api/seed-batches/{id}/revocation", s.handleRevoke)
	mux.HandleFunc("POST /api/seed-batches/{id}/distribution", s.handleDistribute)

	// Reads.
	mux.HandleFunc("GET /api/seed-batches", s.handleList)
	mux.HandleFunc("GET /api/seed-batches/{id}", s.handleGet)
	mux.HandleFunc("GET /api/seed-batches/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/audit-logs", s.handleAuditLogs)

	// Saga registry.
	mux.HandleFunc("GET /api/sagas/{id}", s.handleGetSaga)
	mux.HandleFunc("GET /api/sagas", s.handleListFailedSagas)
	mux.HandleFunc("POST /api/sagas/{id}/retry", s.handleRetrySaga)

	// Health.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	return mux
}

// principal pulls the authenticated caller from the request context,
// answering 401 itself when there is none.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) *auth.Principal {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil || p == nil || p.ID == "" {
		api.WriteUnauthorized(w, "")
		return nil
	}
	return p
}

// identityOf translates the HTTP principal into the caller context the
// ledger contract re-checks.
func identityOf(p *auth.Principal) contract.Identity {
	return contract.Identity{
		UserID:   p.ID,
		Username: p.Username,
		Roles:    p.Roles,
	}
}

// authorize runs the policy engine and writes the 403 on denial. Denials
// never reach the saga layer: no saga id, no upload, nothing to compensate.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, p *auth.Principal, resource, action string, pctx policy.Context) bool {
	d := s.engine.Evaluate(p, resource, action, pctx)
	if d.Allow {
		return true
	}

	audit.Security(r.Context(), s.audit, "ACCESS_DENIED", resource, map[string]interface{}{
		"action":      action,
		"reason_code": d.ReasonCode,
		"request_id":  api.GetRequestID(r.Context()),
	})
	api.WriteForbidden(w, d.Reason)
	return false
}
