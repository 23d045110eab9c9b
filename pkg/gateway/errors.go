package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/codekinian-dev/seed-chain-zta/pkg/api"
	"github.com/codekinian-dev/seed-chain-zta/pkg/batch"
	"github.com/codekinian-dev/seed-chain-zta/pkg/contract"
)

// writeLedgerError maps a contract failure onto the HTTP taxonomy:
// validation 400, authorization 403, missing record 404, state guard 409,
// anything infrastructural 502 with the saga id as correlation id.
//
// The in-process transport surfaces typed errors; the HTTP transport only
// carries the message text, so the type checks fall through to message
// heuristics.
func writeLedgerError(w http.ResponseWriter, sagaID string, err error) {
	var ge *batch.GuardError
	if errors.As(err, &ge) {
		if ge.Code == batch.CodeNotFound {
			api.WriteNotFound(w, ge.Message)
			return
		}
		api.WriteConflict(w, ge.Message)
		return
	}
	if contract.IsValidation(err) {
		api.WriteBadRequest(w, err.Error())
		return
	}
	if contract.IsAccessDenied(err) {
		api.WriteForbidden(w, err.Error())
		return
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "does not exist") || strings.Contains(lower, "not found"):
		api.WriteNotFound(w, msg)
	case strings.Contains(lower, "access denied") || strings.Contains(lower, "requires role"):
		api.WriteForbidden(w, msg)
	case strings.Contains(lower, "status must be") ||
		strings.Contains(lower, "already") ||
		strings.Contains(lower, "conflict of interest") ||
		strings.Contains(lower, "expired"):
		api.WriteConflict(w, msg)
	case strings.Contains(lower, "must be") || strings.Contains(lower, "is required") || strings.Contains(lower, "invalid"):
		api.WriteBadRequest(w, msg)
	default:
		if sagaID == "" {
			api.WriteError(w, http.StatusBadGateway, "Ledger Unavailable",
				"The ledger did not answer the query. Please try again later.")
			return
		}
		api.WriteOperationFailed(w, sagaID)
	}
}

// isDomainError reports whether the failure is a business rejection rather
// than an infrastructure fault. Domain rejections mean the ledger answered;
// there is nothing transient to retry.
func isDomainError(err error) bool {
	var ge *batch.GuardError
	if errors.As(err, &ge) || contract.IsValidation(err) || contract.IsAccessDenied(err) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{
		"does not exist", "not found", "access denied", "requires role",
		"status must be", "already", "conflict of interest", "expired",
		"must be", "is required", "invalid",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
