// Package policy implements the zero-trust policy engine.
//
// Every evaluation is fail-closed: any missing or malformed input, unknown
// resource or action, or role mismatch yields a deny with a specific reason.
// Checks run in a fixed priority order so results are deterministic and
// reproducible: input validity, time window, resource existence, action
// existence, role match, ownership.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codekinian-dev/seed-chain-zta/pkg/auth"
)

// Reason codes attached to decisions.
const (
	CodeInvalidPrincipal  = "INVALID_PRINCIPAL"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeTimeRestriction   = "TIME_RESTRICTION"
	CodeUnknownResource   = "UNKNOWN_RESOURCE"
	CodeUnknownAction     = "UNKNOWN_ACTION"
	CodeInsufficientRole  = "INSUFFICIENT_PERMISSIONS"
	CodeOwnershipViolated = "OWNERSHIP_VIOLATION"
	CodeEvaluationError   = "EVALUATION_ERROR"
	CodeAccessGranted     = "ACCESS_GRANTED"
)

// Decision is the result of one policy evaluation.
type Decision struct {
	Allow       bool      `json:"allow"`
	Reason      string    `json:"reason"`
	ReasonCode  string    `json:"reason_code"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Principal   string    `json:"principal"`
	MatchedRole string    `json:"matched_role,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Context carries optional attributes for an evaluation.
type Context struct {
	// OwnerOnly requires OwnerID to equal the principal's id.
	OwnerOnly bool
	OwnerID   string

	// Request attributes, recorded for the audit trail only.
	IP     string
	Method string
	Path   string
}

// Request names one (resource, action) pair for bulk evaluation.
type Request struct {
	Resource string
	Action   string
	Context  Context
}

// Engine evaluates access requests against a static rule table.
//
// The table is read extremely often and written rarely; reads are safe for
// concurrent use and administrative writes take the engine's write lock.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string]map[string][]string
	window Window
	clock  func() time.Time
	logger *slog.Logger
}

// NewEngine builds an engine from a policy document.
func NewEngine(doc *Document) *Engine {
	if doc == nil {
		doc = DefaultDocument()
	}
	rules := make(map[string]map[string][]string, len(doc.Policies))
	for resource, actions := range doc.Policies {
		rules[resource] = make(map[string][]string, len(actions))
		for action, roles := range actions {
			rules[resource][action] = append([]string(nil), roles...)
		}
	}
	return &Engine{
		rules:  rules,
		window: doc.RestrictedHours,
		clock:  time.Now,
		logger: slog.Default(),
	}
}

// WithClock overrides the wall clock, for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithLogger overrides the decision logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	if l != nil {
		e.logger = l
	}
	return e
}

// Evaluate runs one access evaluation. It never panics and never returns an
// error: unexpected internal failures are converted to a deny decision with
// an EVALUATION_ERROR reason so default-deny holds under all circumstances.
func (e *Engine) Evaluate(principal *auth.Principal, resource, action string, ctx Context) (decision Decision) {
	decision = Decision{
		Resource:  resource,
		Action:    action,
		Timestamp: e.clock(),
	}
	if principal != nil {
		decision.Principal = principal.ID
	}

	defer func() {
		if r := recover(); r != nil {
			decision.Allow = false
			decision.ReasonCode = CodeEvaluationError
			decision.Reason = fmt.Sprintf("Policy evaluation error: %v", r)
			e.logDecision(decision)
		}
	}()

	// 1. Input validity
	if principal == nil || principal.ID == "" || principal.Roles == nil {
		decision.ReasonCode = CodeInvalidPrincipal
		decision.Reason = "Invalid principal or missing roles"
		e.logDecision(decision)
		return decision
	}
	if resource == "" || action == "" {
		decision.ReasonCode = CodeInvalidRequest
		decision.Reason = "Resource and action are required"
		e.logDecision(decision)
		return decision
	}

	// 2. Time window: a blanket circuit breaker evaluated before any
	// resource or role check.
	now := e.clock()
	if e.window.Contains(now.Hour()) {
		decision.ReasonCode = CodeTimeRestriction
		decision.Reason = fmt.Sprintf(
			"Access denied: system access is restricted between %02d:00 and %02d:00 (current time %s)",
			e.window.Start, e.window.End, now.Format("15:04"))
		e.logDecision(decision)
		return decision
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	// 3. Resource existence
	actions, ok := e.rules[resource]
	if !ok {
		decision.ReasonCode = CodeUnknownResource
		decision.Reason = fmt.Sprintf("Unknown resource: %s", resource)
		e.logDecision(decision)
		return decision
	}

	// 4. Action existence
	allowedRoles, ok := actions[action]
	if !ok {
		decision.ReasonCode = CodeUnknownAction
		decision.Reason = fmt.Sprintf("Action '%s' not allowed on resource '%s'", action, resource)
		e.logDecision(decision)
		return decision
	}

	// 5. Role match
	matched := ""
	for _, role := range principal.Roles {
		for _, allowed := range allowedRoles {
			if role == allowed {
				matched = role
				break
			}
		}
		if matched != "" {
			break
		}
	}
	if matched == "" {
		decision.ReasonCode = CodeInsufficientRole
		decision.Reason = fmt.Sprintf("Principal lacks required role. Required: [%s], held: [%s]",
			strings.Join(allowedRoles, ", "), strings.Join(principal.Roles, ", "))
		e.logDecision(decision)
		return decision
	}

	// 6. Ownership
	if ctx.OwnerOnly && ctx.OwnerID != principal.ID {
		decision.ReasonCode = CodeOwnershipViolated
		decision.Reason = "Principal is not the owner of this resource"
		e.logDecision(decision)
		return decision
	}

	decision.Allow = true
	decision.ReasonCode = CodeAccessGranted
	decision.Reason = "Access granted"
	decision.MatchedRole = matched
	e.logDecision(decision)
	return decision
}

// EvaluateBulk applies the same principal to N (resource, action) pairs.
func (e *Engine) EvaluateBulk(principal *auth.Principal, requests []Request) []Decision {
	decisions := make([]Decision, 0, len(requests))
	for _, req := range requests {
		decisions = append(decisions, e.Evaluate(principal, req.Resource, req.Action, req.Context))
	}
	return decisions
}

// HasAnyRole reports whether the principal holds at least one of the roles.
func (e *Engine) HasAnyRole(principal *auth.Principal, roles []string) bool {
	if principal == nil || principal.Roles == nil {
		return false
	}
	for _, r := range roles {
		if principal.HasRole(r) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether the principal holds every one of the roles.
func (e *Engine) HasAllRoles(principal *auth.Principal, roles []string) bool {
	if principal == nil || principal.Roles == nil {
		return false
	}
	for _, r := range roles {
		if !principal.HasRole(r) {
			return false
		}
	}
	return true
}

// AddRule adds or replaces a rule. Administrative, rare; callers serialize
// policy administration externally.
func (e *Engine) AddRule(resource, action string, roles []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rules[resource] == nil {
		e.rules[resource] = make(map[string][]string)
	}
	e.rules[resource][action] = append([]string(nil), roles...)
	e.logger.Info("policy rule added", "resource", resource, "action", action, "roles", roles)
}

// RemoveRule deletes a rule if present.
func (e *Engine) RemoveRule(resource, action string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if actions, ok := e.rules[resource]; ok {
		if _, ok := actions[action]; ok {
			delete(actions, action)
			e.logger.Info("policy rule removed", "resource", resource, "action", action)
		}
	}
}

// Rules returns the actions and allowed roles for a resource. The result is a
// copy; mutating it does not affect the engine.
func (e *Engine) Rules(resource string) map[string][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	actions, ok := e.rules[resource]
	if !ok {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(actions))
	for action, roles := range actions {
		out[action] = append([]string(nil), roles...)
	}
	return out
}

// Resources lists the known resource names, sorted.
func (e *Engine) Resources() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.rules))
	for r := range e.rules {
		names = append(names, r)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) logDecision(d Decision) {
	level := slog.LevelInfo
	if !d.Allow {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "policy decision",
		"allow", d.Allow,
		"code", d.ReasonCode,
		"principal", d.Principal,
		"resource", d.Resource,
		"action", d.Action,
		"reason", d.Reason,
		"matched_role", d.MatchedRole,
	)
}
