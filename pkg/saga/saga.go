// Package saga coordinates the two-step write flow: content upload, then
// ledger submit. The ledger is append-only, so compensation is asymmetric:
// uploads are unpinned best-effort, ledger submissions are only recorded for
// audit.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the overall saga state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// StepStatus is the state of one step.
type StepStatus string

const (
	StepStarted   StepStatus = "STARTED"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
)

// Step names of the write flow.
const (
	StepContentUpload = "IPFS_UPLOAD"
	StepLedgerSubmit  = "BLOCKCHAIN_SUBMIT"
)

// Compensation actions.
const (
	ActionUnpin   = "UNPIN_FILE"
	ActionLogOnly = "LOG_ONLY"
)

// RetentionPeriod is how long completed sagas are kept before Sweep removes
// them.
const RetentionPeriod = 24 * time.Hour

// Step is one recorded step of a saga.
type Step struct {
	Name      string         `json:"step"`
	Status    StepStatus     `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CompensationStep records what was done to undo one completed step.
type CompensationStep struct {
	Step   string `json:"step"`
	Action string `json:"action"`
	CID    string `json:"cid,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Compensation is the persisted rollback record of a failed saga.
type Compensation struct {
	Steps       []CompensationStep `json:"steps"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Saga is one coordinated write.
type Saga struct {
	ID           string         `json:"saga_id"`
	Type         string         `json:"type"`
	Status       Status         `json:"status"`
	Steps        []Step         `json:"steps"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Compensation *Compensation  `json:"rollback,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Unpinner undoes a content upload. Compensation is best-effort: a false
// return or an error is recorded, never escalated.
type Unpinner interface {
	Unpin(ctx context.Context, cid string) (bool, error)
}

// Coordinator owns the saga registry. The registry is safe for concurrent
// use; each saga's step list is owned by the one request driving it.
type Coordinator struct {
	mu       sync.RWMutex
	sagas    map[string]*Saga
	failed   map[string]*Saga
	unpinner Unpinner
	clock    func() time.Time
	logger   *slog.Logger
}

// NewCoordinator creates an empty registry. unpinner may be nil, in which
// case upload compensation is recorded as failed.
func NewCoordinator(unpinner Unpinner, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sagas:    make(map[string]*Saga),
		failed:   make(map[string]*Saga),
		unpinner: unpinner,
		clock:    time.Now,
		logger:   logger,
	}
}

// WithClock overrides the clock for testing.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// Begin registers a new saga and returns its id. Every call mints a fresh
// saga; deduplication is the caller's concern.
func (c *Coordinator) Begin(sagaType string, metadata map[string]any) string {
	now := c.clock()
	s := &Saga{
		ID:        uuid.NewString(),
		Type:      sagaType,
		Status:    StatusPending,
		Steps:     make([]Step, 0, 2),
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	c.mu.Lock()
	c.sagas[s.ID] = s
	c.mu.Unlock()

	c.logger.Info("saga created", "saga_id", s.ID, "type", sagaType)
	return s.ID
}

// RecordStep appends a step entry to a saga. Unknown ids are logged and
// dropped, not errors: a lost saga must never fail the request it traces.
func (c *Coordinator) RecordStep(id, name string, status StepStatus, data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sagas[id]
	if !ok {
		c.logger.Warn("saga not found", "saga_id", id)
		return
	}

	now := c.clock()
	s.Steps = append(s.Steps, Step{Name: name, Status: status, Data: data, Timestamp: now})
	s.UpdatedAt = now

	c.logger.Info("saga step", "saga_id", id, "step", name, "status", status)
}

// MarkSuccess finalizes a saga as SUCCESS.
func (c *Coordinator) MarkSuccess(id string, result map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sagas[id]
	if !ok {
		c.logger.Warn("saga not found", "saga_id", id)
		return
	}

	now := c.clock()
	s.Status = StatusSuccess
	s.Result = result
	s.CompletedAt = &now
	s.UpdatedAt = now

	c.logger.Info("saga completed", "saga_id", id)
}

// MarkFailure finalizes a saga as FAILED and compensates its completed steps
// in reverse order. Content uploads are unpinned best-effort; ledger
// submissions cannot be undone and are recorded for audit only. The
// compensation record is persisted on the saga.
func (c *Coordinator) MarkFailure(ctx context.Context, id string, cause error) {
	c.mu.Lock()
	s, ok := c.sagas[id]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("saga not found", "saga_id", id)
		return
	}

	now := c.clock()
	s.Status = StatusFailed
	if cause != nil {
		s.Error = cause.Error()
	}
	s.CompletedAt = &now
	s.UpdatedAt = now
	c.failed[id] = s

	// Snapshot under the lock; compensation does network I/O.
	steps := make([]Step, len(s.Steps))
	copy(steps, s.Steps)
	c.mu.Unlock()

	c.logger.Warn("saga failed, starting compensation", "saga_id", id, "error", s.Error)

	comp := &Compensation{Steps: c.compensate(ctx, id, steps)}
	comp.CompletedAt = c.clock()

	c.mu.Lock()
	s.Compensation = comp
	s.UpdatedAt = comp.CompletedAt
	c.mu.Unlock()

	c.logger.Warn("saga compensation completed", "saga_id", id, "steps", len(comp.Steps))
}

func (c *Coordinator) compensate(ctx context.Context, id string, steps []Step) []CompensationStep {
	out := make([]CompensationStep, 0, len(steps))

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.Status != StepCompleted {
			continue
		}

		switch step.Name {
		case StepContentUpload:
			cid, _ := step.Data["cid"].(string)
			if cid == "" {
				continue
			}
			out = append(out, c.unpin(ctx, id, cid))

		case StepLedgerSubmit:
			c.logger.Warn("ledger submission cannot be rolled back, recorded for audit", "saga_id", id)
			out = append(out, CompensationStep{Step: StepLedgerSubmit, Action: ActionLogOnly, Status: "LOGGED"})
		}
	}

	return out
}

func (c *Coordinator) unpin(ctx context.Context, id, cid string) CompensationStep {
	comp := CompensationStep{Step: StepContentUpload, Action: ActionUnpin, CID: cid}

	if c.unpinner == nil {
		comp.Status = "FAILED"
		comp.Error = "no unpinner configured"
		return comp
	}

	c.logger.Info("unpinning uploaded content", "saga_id", id, "cid", cid)
	ok, err := c.unpinner.Unpin(ctx, cid)
	switch {
	case err != nil:
		c.logger.Error("compensation unpin failed", "saga_id", id, "cid", cid, "error", err)
		comp.Status = "FAILED"
		comp.Error = err.Error()
	case !ok:
		comp.Status = "FAILED"
		comp.Error = "unpin rejected"
	default:
		comp.Status = "SUCCESS"
	}
	return comp
}

// Get returns a copy of a saga.
func (c *Coordinator) Get(id string) (*Saga, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sagas[id]
	if !ok {
		return nil, false
	}
	return s.snapshot(), true
}

// FailedSagas returns copies of every failed saga, for the retry endpoint.
func (c *Coordinator) FailedSagas() []*Saga {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Saga, 0, len(c.failed))
	for _, s := range c.failed {
		out = append(out, s.snapshot())
	}
	return out
}

// Retry mints a fresh saga carrying the failed saga's type and metadata plus
// a retry_of marker. The failed saga itself is left untouched.
func (c *Coordinator) Retry(id string) (string, error) {
	c.mu.RLock()
	s, ok := c.failed[id]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("failed saga %s not found", id)
	}

	metadata := make(map[string]any, len(s.Metadata)+1)
	for k, v := range s.Metadata {
		metadata[k] = v
	}
	metadata["retry_of"] = id

	c.logger.Info("retrying failed saga", "saga_id", id)
	return c.Begin(s.Type, metadata), nil
}

// Sweep removes sagas older than the retention period and returns how many
// were removed. Driven by an external ticker.
func (c *Coordinator) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, s := range c.sagas {
		if now.Sub(s.CreatedAt) > RetentionPeriod {
			delete(c.sagas, id)
			delete(c.failed, id)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Info("swept expired sagas", "removed", removed)
	}
	return removed
}

func (s *Saga) snapshot() *Saga {
	out := *s
	out.Steps = make([]Step, len(s.Steps))
	copy(out.Steps, s.Steps)
	return &out
}
