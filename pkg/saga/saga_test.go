package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUnpinner struct {
	mu     sync.Mutex
	calls  []string
	fail   bool
	reject bool
}

func (f *fakeUnpinner) Unpin(_ context.Context, cid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cid)
	if f.fail {
		return false, errors.New("cluster unreachable")
	}
	if f.reject {
		return false, nil
	}
	return true, nil
}

func (f *fakeUnpinner) unpinned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestBeginAlwaysMintsFreshSaga(t *testing.T) {
	c := NewCoordinator(nil, nil)

	a := c.Begin("CREATE_SEED_BATCH", map[string]any{"record_id": "B1"})
	b := c.Begin("CREATE_SEED_BATCH", map[string]any{"record_id": "B1"})
	assert.NotEqual(t, a, b)

	s, ok := c.Get(a)
	require.True(t, ok)
	assert.Equal(t, StatusPending, s.Status)
	assert.Empty(t, s.Steps)
}

func TestMarkSuccess(t *testing.T) {
	c := NewCoordinator(nil, nil)

	id := c.Begin("SUBMIT_CERTIFICATION", nil)
	c.RecordStep(id, StepContentUpload, StepStarted, nil)
	c.RecordStep(id, StepContentUpload, StepCompleted, map[string]any{"cid": "QmA"})
	c.RecordStep(id, StepLedgerSubmit, StepCompleted, nil)
	c.MarkSuccess(id, map[string]any{"record_id": "B1"})

	s, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, s.Status)
	require.NotNil(t, s.CompletedAt)
	assert.Len(t, s.Steps, 3)
	assert.Nil(t, s.Compensation)
}

// A failure after both steps completed unpins the upload exactly once and
// records the ledger step as audit-only.
func TestMarkFailureCompensatesInReverse(t *testing.T) {
	unpinner := &fakeUnpinner{}
	c := NewCoordinator(unpinner, nil)

	id := c.Begin("ISSUE_CERTIFICATE", nil)
	c.RecordStep(id, StepContentUpload, StepCompleted, map[string]any{"cid": "QmCert"})
	c.RecordStep(id, StepLedgerSubmit, StepCompleted, nil)
	c.MarkFailure(context.Background(), id, errors.New("commit timed out"))

	assert.Equal(t, []string{"QmCert"}, unpinner.unpinned())

	s, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "commit timed out", s.Error)
	require.NotNil(t, s.Compensation)
	require.Len(t, s.Compensation.Steps, 2)

	// Reverse order: ledger step first, then the upload.
	assert.Equal(t, StepLedgerSubmit, s.Compensation.Steps[0].Step)
	assert.Equal(t, ActionLogOnly, s.Compensation.Steps[0].Action)
	assert.Equal(t, "LOGGED", s.Compensation.Steps[0].Status)

	assert.Equal(t, StepContentUpload, s.Compensation.Steps[1].Step)
	assert.Equal(t, ActionUnpin, s.Compensation.Steps[1].Action)
	assert.Equal(t, "QmCert", s.Compensation.Steps[1].CID)
	assert.Equal(t, "SUCCESS", s.Compensation.Steps[1].Status)
}

func TestMarkFailureSkipsIncompleteSteps(t *testing.T) {
	unpinner := &fakeUnpinner{}
	c := NewCoordinator(unpinner, nil)

	id := c.Begin("CREATE_SEED_BATCH", nil)
	c.RecordStep(id, StepContentUpload, StepStarted, nil)
	c.RecordStep(id, StepContentUpload, StepFailed, map[string]any{"error": "upload refused"})
	c.MarkFailure(context.Background(), id, errors.New("upload refused"))

	assert.Empty(t, unpinner.unpinned())

	s, _ := c.Get(id)
	require.NotNil(t, s.Compensation)
	assert.Empty(t, s.Compensation.Steps)
}

func TestCompensationUnpinFailureIsRecordedNotEscalated(t *testing.T) {
	unpinner := &fakeUnpinner{fail: true}
	c := NewCoordinator(unpinner, nil)

	id := c.Begin("CREATE_SEED_BATCH", nil)
	c.RecordStep(id, StepContentUpload, StepCompleted, map[string]any{"cid": "QmX"})
	c.MarkFailure(context.Background(), id, errors.New("ledger down"))

	s, _ := c.Get(id)
	require.NotNil(t, s.Compensation)
	require.Len(t, s.Compensation.Steps, 1)
	assert.Equal(t, "FAILED", s.Compensation.Steps[0].Status)
	assert.Contains(t, s.Compensation.Steps[0].Error, "cluster unreachable")
}

func TestFailedSagasAndRetry(t *testing.T) {
	c := NewCoordinator(&fakeUnpinner{}, nil)

	id := c.Begin("DISTRIBUTE_SEED", map[string]any{"record_id": "B9"})
	c.MarkFailure(context.Background(), id, errors.New("boom"))

	failed := c.FailedSagas()
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)

	retryID, err := c.Retry(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, retryID)

	retry, ok := c.Get(retryID)
	require.True(t, ok)
	assert.Equal(t, "DISTRIBUTE_SEED", retry.Type)
	assert.Equal(t, id, retry.Metadata["retry_of"])
	assert.Equal(t, "B9", retry.Metadata["record_id"])

	_, err = c.Retry("no-such-saga")
	assert.Error(t, err)

	// Retrying must not mutate the failed saga's own metadata.
	orig, _ := c.Get(id)
	_, hasRetryOf := orig.Metadata["retry_of"]
	assert.False(t, hasRetryOf)
}

func TestSweep(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	now := base
	c := NewCoordinator(nil, nil).WithClock(func() time.Time { return now })

	old := c.Begin("CREATE_SEED_BATCH", nil)
	c.MarkFailure(context.Background(), old, errors.New("x"))

	now = base.Add(23 * time.Hour)
	fresh := c.Begin("CREATE_SEED_BATCH", nil)

	removed := c.Sweep(base.Add(25 * time.Hour))
	assert.Equal(t, 1, removed)

	_, ok := c.Get(old)
	assert.False(t, ok)
	_, ok = c.Get(fresh)
	assert.True(t, ok)
	assert.Empty(t, c.FailedSagas())

	assert.Equal(t, 0, c.Sweep(base.Add(25*time.Hour)))
}

func TestGetReturnsCopy(t *testing.T) {
	c := NewCoordinator(nil, nil)
	id := c.Begin("CREATE_SEED_BATCH", nil)
	c.RecordStep(id, StepContentUpload, StepCompleted, nil)

	s, _ := c.Get(id)
	s.Steps[0].Name = "tampered"
	s.Status = StatusSuccess

	again, _ := c.Get(id)
	assert.Equal(t, StepContentUpload, again.Steps[0].Name)
	assert.Equal(t, StatusPending, again.Status)
}
