package contract

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekinian-dev/seed-chain-zta/pkg/batch"
	"github.com/codekinian-dev/seed-chain-zta/pkg/policy"
)

const (
	testCID      = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	producerUUID = "11111111-1111-1111-1111-111111111111"
	fieldUUID    = "22222222-2222-2222-2222-222222222222"
	chiefUUID    = "33333333-3333-3333-3333-333333333333"
	issuerUUID   = "44444444-4444-4444-4444-444444444444"
)

var (
	producerID = Identity{UserID: producerUUID, Username: "alice", Roles: []string{policy.RoleProducer}}
	fieldID    = Identity{UserID: fieldUUID, Username: "bob", Roles: []string{policy.RoleFieldInspector}}
	chiefID    = Identity{UserID: chiefUUID, Username: "carol", Roles: []string{policy.RoleChiefInspector}}
	issuerID   = Identity{UserID: issuerUUID, Username: "dave", Roles: []string{policy.RoleIssuer}}
	adminID    = Identity{UserID: "55555555-5555-5555-5555-555555555555", Roles: []string{policy.RoleAdmin}}
)

func newTestContract() *Contract {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	c := New(slog.Default())
	return c.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
}

func createBatch(t *testing.T, c *Contract, id string) *batch.Record {
	t.Helper()
	r, err := c.CreateSeedBatch(producerID, id, "IR64", "Rice", "2025-05-01",
		"SRC-12345", "West Java", "IUP-99001", "BD", producerUUID,
		"seed-source.pdf", testCID)
	require.NoError(t, err)
	return r
}

func TestCreateSeedBatch(t *testing.T) {
	c := newTestContract()

	r := createBatch(t, c, "BATCH-1")
	assert.Equal(t, batch.StatusRegistered, r.Status)
	assert.Equal(t, uint64(1), r.Version)
	assert.Equal(t, "White", r.LabelColor)
	assert.Equal(t, producerUUID, r.ProducerID)

	_, err := c.CreateSeedBatch(producerID, "BATCH-1", "IR64", "Rice", "2025-05-01",
		"SRC-12345", "West Java", "IUP-99001", "BD", producerUUID, "doc.pdf", testCID)
	require.Error(t, err)
	var ge *batch.GuardError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, batch.CodeAlreadyExists, ge.Code)
}

func TestCreateSeedBatchValidation(t *testing.T) {
	c := newTestContract()

	tests := []struct {
		name string
		call func() error
	}{
		{"missing variety", func() error {
			_, err := c.CreateSeedBatch(producerID, "B1", "", "Rice", "2025-05-01", "S", "O", "I", "BD", producerUUID, "d.pdf", testCID)
			return err
		}},
		{"bad date", func() error {
			_, err := c.CreateSeedBatch(producerID, "B1", "V", "Rice", "not-a-date", "S", "O", "I", "BD", producerUUID, "d.pdf", testCID)
			return err
		}},
		{"bad seed class", func() error {
			_, err := c.CreateSeedBatch(producerID, "B1", "V", "Rice", "2025-05-01", "S", "O", "I", "XX", producerUUID, "d.pdf", testCID)
			return err
		}},
		{"bad producer uuid", func() error {
			_, err := c.CreateSeedBatch(producerID, "B1", "V", "Rice", "2025-05-01", "S", "O", "I", "BD", "not-a-uuid", "d.pdf", testCID)
			return err
		}},
		{"bad cid", func() error {
			_, err := c.CreateSeedBatch(producerID, "B1", "V", "Rice", "2025-05-01", "S", "O", "I", "BD", producerUUID, "d.pdf", "garbage")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestRoleReCheck(t *testing.T) {
	c := newTestContract()

	_, err := c.CreateSeedBatch(fieldID, "B1", "V", "Rice", "2025-05-01", "S", "O", "I", "BD", producerUUID, "d.pdf", testCID)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))

	_, err = c.CreateSeedBatch(Identity{}, "B1", "V", "Rice", "2025-05-01", "S", "O", "I", "BD", producerUUID, "d.pdf", testCID)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
}

func TestLifecycleThroughContract(t *testing.T) {
	c := newTestContract()
	createBatch(t, c, "BATCH-1")

	r, err := c.SubmitCertification(producerID, "BATCH-1", "request.pdf", testCID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusSubmitted, r.Status)

	r, err = c.RecordInspection(fieldID, "BATCH-1", "Field conditions nominal, germination 92%", testCID, fieldUUID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusInspected, r.Status)

	r, err = c.EvaluateInspection(chiefID, "BATCH-1", "Inspection confirmed, all parameters within range", "APPROVE", chiefUUID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusEvaluated, r.Status)

	r, err = c.IssueCertificate(issuerID, "BATCH-1", "CERT-001", "12", "certificate.pdf", testCID, issuerUUID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusCertified, r.Status)
	require.NotNil(t, r.CertExpiryDate)

	r, err = c.DistributeSeed(producerID, "BATCH-1", "Bandung Distribution Center", "500.5")
	require.NoError(t, err)
	assert.Equal(t, batch.StatusDistributed, r.Status)
	assert.Equal(t, uint64(6), r.Version)

	ok, msg := c.Chain().Verify()
	assert.True(t, ok, msg)
	assert.Equal(t, 6, c.Chain().Length())
}

func TestDuplicateCertificateNumber(t *testing.T) {
	c := newTestContract()

	toEvaluated := func(id string) {
		createBatch(t, c, id)
		_, err := c.SubmitCertification(producerID, id, "req.pdf", testCID)
		require.NoError(t, err)
		_, err = c.RecordInspection(fieldID, id, "inspection result ok", testCID, fieldUUID)
		require.NoError(t, err)
		_, err = c.EvaluateInspection(chiefID, id, "evaluation approved here", "APPROVE", chiefUUID)
		require.NoError(t, err)
	}

	toEvaluated("B1")
	toEvaluated("B2")

	_, err := c.IssueCertificate(issuerID, "B1", "CERT-7", "12", "cert.pdf", testCID, issuerUUID)
	require.NoError(t, err)

	_, err = c.IssueCertificate(issuerID, "B2", "CERT-7", "12", "cert.pdf", testCID, issuerUUID)
	require.Error(t, err)
	var ge *batch.GuardError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, batch.CodeDuplicateCert, ge.Code)

	// Revocation frees the number.
	_, err = c.RevokeCertificate(issuerID, "B1", "issued against the wrong batch")
	require.NoError(t, err)
	_, err = c.IssueCertificate(issuerID, "B2", "CERT-7", "12", "cert.pdf", testCID, issuerUUID)
	require.NoError(t, err)
}

func TestRecordNotFound(t *testing.T) {
	c := newTestContract()

	_, err := c.SubmitCertification(producerID, "MISSING", "req.pdf", testCID)
	require.Error(t, err)
	var ge *batch.GuardError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, batch.CodeNotFound, ge.Code)

	_, err = c.QuerySeedBatch(producerID, "MISSING")
	assert.Error(t, err)
}

func TestQueriesAndOwnership(t *testing.T) {
	c := newTestContract()
	createBatch(t, c, "B1")
	createBatch(t, c, "B2")
	_, err := c.SubmitCertification(producerID, "B2", "req.pdf", testCID)
	require.NoError(t, err)

	all, err := c.QueryAllSeedBatches(fieldID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "B1", all[0].ID)

	registered, err := c.QuerySeedBatchesByStatus(fieldID, "REGISTERED")
	require.NoError(t, err)
	require.Len(t, registered, 1)
	assert.Equal(t, "B1", registered[0].ID)

	_, err = c.QuerySeedBatchesByStatus(fieldID, "NOT_A_STATUS")
	assert.True(t, IsValidation(err))

	mine, err := c.QuerySeedBatchesByProducer(producerID, producerUUID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	// A producer cannot query someone else's records.
	_, err = c.QuerySeedBatchesByProducer(producerID, fieldUUID)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
}

func TestReadsAreImmutableCopies(t *testing.T) {
	c := newTestContract()
	createBatch(t, c, "B1")

	r, err := c.QuerySeedBatch(producerID, "B1")
	require.NoError(t, err)
	r.Status = batch.StatusCertified
	r.Documents[0].Name = "tampered"

	again, err := c.QuerySeedBatch(producerID, "B1")
	require.NoError(t, err)
	assert.Equal(t, batch.StatusRegistered, again.Status)
	assert.NotEqual(t, "tampered", again.Documents[0].Name)
}

func TestAuditLog(t *testing.T) {
	c := newTestContract()
	createBatch(t, c, "B1")
	_, err := c.QuerySeedBatch(producerID, "B1")
	require.NoError(t, err)

	// Admin only.
	_, err = c.QueryAuditLogs(producerID, time.Time{}, time.Time{}, "")
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))

	entries, err := c.QueryAuditLogs(adminID, time.Time{}, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, entries, 2) // the write and the read

	creates, err := c.QueryAuditLogs(adminID, time.Time{}, time.Time{}, batch.TransitionRegister)
	require.NoError(t, err)
	require.Len(t, creates, 1)
	assert.Equal(t, "B1", creates[0].ResourceID)
	assert.Equal(t, "SUCCESS", creates[0].Status)
}

func TestGetHistory(t *testing.T) {
	c := newTestContract()
	createBatch(t, c, "B1")
	_, err := c.SubmitCertification(producerID, "B1", "req.pdf", testCID)
	require.NoError(t, err)

	history, err := c.GetHistory(producerID, "B1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, batch.TransitionRegister, history[0].Action)
	assert.Equal(t, batch.TransitionSubmit, history[1].Action)
	assert.NotEmpty(t, history[1].Data)

	_, err = c.GetHistory(producerID, "MISSING")
	assert.Error(t, err)
}

func TestSanitization(t *testing.T) {
	c := newTestContract()

	r, err := c.CreateSeedBatch(producerID, "B1", `IR64<script>"x"</script>`, "Rice", "2025-05-01",
		"SRC-1", "Origin", "IUP-1", "BD", producerUUID, "doc.pdf", testCID)
	require.NoError(t, err)
	assert.Equal(t, "IR64scriptx/script", r.VarietyName)
}

func TestInvokeDispatch(t *testing.T) {
	c := newTestContract()

	raw, err := c.Invoke(producerID, FnCreateSeedBatch,
		"B1", "IR64", "Rice", "2025-05-01", "SRC-1", "Origin", "IUP-1", "BD", producerUUID, "doc.pdf", testCID)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"current_status":"REGISTERED"`)

	_, err = c.Invoke(producerID, FnCreateSeedBatch, "too", "few")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = c.Invoke(producerID, "mintTokens", "B1")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	raw, err = c.Invoke(producerID, FnQuerySeedBatch, "B1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"B1"`)

	assert.True(t, IsQuery(FnQuerySeedBatch))
	assert.False(t, IsQuery(FnCreateSeedBatch))
}
