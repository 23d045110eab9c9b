package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

func validCreateBody() map[string]any {
	return map[string]any{
		"varietyName":      "IR64",
		"commodity":        "Rice",
		"harvestDate":      "2025-05-01",
		"seedSourceNumber": "SRC-12345",
		"origin":           "West Java",
		"iupNumber":        "IUP-99001",
		"seedClass":        "BD",
	}
}

func TestCreateSeedBatchSchema(t *testing.T) {
	v := newValidator(t)

	require.NoError(t, v.Validate(OpCreateSeedBatch, validCreateBody()))

	tests := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"missing variety", func(b map[string]any) { delete(b, "varietyName") }, "body"},
		{"variety too short", func(b map[string]any) { b["varietyName"] = "x" }, "varietyName"},
		{"bad seed class", func(b map[string]any) { b["seedClass"] = "ZZ" }, "seedClass"},
		{"iup too short", func(b map[string]any) { b["iupNumber"] = "ab" }, "iupNumber"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validCreateBody()
			tt.mutate(body)

			err := v.Validate(OpCreateSeedBatch, body)
			require.Error(t, err)
			var verr *Error
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Fields)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestSubmitCertificationAllowsEmptyBody(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.Validate(OpSubmitCertification, nil))
	assert.NoError(t, v.Validate(OpSubmitCertification, map[string]any{}))
}

func TestEvaluateInspectionSchema(t *testing.T) {
	v := newValidator(t)

	require.NoError(t, v.Validate(OpEvaluateInspection, map[string]any{
		"approvalStatus": "REJECT",
		"evaluationNote": "germination rate below threshold",
	}))

	err := v.Validate(OpEvaluateInspection, map[string]any{
		"approvalStatus": "MAYBE",
		"evaluationNote": "too short?",
	})
	require.Error(t, err)

	err = v.Validate(OpEvaluateInspection, map[string]any{
		"approvalStatus": "APPROVE",
		"evaluationNote": "short",
	})
	require.Error(t, err)
}

func TestIssueCertificateSchema(t *testing.T) {
	v := newValidator(t)

	require.NoError(t, v.Validate(OpIssueCertificate, map[string]any{
		"certificateNumber": "CERT-2025-001",
		"expiryMonths":      12,
	}))

	for _, months := range []any{0, 121, "12", 12.5} {
		err := v.Validate(OpIssueCertificate, map[string]any{
			"certificateNumber": "CERT-2025-001",
			"expiryMonths":      months,
		})
		assert.Error(t, err, "months=%v", months)
	}
}

func TestDistributeSeedSchema(t *testing.T) {
	v := newValidator(t)

	require.NoError(t, v.Validate(OpDistributeSeed, map[string]any{
		"distributionLocation": "Bandung Distribution Center",
		"quantity":             500.5,
	}))

	err := v.Validate(OpDistributeSeed, map[string]any{
		"distributionLocation": "Bandung Distribution Center",
		"quantity":             0,
	})
	require.Error(t, err)

	err = v.Validate(OpDistributeSeed, map[string]any{
		"distributionLocation": "near",
		"quantity":             10,
	})
	require.Error(t, err)
}

func TestRevokeCertificateSchema(t *testing.T) {
	v := newValidator(t)

	require.NoError(t, v.Validate(OpRevokeCertificate, map[string]any{
		"reason": "issued against the wrong batch",
	}))
	assert.Error(t, v.Validate(OpRevokeCertificate, map[string]any{"reason": "no"}))
	assert.Error(t, v.Validate(OpRevokeCertificate, map[string]any{}))
}

func TestUnknownOperationFailsClosed(t *testing.T) {
	v := newValidator(t)
	assert.Error(t, v.Validate("mint_tokens", map[string]any{}))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("BATCH-2025-001"))
	assert.Error(t, ValidateID("ab"))
	assert.Error(t, ValidateID(""))
}
