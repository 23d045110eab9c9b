package contract

import (
	"encoding/json"
	"fmt"
	"time"
)

// Function names of the wire contract, as submitted by clients.
const (
	FnCreateSeedBatch     = "createSeedBatch"
	FnSubmitCertification = "submitCertification"
	FnRecordInspection    = "recordInspection"
	FnEvaluateInspection  = "evaluateInspection"
	FnIssueCertificate    = "issueCertificate"
	FnRevokeCertificate   = "revokeCertificate"
	FnDistributeSeed      = "distributeSeed"
	FnQuerySeedBatch      = "querySeedBatch"
	FnQueryAllSeedBatches = "queryAllSeedBatches"
	FnQueryByStatus       = "querySeedBatchesByStatus"
	FnQueryByProducer     = "querySeedBatchesByProducer"
	FnQueryAuditLogs      = "queryAuditLogs"
	FnGetHistory          = "getHistory"
)

// IsQuery reports whether fn is a read-only function.
func IsQuery(fn string) bool {
	switch fn {
	case FnQuerySeedBatch, FnQueryAllSeedBatches, FnQueryByStatus,
		FnQueryByProducer, FnQueryAuditLogs, FnGetHistory:
		return true
	}
	return false
}

func argCount(fn string, args []string, want int) error {
	if len(args) != want {
		return &ValidationError{Field: "args", Message: fmt.Sprintf("%s expects %d arguments, got %d", fn, want, len(args))}
	}
	return nil
}

// Invoke dispatches one contract function by name and returns the result as
// JSON, the same shape a remote peer would return. Unknown functions are a
// validation error.
func (c *Contract) Invoke(caller Identity, fn string, args ...string) ([]byte, error) {
	var (
		result any
		err    error
	)

	switch fn {
	case FnCreateSeedBatch:
		if err = argCount(fn, args, 11); err != nil {
			return nil, err
		}
		result, err = c.CreateSeedBatch(caller, args[0], args[1], args[2], args[3], args[4], args[5], args[6], args[7], args[8], args[9], args[10])

	case FnSubmitCertification:
		if err = argCount(fn, args, 3); err != nil {
			return nil, err
		}
		result, err = c.SubmitCertification(caller, args[0], args[1], args[2])

	case FnRecordInspection:
		if err = argCount(fn, args, 4); err != nil {
			return nil, err
		}
		result, err = c.RecordInspection(caller, args[0], args[1], args[2], args[3])

	case FnEvaluateInspection:
		if err = argCount(fn, args, 4); err != nil {
			return nil, err
		}
		result, err = c.EvaluateInspection(caller, args[0], args[1], args[2], args[3])

	case FnIssueCertificate:
		if err = argCount(fn, args, 6); err != nil {
			return nil, err
		}
		result, err = c.IssueCertificate(caller, args[0], args[1], args[2], args[3], args[4], args[5])

	case FnRevokeCertificate:
		if err = argCount(fn, args, 2); err != nil {
			return nil, err
		}
		result, err = c.RevokeCertificate(caller, args[0], args[1])

	case FnDistributeSeed:
		if err = argCount(fn, args, 3); err != nil {
			return nil, err
		}
		result, err = c.DistributeSeed(caller, args[0], args[1], args[2])

	case FnQuerySeedBatch:
		if err = argCount(fn, args, 1); err != nil {
			return nil, err
		}
		result, err = c.QuerySeedBatch(caller, args[0])

	case FnQueryAllSeedBatches:
		if err = argCount(fn, args, 0); err != nil {
			return nil, err
		}
		result, err = c.QueryAllSeedBatches(caller)

	case FnQueryByStatus:
		if err = argCount(fn, args, 1); err != nil {
			return nil, err
		}
		result, err = c.QuerySeedBatchesByStatus(caller, args[0])

	case FnQueryByProducer:
		if err = argCount(fn, args, 1); err != nil {
			return nil, err
		}
		result, err = c.QuerySeedBatchesByProducer(caller, args[0])

	case FnQueryAuditLogs:
		if err = argCount(fn, args, 3); err != nil {
			return nil, err
		}
		var start, end time.Time
		if start, err = parseOptionalTime("startTime", args[0]); err != nil {
			return nil, err
		}
		if end, err = parseOptionalTime("endTime", args[1]); err != nil {
			return nil, err
		}
		result, err = c.QueryAuditLogs(caller, start, end, args[2])

	case FnGetHistory:
		if err = argCount(fn, args, 1); err != nil {
			return nil, err
		}
		result, err = c.GetHistory(caller, args[0])

	default:
		return nil, &ValidationError{Field: "function", Message: fmt.Sprintf("unknown function %s", fn)}
	}

	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func parseOptionalTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Message: fmt.Sprintf("field %q must be an RFC 3339 timestamp", field)}
	}
	return t, nil
}
