package batch

import (
	"errors"
	"fmt"
)

// GuardError is a state-conflict error: a transition precondition that does
// not hold. Guard violations are terminal for the call, never retried, and
// surfaced to the caller with the precise precondition that failed.
type GuardError struct {
	Code    string
	Message string
}

func (e *GuardError) Error() string { return e.Message }

// Guard error codes.
const (
	CodeWrongStatus        = "WRONG_STATUS"
	CodeDuplicateInspector = "DUPLICATE_INSPECTOR"
	CodeConflictOfInterest = "CONFLICT_OF_INTEREST"
	CodeCertExpired        = "CERT_EXPIRED"
	CodeDuplicateCert      = "DUPLICATE_CERTIFICATE"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeNotFound           = "NOT_FOUND"
)

func guardf(code, format string, args ...any) *GuardError {
	return &GuardError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsGuardViolation reports whether err is a state-conflict error.
func IsGuardViolation(err error) bool {
	var ge *GuardError
	return errors.As(err, &ge)
}

func wrongStatus(want Status, got Status) *GuardError {
	return guardf(CodeWrongStatus, "status must be %s, current status is %s", want, got)
}
