package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/codekinian-dev/seed-chain-zta/pkg/batch"
)

// ValidationError is a bad-input error: the argument never reached the state
// machine. The gateway maps these to 400 responses.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidation reports whether err is a bad-input error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AccessError is a denial from the contract's own identity re-check. Both
// sides of the trust boundary enforce roles; this is the ledger side's ruling.
type AccessError struct {
	Message string
}

func (e *AccessError) Error() string { return e.Message }

// IsAccessDenied reports whether err is a contract-side denial.
func IsAccessDenied(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}

var (
	uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	// Content ids, v0 (Qm...) and common v1 encodings.
	cidRe = regexp.MustCompile(`^(Qm[1-9A-HJ-NP-Za-km-z]{44}|b[A-Za-z2-7]{58}|B[A-Z2-7]{58}|z[1-9A-HJ-NP-Za-km-z]{48}|F[0-9A-F]{50})$`)

	sanitizeRe = regexp.MustCompile(`[<>"']`)
)

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: fmt.Sprintf("field %q is required", field)}
	}
	return nil
}

func validateUUID(field, value string) error {
	if err := requireField(field, value); err != nil {
		return err
	}
	if !uuidRe.MatchString(value) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("field %q must be a valid UUID", field)}
	}
	return nil
}

// ValidCID reports whether cid is a well-formed content id.
func ValidCID(cid string) bool {
	return cidRe.MatchString(cid)
}

func validateCID(field, value string) error {
	if err := requireField(field, value); err != nil {
		return err
	}
	if !ValidCID(value) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("field %q must be a valid content id", field)}
	}
	return nil
}

func validateDate(field, value string) error {
	if err := requireField(field, value); err != nil {
		return err
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if _, err := time.Parse(layout, value); err == nil {
			return nil
		}
	}
	return &ValidationError{Field: field, Message: fmt.Sprintf("field %q must be an ISO 8601 date", field)}
}

func validateSeedClass(value string) error {
	if !batch.ValidSeedClass(value) {
		return &ValidationError{Field: "seedClass", Message: "seed class must be one of BS, BD, BP, BR"}
	}
	return nil
}

func parseExpiryMonths(value string) (int, error) {
	if err := requireField("expiryDateMonths", value); err != nil {
		return 0, err
	}
	months, err := strconv.Atoi(value)
	if err != nil || months <= 0 || months > 120 {
		return 0, &ValidationError{Field: "expiryDateMonths", Message: "expiryDateMonths must be an integer between 1 and 120"}
	}
	return months, nil
}

func parseQuantity(value string) (float64, error) {
	if err := requireField("quantity", value); err != nil {
		return 0, err
	}
	qty, err := strconv.ParseFloat(value, 64)
	if err != nil || qty <= 0 {
		return 0, &ValidationError{Field: "quantity", Message: "quantity must be a positive number"}
	}
	return qty, nil
}

// sanitize strips characters that could carry markup or break out of string
// contexts downstream. Applied to every free-text field before it is stored.
func sanitize(s string) string {
	return sanitizeRe.ReplaceAllString(s, "")
}
