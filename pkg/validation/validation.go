// Package validation checks request bodies against per-operation JSON
// schemas before anything touches the saga or the ledger.
package validation

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Operation names, one per schema.
const (
	OpCreateSeedBatch     = "create_seed_batch"
	OpSubmitCertification = "submit_certification"
	OpRecordInspection    = "record_inspection"
	OpEvaluateInspection  = "evaluate_inspection"
	OpIssueCertificate    = "issue_certificate"
	OpRevokeCertificate   = "revoke_certificate"
	OpDistributeSeed      = "distribute_seed"
)

var schemas = map[string]string{
	OpCreateSeedBatch: `{
		"type": "object",
		"required": ["varietyName", "commodity", "harvestDate", "seedSourceNumber", "origin", "iupNumber", "seedClass"],
		"properties": {
			"varietyName":      {"type": "string", "minLength": 2, "maxLength": 100},
			"commodity":        {"type": "string", "minLength": 2, "maxLength": 50},
			"harvestDate":      {"type": "string", "format": "date"},
			"seedSourceNumber": {"type": "string", "minLength": 5, "maxLength": 50},
			"origin":           {"type": "string", "minLength": 2, "maxLength": 100},
			"iupNumber":        {"type": "string", "minLength": 5, "maxLength": 50},
			"seedClass":        {"type": "string", "enum": ["BS", "BD", "BP", "BR"]}
		}
	}`,
	OpSubmitCertification: `{
		"type": "object"
	}`,
	OpRecordInspection: `{
		"type": "object",
		"required": ["inspectionResult"],
		"properties": {
			"inspectionResult": {"type": "string", "minLength": 10, "maxLength": 2000}
		}
	}`,
	OpEvaluateInspection: `{
		"type": "object",
		"required": ["approvalStatus", "evaluationNote"],
		"properties": {
			"approvalStatus": {"type": "string", "enum": ["APPROVE", "REJECT"]},
			"evaluationNote": {"type": "string", "minLength": 10, "maxLength": 2000}
		}
	}`,
	OpIssueCertificate: `{
		"type": "object",
		"required": ["certificateNumber", "expiryMonths"],
		"properties": {
			"certificateNumber": {"type": "string", "minLength": 5, "maxLength": 50},
			"expiryMonths":      {"type": "integer", "minimum": 1, "maximum": 120}
		}
	}`,
	OpRevokeCertificate: `{
		"type": "object",
		"required": ["reason"],
		"properties": {
			"reason": {"type": "string", "minLength": 5, "maxLength": 500}
		}
	}`,
	OpDistributeSeed: `{
		"type": "object",
		"required": ["distributionLocation", "quantity"],
		"properties": {
			"distributionLocation": {"type": "string", "minLength": 5, "maxLength": 200},
			"quantity":             {"type": "number", "exclusiveMinimum": 0}
		}
	}`,
}

// FieldError names one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries every constraint a request body violated.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "request validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "request validation failed: " + strings.Join(parts, "; ")
}

// Validator holds the compiled per-operation schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every operation schema. Compilation failures are programmer
// errors and surface at startup.
func New() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(schemas))}
	for op, raw := range schemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		url := fmt.Sprintf("https://seed-chain.schemas.local/%s.schema.json", op)
		if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema load failed for %s: %w", op, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema compile failed for %s: %w", op, err)
		}
		v.schemas[op] = compiled
	}
	return v, nil
}

// Validate checks body against the operation's schema. Unknown operations
// fail closed.
func (v *Validator) Validate(op string, body map[string]any) error {
	schema, ok := v.schemas[op]
	if !ok {
		return &Error{Fields: []FieldError{{Field: "operation", Message: fmt.Sprintf("no schema for operation %s", op)}}}
	}
	if body == nil {
		body = map[string]any{}
	}

	err := schema.Validate(body)
	if err == nil {
		return nil
	}

	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &Error{Fields: []FieldError{{Field: "body", Message: err.Error()}}}
	}
	return &Error{Fields: flatten(ve)}
}

// flatten collects the leaf causes of a validation error, mapping instance
// locations to field names.
func flatten(ve *jsonschema.ValidationError) []FieldError {
	if len(ve.Causes) == 0 {
		field := strings.TrimPrefix(ve.InstanceLocation, "/")
		if field == "" {
			field = "body"
		}
		return []FieldError{{Field: field, Message: ve.Message}}
	}

	var out []FieldError
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}

// ValidateID checks a record id path parameter.
func ValidateID(id string) error {
	if len(id) < 3 || len(id) > 100 {
		return &Error{Fields: []FieldError{{Field: "id", Message: "id must be between 3 and 100 characters"}}}
	}
	return nil
}
