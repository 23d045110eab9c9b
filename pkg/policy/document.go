package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the declarative policy specification. The gateway and the
// ledger-side contract load the same document, so the two enforcement points
// cannot drift.
type Document struct {
	Version         int                            `yaml:"version"`
	RestrictedHours Window                         `yaml:"restricted_hours"`
	Policies        map[string]map[string][]string `yaml:"policies"`
}

// Window is a restricted wall-clock window [Start, End) in 24-hour local
// time. Start > End means the window wraps midnight.
type Window struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Contains reports whether the hour falls inside the restricted window.
func (w Window) Contains(hour int) bool {
	if w.Start == w.End {
		// Zero-width window restricts nothing.
		return false
	}
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}

// LoadDocument reads a policy document from a YAML file.
func LoadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return ParseDocument(raw)
}

// ParseDocument parses a policy document from YAML bytes.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("policy: parse document: %w", err)
	}
	if len(doc.Policies) == 0 {
		return nil, fmt.Errorf("policy: document has no policies")
	}
	if doc.RestrictedHours.Start < 0 || doc.RestrictedHours.Start > 23 ||
		doc.RestrictedHours.End < 0 || doc.RestrictedHours.End > 23 {
		return nil, fmt.Errorf("policy: restricted hours out of range")
	}
	return &doc, nil
}

// DefaultDocument returns the built-in rule table: six resources, five roles,
// access restricted 22:00-06:00.
func DefaultDocument() *Document {
	return &Document{
		Version:         1,
		RestrictedHours: Window{Start: 22, End: 6},
		Policies: map[string]map[string][]string{
			"seed_batch": {
				"create": {RoleProducer},
				"read":   {RoleProducer, RoleFieldInspector, RoleChiefInspector, RoleIssuer, RoleAdmin},
				"update": {RoleProducer, RoleAdmin},
				"delete": {RoleAdmin},
			},
			"certification_request": {
				"submit": {RoleProducer},
				"read":   {RoleProducer, RoleFieldInspector, RoleChiefInspector, RoleIssuer, RoleAdmin},
			},
			"inspection": {
				"create": {RoleFieldInspector},
				"read":   {RoleFieldInspector, RoleChiefInspector, RoleIssuer, RoleAdmin},
				"update": {RoleFieldInspector},
			},
			"evaluation": {
				"create":  {RoleChiefInspector},
				"read":    {RoleChiefInspector, RoleIssuer, RoleAdmin},
				"approve": {RoleChiefInspector},
				"reject":  {RoleChiefInspector},
			},
			"certificate": {
				"issue":  {RoleIssuer},
				"read":   {RoleProducer, RoleFieldInspector, RoleChiefInspector, RoleIssuer, RoleAdmin},
				"revoke": {RoleIssuer, RoleAdmin},
			},
			"distribution": {
				"create": {RoleProducer},
				"read":   {RoleProducer, RoleIssuer, RoleAdmin},
			},
		},
	}
}

// Role labels as assigned by the identity provider.
const (
	RoleProducer       = "role_producer"
	RoleFieldInspector = "role_pbt_field"
	RoleChiefInspector = "role_pbt_chief"
	RoleIssuer         = "role_lsm_head"
	RoleAdmin          = "role_admin"
)
