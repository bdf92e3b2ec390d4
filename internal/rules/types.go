package rules

import "github.com/roach88/triangulate/internal/ingest"

// FieldMapping is re-exported so callers of this package need not import ingest.
type FieldMapping = ingest.FieldMapping

// Examples holds illustrative snippets for a rule, capped per kind.
type Examples struct {
	Matches    []string `json:"matches" yaml:"matches"`
	NotMatches []string `json:"notMatches" yaml:"notMatches"`
}

// Override carries only the attributes in which one repository's rule
// differs from the base. Nil means "same as base".
type Override struct {
	Location     *string         `json:"location,omitempty" yaml:"location,omitempty"`
	ClassPattern *string         `json:"classPattern,omitempty" yaml:"classPattern,omitempty"`
	Select       *string         `json:"select,omitempty" yaml:"select,omitempty"`
	Fields       *[]FieldMapping `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// IsEmpty reports whether o differs from the base in nothing.
func (o Override) IsEmpty() bool {
	return o.Location == nil && o.ClassPattern == nil && o.Select == nil && o.Fields == nil
}

// Rule is the merged extraction rule for one component type.
type Rule struct {
	Location     string              `json:"location" yaml:"location"`
	ClassPattern string              `json:"classPattern" yaml:"classPattern"`
	Select       string              `json:"select" yaml:"select"`
	Fields       []FieldMapping      `json:"fields" yaml:"fields"`
	Exclude      []string            `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Examples     *Examples           `json:"examples,omitempty" yaml:"examples,omitempty"`
	Overrides    map[string]Override `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	// BaseRepo is the repository whose rule became the base.
	BaseRepo string `json:"baseRepo" yaml:"baseRepo"`
}

// Proposal is a deduplicated custom type proposal.
type Proposal struct {
	Name          string `json:"name" yaml:"name"`
	Pattern       string `json:"pattern" yaml:"pattern"`
	InstanceCount *int64 `json:"instanceCount,omitempty" yaml:"instanceCount,omitempty"`
}

// Definitions is the component-definitions document.
type Definitions struct {
	Version             string          `json:"version" yaml:"version"`
	ExtractionRules     map[string]Rule `json:"extractionRules" yaml:"extractionRules"`
	CustomTypeProposals []Proposal      `json:"customTypeProposals" yaml:"customTypeProposals"`
	// CustomTypes are accepted types carried over from a previous document;
	// they are user decisions and never regenerated.
	CustomTypes []any `json:"customTypes" yaml:"customTypes"`
}

// HTTPClient maps a client wrapper to the domain it calls.
type HTTPClient struct {
	ClientPattern string `json:"clientPattern" yaml:"clientPattern"`
	TargetDomain  string `json:"targetDomain" yaml:"targetDomain"`
	Internal      bool   `json:"internal" yaml:"internal"`
}

// LinkPattern is a non-HTTP linking indicator.
type LinkPattern struct {
	Name      string `json:"name" yaml:"name"`
	Indicator string `json:"indicator" yaml:"indicator"`
	FromType  string `json:"fromType" yaml:"fromType"`
	ToType    string `json:"toType" yaml:"toType"`
}

// ValidationRule is a structural constraint on links.
type ValidationRule struct {
	Rule  string `json:"rule" yaml:"rule"`
	Scope string `json:"scope" yaml:"scope"`
}

// LinkingRules is the linking-rules document.
type LinkingRules struct {
	Version         string           `json:"version" yaml:"version"`
	HTTPClients     []HTTPClient     `json:"httpClients" yaml:"httpClients"`
	LinkPatterns    []LinkPattern    `json:"linkPatterns" yaml:"linkPatterns"`
	ValidationRules []ValidationRule `json:"validationRules" yaml:"validationRules"`
}
