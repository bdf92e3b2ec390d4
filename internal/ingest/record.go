package ingest

import (
	"fmt"

	"github.com/roach88/triangulate/internal/ir"
)

// Kind tags a record variant.
type Kind string

// Record kinds. The set is closed; an unknown kind is malformed input.
const (
	KindObservation        Kind = "observation"
	KindExtractionRule     Kind = "extractionRule"
	KindExample            Kind = "example"
	KindCustomTypeProposal Kind = "customTypeProposal"
	KindHTTPClient         Kind = "httpClient"
	KindLinkPattern        Kind = "linkPattern"
	KindValidationRule     Kind = "validationRule"
	KindDomain             Kind = "domain"
	KindComponent          Kind = "component"
	KindLink               Kind = "link"
	KindLinkHTTP           Kind = "link-http"
	KindLinkExternal       Kind = "link-external"
	KindEnrichment         Kind = "enrichment"
)

// AllKinds lists every kind in declaration order.
var AllKinds = []Kind{
	KindObservation, KindExtractionRule, KindExample, KindCustomTypeProposal,
	KindHTTPClient, KindLinkPattern, KindValidationRule, KindDomain,
	KindComponent, KindLink, KindLinkHTTP, KindLinkExternal, KindEnrichment,
}

// ParseKind validates s against the closed kind set.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// IsStaged reports whether records of kind k are apply commands for a store.
func (k Kind) IsStaged() bool {
	switch k {
	case KindComponent, KindLink, KindLinkHTTP, KindLinkExternal, KindEnrichment, KindDomain:
		return true
	default:
		return false
	}
}

// SourceRef locates a record in its log for diagnostics and replay order.
type SourceRef struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

func (s SourceRef) String() string {
	return fmt.Sprintf("%s:%d", s.File, s.Line)
}

// Less orders refs by file then line.
func (s SourceRef) Less(o SourceRef) bool {
	if s.File != o.File {
		return s.File < o.File
	}
	return s.Line < o.Line
}

// Record is implemented by every decoded variant.
type Record interface {
	Kind() Kind
	Ref() SourceRef
}

// Observation is one producer's partial view of an entity.
type Observation struct {
	Origin string
	// OriginInferred is set when Origin came from the file name rather
	// than an explicit tag on the record.
	OriginInferred bool
	Key            string
	Fields         ir.Object
	Source         SourceRef
}

func (o Observation) Kind() Kind     { return KindObservation }
func (o Observation) Ref() SourceRef { return o.Source }

// FieldMapping maps a schema field to the code construct it is read from.
type FieldMapping struct {
	SchemaField string `json:"schemaField" yaml:"schemaField"`
	Source      string `json:"source" yaml:"source"`
}

// ExtractionRule is one repository's rule for finding a component type.
type ExtractionRule struct {
	ComponentType string
	Repo          string
	Location      string
	ClassPattern  string
	Select        string
	Fields        []FieldMapping
	Exclude       []string
	Source        SourceRef
}

func (r ExtractionRule) Kind() Kind     { return KindExtractionRule }
func (r ExtractionRule) Ref() SourceRef { return r.Source }

// Example is an illustrative snippet that does or does not match a rule.
type Example struct {
	ComponentType string
	Repo          string
	Matches       bool
	Snippet       string
	Source        SourceRef
}

func (e Example) Kind() Kind     { return KindExample }
func (e Example) Ref() SourceRef { return e.Source }

// CustomTypeProposal suggests a component type outside the built-in set.
type CustomTypeProposal struct {
	Name          string
	Pattern       string
	InstanceCount int64
	Source        SourceRef
}

func (p CustomTypeProposal) Kind() Kind     { return KindCustomTypeProposal }
func (p CustomTypeProposal) Ref() SourceRef { return p.Source }

// HTTPClient names a client wrapper and the domain its calls land in.
type HTTPClient struct {
	ClientPattern string
	TargetDomain  string
	Internal      bool
	Source        SourceRef
}

func (c HTTPClient) Kind() Kind     { return KindHTTPClient }
func (c HTTPClient) Ref() SourceRef { return c.Source }

// LinkPattern describes a code indicator that implies a link between types.
type LinkPattern struct {
	Name      string
	Indicator string
	FromType  string
	ToType    string
	Source    SourceRef
}

func (p LinkPattern) Kind() Kind     { return KindLinkPattern }
func (p LinkPattern) Ref() SourceRef { return p.Source }

// ValidationRule is a free-form rule applied during link validation.
type ValidationRule struct {
	Rule   string
	Scope  string
	Source SourceRef
}

func (r ValidationRule) Kind() Kind     { return KindValidationRule }
func (r ValidationRule) Ref() SourceRef { return r.Source }

// Domain is a discovered business domain.
type Domain struct {
	Name         string
	Description  string
	SystemType   string
	Repositories []string
	// Add marks the record as an append to an existing domain rather than
	// a new one.
	Add    bool
	Source SourceRef
}

func (d Domain) Kind() Kind     { return KindDomain }
func (d Domain) Ref() SourceRef { return d.Source }

// ComponentTypes is the closed set of component types a store accepts.
var ComponentTypes = []string{"API", "UseCase", "DomainOp", "Event", "EventHandler", "UI", "Custom"}

// Component is a staged component to add to the graph.
type Component struct {
	Type       string
	Domain     string
	Module     string
	Name       string
	Repository string
	FilePath   string
	LineNumber int64
	// Attributes holds the recognised type-specific fields (apiType,
	// httpMethod, subscribedEvents, customProperties, ...).
	Attributes ir.Object
	// Metadata holds unrecognised top-level fields. Custom components keep
	// none; their extras belong in customProperties.
	Metadata ir.Object
	Source   SourceRef
}

func (c Component) Kind() Kind     { return KindComponent }
func (c Component) Ref() SourceRef { return c.Source }

// Link connects a component to a named target component.
type Link struct {
	From     string
	ToDomain string
	ToModule string
	ToType   string
	ToName   string
	LinkType string
	Source   SourceRef
}

func (l Link) Kind() Kind     { return KindLink }
func (l Link) Ref() SourceRef { return l.Source }

// LinkHTTP connects an HTTP route to a target component.
type LinkHTTP struct {
	Path     string
	Method   string
	ToDomain string
	ToModule string
	ToType   string
	ToName   string
	LinkType string
	Source   SourceRef
}

func (l LinkHTTP) Kind() Kind     { return KindLinkHTTP }
func (l LinkHTTP) Ref() SourceRef { return l.Source }

// LinkExternal connects a component to a system outside the graph.
type LinkExternal struct {
	From         string
	TargetName   string
	TargetDomain string
	TargetURL    string
	// StrippedURL holds a targetUrl that was dropped because it was not an
	// http or https URL.
	StrippedURL string
	LinkType    string
	Source      SourceRef
}

func (l LinkExternal) Kind() Kind     { return KindLinkExternal }
func (l LinkExternal) Ref() SourceRef { return l.Source }

// Enrichment adds behavioural detail to an existing component.
type Enrichment struct {
	ID            string
	Entity        string
	StateChanges  []string
	BusinessRules []string
	Reads         []string
	Validates     []string
	Modifies      []string
	Emits         []string
	Source        SourceRef
}

func (e Enrichment) Kind() Kind     { return KindEnrichment }
func (e Enrichment) Ref() SourceRef { return e.Source }
