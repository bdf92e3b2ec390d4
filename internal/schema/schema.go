package schema

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
)

//go:embed graph.cue
var graphSchema string

// Entity names a collection of the persisted graph. It is the first segment
// of every instance path.
type Entity string

const (
	Components    Entity = "components"
	Links         Entity = "links"
	HTTPLinks     Entity = "httpLinks"
	ExternalLinks Entity = "externalLinks"
	Enrichments   Entity = "enrichments"
	Domains       Entity = "domains"
)

var definitions = map[Entity]string{
	Components:    "#Component",
	Links:         "#Link",
	HTTPLinks:     "#HTTPLink",
	ExternalLinks: "#ExternalLink",
	Enrichments:   "#Enrichment",
	Domains:       "#Domain",
}

// EntityFor maps a staged command kind to the collection it writes.
func EntityFor(kind ingest.Kind) (Entity, error) {
	switch kind {
	case ingest.KindComponent:
		return Components, nil
	case ingest.KindLink:
		return Links, nil
	case ingest.KindLinkHTTP:
		return HTTPLinks, nil
	case ingest.KindLinkExternal:
		return ExternalLinks, nil
	case ingest.KindEnrichment:
		return Enrichments, nil
	case ingest.KindDomain:
		return Domains, nil
	default:
		return "", fmt.Errorf("no graph entity for kind %q", kind)
	}
}

// Violation is one schema failure.
type Violation struct {
	// Path is a JSON pointer: /<entity>/<id>/<field>...
	Path    string
	Message string
}

// ValidationError reports every violation found in one value.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "schema validation failed"
	}
	first := e.Violations[0]
	if len(e.Violations) == 1 {
		return fmt.Sprintf("%s: %s", first.Path, first.Message)
	}
	return fmt.Sprintf("%s: %s (and %d more)", first.Path, first.Message, len(e.Violations)-1)
}

// Validator checks entity values against the graph schema.
//
// Thread-safety: cue.Context is not safe for concurrent use, so Validate
// serialises callers.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(graphSchema, cue.Filename("graph.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: v}, nil
}

// MustNew is like New but panics on error. The schema is embedded, so an
// error here is a build defect.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks obj as a member of entity identified by id. It returns
// nil or a *ValidationError.
func (v *Validator) Validate(entity Entity, id string, obj ir.Object) error {
	def, ok := definitions[entity]
	if !ok {
		return fmt.Errorf("unknown entity %q", entity)
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return &ValidationError{Violations: []Violation{{
			Path:    Pointer(entity, id),
			Message: err.Error(),
		}}}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	value := v.ctx.CompileBytes(data, cue.Filename(string(entity)+".json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile %s %s: %w", entity, id, err)
	}
	unified := v.schema.LookupPath(cue.ParsePath(def)).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return violations(entity, id, err)
	}
	return nil
}

// violations flattens a CUE error into sorted, de-duplicated violations.
func violations(entity Entity, id string, err error) *ValidationError {
	seen := map[string]bool{}
	var out []Violation
	for _, e := range errors.Errors(err) {
		var fields []string
		for _, sel := range e.Path() {
			// Definition names are schema structure, not instance data.
			if strings.HasPrefix(sel, "#") {
				continue
			}
			fields = append(fields, sel)
		}
		path := Pointer(entity, id, fields...)
		msg := errors.Details(e, nil)
		msg = strings.TrimSpace(msg)
		if seen[path+"\x00"+msg] {
			continue
		}
		seen[path+"\x00"+msg] = true
		out = append(out, Violation{Path: path, Message: msg})
	}
	if len(out) == 0 {
		out = append(out, Violation{Path: Pointer(entity, id), Message: err.Error()})
	}
	slices.SortFunc(out, func(a, b Violation) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.Message, b.Message)
	})
	return &ValidationError{Violations: out}
}

// Pointer builds a JSON pointer from an entity, an id and field selectors.
func Pointer(entity Entity, id string, fields ...string) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(escape(string(entity)))
	b.WriteString("/")
	b.WriteString(escape(id))
	for _, f := range fields {
		b.WriteString("/")
		b.WriteString(escape(f))
	}
	return b.String()
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func escape(s string) string {
	return pointerEscaper.Replace(s)
}

// First returns the first violation of err, if err is a *ValidationError.
func First(err error) (Violation, bool) {
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Violations) == 0 {
		return Violation{}, false
	}
	return ve.Violations[0], true
}
