package ingest

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/triangulate/internal/ir"
)

// Meta fields carry routing information and are never part of an entity's data.
const (
	FieldKind    = "kind"
	FieldCommand = "command"
	FieldProng   = "prong"
	FieldOrigin  = "origin"
)

// componentKnownFields are the top-level fields a staged component may carry
// without being moved to metadata.
var componentKnownFields = map[string]bool{
	"kind": true, "command": true, "metadata": true,
	"type": true, "domain": true, "module": true, "name": true,
	"repository": true, "filePath": true, "lineNumber": true,
	"apiType": true, "httpMethod": true, "httpPath": true,
	"operationName": true, "entity": true,
	"eventName": true, "eventSchema": true,
	"subscribedEvents": true, "route": true,
	"customType": true, "customProperties": true,
}

var componentStringAttrs = []string{
	"apiType", "httpMethod", "httpPath", "operationName", "entity",
	"eventName", "eventSchema", "route", "customType",
}

// DecodeOptions controls how one line is turned into a record.
type DecodeOptions struct {
	// DefaultKind applies when a line has no kind or command tag.
	DefaultKind Kind
	// KeyField names the identity field of observations.
	KeyField string
	// FileOrigin is the origin inferred from the log's file name, used when
	// an observation carries no explicit tag.
	FileOrigin string
}

// Decode turns one parsed line into its typed variant.
//
// In observation logs (DefaultKind observation) every line is an
// observation and "kind" is ordinary data.
func Decode(obj ir.Object, src SourceRef, opts DecodeOptions) (Record, error) {
	if opts.DefaultKind == KindObservation {
		return decodeObservation(obj, src, opts)
	}
	kind, err := recordKind(obj, opts.DefaultKind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindObservation:
		return decodeObservation(obj, src, opts)
	case KindExtractionRule:
		return decodeExtractionRule(obj, src)
	case KindExample:
		return decodeExample(obj, src)
	case KindCustomTypeProposal:
		return decodeCustomTypeProposal(obj, src)
	case KindHTTPClient:
		return decodeHTTPClient(obj, src)
	case KindLinkPattern:
		return decodeLinkPattern(obj, src)
	case KindValidationRule:
		return decodeValidationRule(obj, src)
	case KindDomain:
		return decodeDomain(obj, src)
	case KindComponent:
		return decodeComponent(obj, src)
	case KindLink:
		return decodeLink(obj, src)
	case KindLinkHTTP:
		return decodeLinkHTTP(obj, src)
	case KindLinkExternal:
		return decodeLinkExternal(obj, src)
	case KindEnrichment:
		return decodeEnrichment(obj, src)
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
}

// recordKind reads the kind tag, falling back to the "command" tag in staged
// logs and then to the default.
func recordKind(obj ir.Object, def Kind) (Kind, error) {
	tags := []string{FieldKind}
	if def.IsStaged() {
		tags = append(tags, FieldCommand)
	}
	for _, field := range tags {
		v, ok := obj[field]
		if !ok {
			continue
		}
		s := ir.StringOf(v)
		if s == "" {
			return "", fmt.Errorf("missing required field: %s", field)
		}
		if field == FieldCommand {
			kind, err := ParseKind(s)
			if err != nil || !kind.IsStaged() {
				return "", fmt.Errorf("unsupported command: %s", s)
			}
			return kind, nil
		}
		return ParseKind(s)
	}
	if def == "" {
		return KindObservation, nil
	}
	return def, nil
}

func decodeObservation(obj ir.Object, src SourceRef, opts DecodeOptions) (Record, error) {
	keyField := opts.KeyField
	if keyField == "" {
		keyField = "name"
	}
	key := identityOf(obj[keyField])
	if key == "" {
		return nil, &MissingKeyError{Field: keyField}
	}

	obs := Observation{Key: key, Source: src, Fields: make(ir.Object, len(obj))}
	for _, field := range []string{FieldProng, FieldOrigin} {
		if origin := ir.StringOf(obj[field]); origin != "" {
			obs.Origin = origin
			break
		}
	}
	if obs.Origin == "" {
		obs.Origin = opts.FileOrigin
		obs.OriginInferred = true
	}

	taggedKind := opts.DefaultKind != KindObservation
	for k, v := range obj {
		switch {
		case k == FieldProng, k == FieldOrigin, k == keyField:
			continue
		case k == FieldKind && taggedKind:
			continue
		}
		obs.Fields[k] = v
	}
	return obs, nil
}

// identityOf renders a scalar identity value as a string. Null, arrays and
// objects have no identity.
func identityOf(v ir.Value) string {
	switch val := v.(type) {
	case ir.String:
		return strings.TrimSpace(string(val))
	case ir.Int:
		return strconv.FormatInt(int64(val), 10)
	case ir.Number:
		return string(val)
	case ir.Bool:
		return strconv.FormatBool(bool(val))
	default:
		return ""
	}
}

func decodeExtractionRule(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "componentType", "repo", "classPattern"); err != nil {
		return nil, err
	}
	fields, err := decodeFieldMappings(obj["fields"])
	if err != nil {
		return nil, err
	}
	return ExtractionRule{
		ComponentType: ir.StringOf(obj["componentType"]),
		Repo:          ir.StringOf(obj["repo"]),
		Location:      ir.StringOf(obj["location"]),
		ClassPattern:  ir.StringOf(obj["classPattern"]),
		Select:        ir.StringOf(obj["select"]),
		Fields:        fields,
		Exclude:       ir.Strings(obj["exclude"]),
		Source:        src,
	}, nil
}

func decodeFieldMappings(v ir.Value) ([]FieldMapping, error) {
	if v == nil {
		return nil, nil
	}
	if _, isNull := v.(ir.Null); isNull {
		return nil, nil
	}
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("fields must be an array, got %s", ir.Kind(v))
	}
	out := make([]FieldMapping, 0, len(arr))
	for i, elem := range arr {
		m, ok := elem.(ir.Object)
		if !ok {
			return nil, fmt.Errorf("fields[%d] must be an object", i)
		}
		out = append(out, FieldMapping{
			SchemaField: ir.StringOf(m["schemaField"]),
			Source:      ir.StringOf(m["source"]),
		})
	}
	return out, nil
}

func decodeExample(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "componentType", "snippet"); err != nil {
		return nil, err
	}
	matches, ok := obj["matches"].(ir.Bool)
	if !ok {
		return nil, fmt.Errorf("missing required field(s): matches")
	}
	return Example{
		ComponentType: ir.StringOf(obj["componentType"]),
		Repo:          ir.StringOf(obj["repo"]),
		Matches:       bool(matches),
		// Snippets are kept verbatim; indentation is meaningful.
		Snippet: string(obj["snippet"].(ir.String)),
		Source:  src,
	}, nil
}

func decodeCustomTypeProposal(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "name"); err != nil {
		return nil, err
	}
	p := CustomTypeProposal{
		Name:          ir.StringOf(obj["name"]),
		Pattern:       ir.StringOf(obj["pattern"]),
		InstanceCount: -1,
		Source:        src,
	}
	if n, ok := obj["instanceCount"].(ir.Int); ok {
		p.InstanceCount = int64(n)
	}
	return p, nil
}

func decodeHTTPClient(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "clientPattern"); err != nil {
		return nil, err
	}
	internal, _ := obj["internal"].(ir.Bool)
	return HTTPClient{
		ClientPattern: ir.StringOf(obj["clientPattern"]),
		TargetDomain:  ir.StringOf(obj["targetDomain"]),
		Internal:      bool(internal),
		Source:        src,
	}, nil
}

func decodeLinkPattern(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "name"); err != nil {
		return nil, err
	}
	return LinkPattern{
		Name:      ir.StringOf(obj["name"]),
		Indicator: ir.StringOf(obj["indicator"]),
		FromType:  ir.StringOf(obj["fromType"]),
		ToType:    ir.StringOf(obj["toType"]),
		Source:    src,
	}, nil
}

func decodeValidationRule(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "rule"); err != nil {
		return nil, err
	}
	return ValidationRule{
		Rule:   ir.StringOf(obj["rule"]),
		Scope:  ir.StringOf(obj["scope"]),
		Source: src,
	}, nil
}

// addPrefix marks a repository entry as an append to an existing domain.
const addPrefix = "ADD:"

func decodeDomain(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "name"); err != nil {
		return nil, err
	}
	d := Domain{
		Name:        ir.StringOf(obj["name"]),
		Description: ir.StringOf(obj["description"]),
		SystemType:  ir.StringOf(obj["systemType"]),
		Source:      src,
	}
	if add, ok := obj["add"].(ir.Bool); ok {
		d.Add = bool(add)
	}

	repos := ir.Strings(obj["repositories"])
	if repo := ir.StringOf(obj["repository"]); repo != "" {
		repos = append(repos, repo)
	}
	for _, r := range repos {
		if rest, ok := strings.CutPrefix(r, addPrefix); ok {
			d.Add = true
			r = strings.TrimSpace(rest)
		}
		if r != "" && !slices.Contains(d.Repositories, r) {
			d.Repositories = append(d.Repositories, r)
		}
	}
	return d, nil
}

func decodeComponent(obj ir.Object, src SourceRef) (Record, error) {
	typ := ir.StringOf(obj["type"])
	if !slices.Contains(ComponentTypes, typ) {
		shown := typ
		if shown == "" {
			shown = "null"
		}
		return nil, fmt.Errorf("invalid or missing type: %s (expected: %s)",
			shown, strings.Join(ComponentTypes, ", "))
	}
	if err := requireStrings(obj, "domain", "module", "name", "repository", "filePath", "lineNumber"); err != nil {
		return nil, err
	}

	c := Component{
		Type:       typ,
		Domain:     ir.StringOf(obj["domain"]),
		Module:     ir.StringOf(obj["module"]),
		Name:       ir.StringOf(obj["name"]),
		Repository: ir.StringOf(obj["repository"]),
		FilePath:   ir.StringOf(obj["filePath"]),
		LineNumber: int64(obj["lineNumber"].(ir.Int)),
		Attributes: ir.Object{},
		Metadata:   ir.Object{},
		Source:     src,
	}

	for _, attr := range componentStringAttrs {
		if s := ir.StringOf(obj[attr]); s != "" {
			c.Attributes[attr] = ir.String(s)
		}
	}
	if events := ir.Strings(obj["subscribedEvents"]); len(events) > 0 {
		arr := make(ir.Array, len(events))
		for i, e := range events {
			arr[i] = ir.String(e)
		}
		c.Attributes["subscribedEvents"] = arr
	}
	if props, ok := obj["customProperties"].(ir.Object); ok {
		kept := ir.Object{}
		for k, v := range props {
			if s, ok := v.(ir.String); ok {
				kept[k] = s
			}
		}
		if len(kept) > 0 {
			c.Attributes["customProperties"] = kept
		}
	}

	if md, ok := obj["metadata"].(ir.Object); ok {
		for k, v := range md {
			c.Metadata[k] = v
		}
	}
	if typ != "Custom" {
		for k, v := range obj {
			if !componentKnownFields[k] {
				c.Metadata[k] = v
			}
		}
	}
	return c, nil
}

func decodeLink(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "from", "toDomain", "toModule", "toType", "toName"); err != nil {
		return nil, fmt.Errorf("link requires from,toDomain,toModule,toType,toName: %w", err)
	}
	return Link{
		From:     ir.StringOf(obj["from"]),
		ToDomain: ir.StringOf(obj["toDomain"]),
		ToModule: ir.StringOf(obj["toModule"]),
		ToType:   ir.StringOf(obj["toType"]),
		ToName:   ir.StringOf(obj["toName"]),
		LinkType: NormalizeLinkType(ir.StringOf(obj["linkType"])),
		Source:   src,
	}, nil
}

func decodeLinkHTTP(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "path", "toDomain", "toModule", "toType", "toName"); err != nil {
		return nil, fmt.Errorf("link-http requires path,toDomain,toModule,toType,toName: %w", err)
	}
	return LinkHTTP{
		Path:     ir.StringOf(obj["path"]),
		Method:   ir.StringOf(obj["method"]),
		ToDomain: ir.StringOf(obj["toDomain"]),
		ToModule: ir.StringOf(obj["toModule"]),
		ToType:   ir.StringOf(obj["toType"]),
		ToName:   ir.StringOf(obj["toName"]),
		LinkType: NormalizeLinkType(ir.StringOf(obj["linkType"])),
		Source:   src,
	}, nil
}

func decodeLinkExternal(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "from", "targetName"); err != nil {
		return nil, fmt.Errorf("link-external requires from,targetName: %w", err)
	}
	l := LinkExternal{
		From:         ir.StringOf(obj["from"]),
		TargetName:   ir.StringOf(obj["targetName"]),
		TargetDomain: ir.StringOf(obj["targetDomain"]),
		LinkType:     NormalizeLinkType(ir.StringOf(obj["linkType"])),
		Source:       src,
	}
	if u := ir.StringOf(obj["targetUrl"]); u != "" {
		if IsHTTPURL(u) {
			l.TargetURL = u
		} else {
			l.StrippedURL = u
		}
	}
	return l, nil
}

func decodeEnrichment(obj ir.Object, src SourceRef) (Record, error) {
	if err := requireStrings(obj, "id"); err != nil {
		return nil, err
	}
	return Enrichment{
		ID:            ir.StringOf(obj["id"]),
		Entity:        ir.StringOf(obj["entity"]),
		StateChanges:  ir.Strings(obj["stateChanges"]),
		BusinessRules: ir.Strings(obj["businessRules"]),
		Reads:         ir.Strings(obj["reads"]),
		Validates:     ir.Strings(obj["validates"]),
		Modifies:      ir.Strings(obj["modifies"]),
		Emits:         ir.Strings(obj["emits"]),
		Source:        src,
	}, nil
}

// NormalizeLinkType maps anything other than "async" to "sync".
func NormalizeLinkType(s string) string {
	if s == "async" {
		return "async"
	}
	return "sync"
}

// IsHTTPURL reports whether s is an absolute http or https URL with a host.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// requireStrings checks that every named field is a non-blank string, except
// lineNumber which must be an integer.
func requireStrings(obj ir.Object, fields ...string) error {
	var missing []string
	for _, f := range fields {
		if f == "lineNumber" {
			if _, ok := obj[f].(ir.Int); !ok {
				missing = append(missing, f)
			}
			continue
		}
		if ir.StringOf(obj[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}
	return nil
}
