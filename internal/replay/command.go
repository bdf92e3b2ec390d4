package replay

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
)

// Command is one staged apply request for a store.
//
// ID is content-addressed over (Kind, Key, Payload); Source only orders the
// run and is not part of identity.
type Command struct {
	ID      string
	Kind    ingest.Kind
	Key     string
	Payload ir.Object
	Source  ingest.SourceRef
}

// NewCommand builds a command and computes its ID.
func NewCommand(kind ingest.Kind, key string, payload ir.Object, src ingest.SourceRef) (Command, error) {
	id, err := ir.CommandID(string(kind), key, payload)
	if err != nil {
		return Command{}, fmt.Errorf("command %s: %w", src, err)
	}
	return Command{ID: id, Kind: kind, Key: key, Payload: payload, Source: src}, nil
}

// Type is the component type for component commands and the kind otherwise.
// Reports tally successes by it.
func (c Command) Type() string {
	if c.Kind == ingest.KindComponent {
		if t := ir.StringOf(c.Payload["type"]); t != "" {
			return t
		}
	}
	return string(c.Kind)
}

// ComponentKey is the store identity of a component: lowercase
// domain:module:type:name, with whitespace in the name turned into dashes.
func ComponentKey(domain, module, typ, name string) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(domain)),
		strings.ToLower(strings.TrimSpace(module)),
		strings.ToLower(strings.TrimSpace(typ)),
		strings.ToLower(strings.Join(strings.Fields(name), "-")),
	}, ":")
}

// FromRecord converts a staged record into a command.
func FromRecord(rec ingest.Record) (Command, error) {
	switch r := rec.(type) {
	case ingest.Component:
		return fromComponent(r)
	case ingest.Link:
		to := ComponentKey(r.ToDomain, r.ToModule, r.ToType, r.ToName)
		return NewCommand(r.Kind(), r.From+"->"+to, ir.Object{
			"from":     ir.String(r.From),
			"to":       ir.String(to),
			"toDomain": ir.String(r.ToDomain),
			"toModule": ir.String(r.ToModule),
			"toType":   ir.String(r.ToType),
			"toName":   ir.String(r.ToName),
			"linkType": ir.String(r.LinkType),
		}, r.Source)
	case ingest.LinkHTTP:
		to := ComponentKey(r.ToDomain, r.ToModule, r.ToType, r.ToName)
		payload := ir.Object{
			"path":     ir.String(r.Path),
			"to":       ir.String(to),
			"toDomain": ir.String(r.ToDomain),
			"toModule": ir.String(r.ToModule),
			"toType":   ir.String(r.ToType),
			"toName":   ir.String(r.ToName),
			"linkType": ir.String(r.LinkType),
		}
		if r.Method != "" {
			payload["method"] = ir.String(strings.ToUpper(r.Method))
		}
		key := fmt.Sprintf("http:%s %s->%s", strings.ToUpper(r.Method), r.Path, to)
		return NewCommand(r.Kind(), key, payload, r.Source)
	case ingest.LinkExternal:
		payload := ir.Object{
			"from":       ir.String(r.From),
			"targetName": ir.String(r.TargetName),
			"linkType":   ir.String(r.LinkType),
		}
		if r.TargetDomain != "" {
			payload["targetDomain"] = ir.String(r.TargetDomain)
		}
		if r.TargetURL != "" {
			payload["targetUrl"] = ir.String(r.TargetURL)
		}
		return NewCommand(r.Kind(), r.From+"->external:"+r.TargetName, payload, r.Source)
	case ingest.Enrichment:
		payload := ir.Object{"id": ir.String(r.ID)}
		if r.Entity != "" {
			payload["entity"] = ir.String(r.Entity)
		}
		for field, values := range map[string][]string{
			"stateChanges":  r.StateChanges,
			"businessRules": r.BusinessRules,
			"reads":         r.Reads,
			"validates":     r.Validates,
			"modifies":      r.Modifies,
			"emits":         r.Emits,
		} {
			if len(values) > 0 {
				payload[field] = stringArray(values)
			}
		}
		return NewCommand(r.Kind(), r.ID, payload, r.Source)
	case ingest.Domain:
		systemType := r.SystemType
		if systemType == "" {
			systemType = "domain"
		}
		payload := ir.Object{
			"name":         ir.String(r.Name),
			"systemType":   ir.String(systemType),
			"description":  ir.String(r.Description),
			"repositories": stringArray(r.Repositories),
		}
		return NewCommand(r.Kind(), strings.ToLower(r.Name), payload, r.Source)
	default:
		return Command{}, fmt.Errorf("unsupported command: %s", rec.Kind())
	}
}

func fromComponent(c ingest.Component) (Command, error) {
	payload := ir.Object{
		"type":       ir.String(c.Type),
		"domain":     ir.String(c.Domain),
		"module":     ir.String(c.Module),
		"name":       ir.String(c.Name),
		"repository": ir.String(c.Repository),
		"filePath":   ir.String(c.FilePath),
		"lineNumber": ir.Int(c.LineNumber),
	}
	for k, v := range c.Attributes {
		payload[k] = v
	}
	if len(c.Metadata) > 0 {
		payload["metadata"] = c.Metadata
	}
	key := ComponentKey(c.Domain, c.Module, c.Type, c.Name)
	return NewCommand(c.Kind(), key, payload, c.Source)
}

func stringArray(values []string) ir.Array {
	arr := make(ir.Array, len(values))
	for i, v := range values {
		arr[i] = ir.String(v)
	}
	return arr
}

// Args renders the command as arguments of the external builder CLI.
// Optional flags are emitted only when the payload carries them.
func Args(c Command) []string {
	p := c.Payload
	var args []string
	flag := func(name, field string) {
		if s := ir.StringOf(p[field]); s != "" {
			args = append(args, "--"+name, s)
		}
	}
	repeated := func(name, field string) {
		for _, s := range ir.Strings(p[field]) {
			args = append(args, "--"+name, s)
		}
	}

	switch c.Kind {
	case ingest.KindComponent:
		args = append(args, "add-component")
		flag("type", "type")
		flag("domain", "domain")
		flag("module", "module")
		flag("name", "name")
		flag("repository", "repository")
		flag("file-path", "filePath")
		if n, ok := p["lineNumber"].(ir.Int); ok {
			args = append(args, "--line-number", fmt.Sprint(int64(n)))
		}
		flag("api-type", "apiType")
		flag("http-method", "httpMethod")
		flag("http-path", "httpPath")
		flag("entity", "entity")
		flag("operation-name", "operationName")
		flag("event-name", "eventName")
		flag("event-schema", "eventSchema")
		if events := ir.Strings(p["subscribedEvents"]); len(events) > 0 {
			args = append(args, "--subscribed-events", strings.Join(events, ","))
		}
		flag("route", "route")
		flag("custom-type", "customType")
		if props, ok := p["customProperties"].(ir.Object); ok {
			for _, k := range props.SortedKeys() {
				args = append(args, "--custom-property", k+":"+ir.StringOf(props[k]))
			}
		}
	case ingest.KindLink:
		args = append(args, "link")
		flag("from", "from")
		flag("to-domain", "toDomain")
		flag("to-module", "toModule")
		flag("to-type", "toType")
		flag("to-name", "toName")
		flag("link-type", "linkType")
	case ingest.KindLinkHTTP:
		args = append(args, "link-http")
		flag("path", "path")
		flag("method", "method")
		flag("to-domain", "toDomain")
		flag("to-module", "toModule")
		flag("to-type", "toType")
		flag("to-name", "toName")
		flag("link-type", "linkType")
	case ingest.KindLinkExternal:
		args = append(args, "link-external")
		flag("from", "from")
		flag("target-name", "targetName")
		flag("target-domain", "targetDomain")
		flag("target-url", "targetUrl")
		flag("link-type", "linkType")
	case ingest.KindEnrichment:
		args = append(args, "enrich")
		flag("id", "id")
		flag("entity", "entity")
		repeated("state-change", "stateChanges")
		repeated("business-rule", "businessRules")
		repeated("reads", "reads")
		repeated("validates", "validates")
		repeated("modifies", "modifies")
		repeated("emits", "emits")
	case ingest.KindDomain:
		args = append(args, "add-domain")
		flag("name", "name")
		flag("system-type", "systemType")
		flag("description", "description")
	}
	return args
}

// Render formats the command as a shell line for dry runs.
func Render(c Command) string {
	args := Args(c)
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'$\\") {
			a = fmt.Sprintf("%q", a)
		}
		quoted[i] = a
	}
	return strings.Join(append([]string{"riviere", "builder"}, quoted...), " ")
}

// sortSteps orders steps by source position.
func sortSteps(steps []Step) {
	slices.SortStableFunc(steps, func(a, b Step) int {
		switch {
		case a.Source.Less(b.Source):
			return -1
		case b.Source.Less(a.Source):
			return 1
		default:
			return 0
		}
	})
}
