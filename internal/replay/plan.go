package replay

import (
	"fmt"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
	"github.com/roach88/triangulate/internal/triangulate"
)

// Step is one line of staged input: either a command or a parse failure.
type Step struct {
	Source  ingest.SourceRef
	Command *Command
	// ParseError is set when the line could not become a command. Such
	// steps are reported but never attempted.
	ParseError string
	// Raw is the parsed line, when it was valid JSON.
	Raw ir.Object
}

// URLWarning records a link-external targetUrl dropped for not being an
// http or https URL.
type URLWarning struct {
	File          string `json:"file"`
	Line          int    `json:"line"`
	OriginalValue string `json:"originalValue"`
	Action        string `json:"action"`
}

// Plan is the ordered input to one replay run.
type Plan struct {
	// Kind labels the run: components, links, enrichments, domains or
	// consolidated.
	Kind        string
	Files       []string
	LinesTotal  int
	Steps       []Step
	URLWarnings []URLWarning
	// Derivation is set for plans built from consolidated records.
	Derivation *Derivation
}

// Commands returns the commands of the plan in order.
func (p *Plan) Commands() []Command {
	var out []Command
	for _, s := range p.Steps {
		if s.Command != nil {
			out = append(out, *s.Command)
		}
	}
	return out
}

// PlanFromBatch turns collected staged records and malformed lines into
// steps in (file, line) order.
func PlanFromBatch(kind string, batch *ingest.Batch) *Plan {
	plan := &Plan{Kind: kind, Files: batch.Files, LinesTotal: batch.LinesTotal}

	for _, rec := range batch.Records {
		src := rec.Ref()
		if !rec.Kind().IsStaged() {
			plan.Steps = append(plan.Steps, Step{
				Source:     src,
				ParseError: fmt.Sprintf("unsupported command: %s", rec.Kind()),
			})
			continue
		}
		if ext, ok := rec.(ingest.LinkExternal); ok && ext.StrippedURL != "" {
			plan.URLWarnings = append(plan.URLWarnings, URLWarning{
				File:          src.File,
				Line:          src.Line,
				OriginalValue: ext.StrippedURL,
				Action:        "stripped",
			})
		}
		cmd, err := FromRecord(rec)
		if err != nil {
			plan.Steps = append(plan.Steps, Step{Source: src, ParseError: err.Error()})
			continue
		}
		plan.Steps = append(plan.Steps, Step{Source: src, Command: &cmd})
	}

	for _, m := range batch.Malformed {
		step := Step{Source: m.Source, ParseError: m.Reason}
		if obj, err := ir.DecodeObject([]byte(m.Raw)); err == nil {
			step.Raw = obj
		}
		plan.Steps = append(plan.Steps, step)
	}

	sortSteps(plan.Steps)
	return plan
}

// Derivation counts how consolidated records were turned into commands.
type Derivation struct {
	Derived           int `json:"derived"`
	SkippedLow        int `json:"skippedLow"`
	SkippedConflicted int `json:"skippedConflicted"`
	Invalid           int `json:"invalid"`
}

// PlanFromCanonical derives component commands from consolidated records.
// Only conflict-free HIGH and MEDIUM records are applied; LOW records need
// review and conflicted ones need a human decision. The source of each
// command is the output file and the record's 1-based index in it.
func PlanFromCanonical(outputPath string, records []triangulate.CanonicalRecord) (*Plan, Derivation) {
	plan := &Plan{Kind: "consolidated", Files: []string{outputPath}, LinesTotal: len(records)}
	var d Derivation

	for i, rec := range records {
		src := ingest.SourceRef{File: outputPath, Line: i + 1}
		switch {
		case !rec.Confidence.AutoAccept():
			d.SkippedLow++
			continue
		case rec.HasConflicts():
			d.SkippedConflicted++
			continue
		}

		data := rec.Data.Clone()
		if _, ok := data["name"]; !ok {
			data["name"] = ir.String(rec.Name)
		}
		delete(data, ingest.FieldKind)

		decoded, err := ingest.Decode(data, src, ingest.DecodeOptions{DefaultKind: ingest.KindComponent})
		if err != nil {
			d.Invalid++
			plan.Steps = append(plan.Steps, Step{Source: src, ParseError: err.Error(), Raw: data})
			continue
		}
		cmd, err := FromRecord(decoded)
		if err != nil {
			d.Invalid++
			plan.Steps = append(plan.Steps, Step{Source: src, ParseError: err.Error(), Raw: data})
			continue
		}
		d.Derived++
		plan.Steps = append(plan.Steps, Step{Source: src, Command: &cmd})
	}
	plan.Derivation = &d
	return plan, d
}
