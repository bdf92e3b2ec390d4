package rules

import (
	"cmp"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
)

// MaxExamples caps matching and non-matching snippets per type.
const MaxExamples = 2

// Summary describes what a merge did, for reporting.
type Summary struct {
	RecordsByKind map[ingest.Kind]int `json:"recordsByKind"`
	// Replaced lists (type, repo) pairs contributed more than once; the
	// last contribution was kept.
	Replaced []string `json:"replaced"`
	// OrphanExamples counts examples for types with no extraction rule.
	OrphanExamples int            `json:"orphanExamples"`
	Overrides      map[string]int `json:"overrides"`
}

// Merger consolidates rule records.
type Merger struct {
	logger *slog.Logger
}

// NewMerger creates a Merger. A nil logger discards warnings.
func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Merger{logger: logger}
}

// Merge builds both documents from rule records in (file, line) order.
// existingCustomTypes is carried into the definitions unchanged.
func (m *Merger) Merge(records []ingest.Record, existingCustomTypes []any) (*Definitions, *LinkingRules, *Summary) {
	sum := &Summary{RecordsByKind: map[ingest.Kind]int{}, Overrides: map[string]int{}}

	var (
		extraction []ingest.ExtractionRule
		examples   []ingest.Example
		proposals  []ingest.CustomTypeProposal
		clients    []ingest.HTTPClient
		patterns   []ingest.LinkPattern
		validation []ingest.ValidationRule
	)
	for _, r := range records {
		sum.RecordsByKind[r.Kind()]++
		switch v := r.(type) {
		case ingest.ExtractionRule:
			extraction = append(extraction, v)
		case ingest.Example:
			examples = append(examples, v)
		case ingest.CustomTypeProposal:
			proposals = append(proposals, v)
		case ingest.HTTPClient:
			clients = append(clients, v)
		case ingest.LinkPattern:
			patterns = append(patterns, v)
		case ingest.ValidationRule:
			validation = append(validation, v)
		default:
			m.logger.Warn("ignoring record in rules log", "kind", r.Kind(), "source", r.Ref().String())
		}
	}

	if existingCustomTypes == nil {
		existingCustomTypes = []any{}
	}
	defs := &Definitions{
		Version:             ir.RegistryVersion,
		ExtractionRules:     m.mergeExtractionRules(extraction, examples, sum),
		CustomTypeProposals: mergeProposals(proposals),
		CustomTypes:         existingCustomTypes,
	}
	links := &LinkingRules{
		Version:         ir.RegistryVersion,
		HTTPClients:     mergeHTTPClients(clients),
		LinkPatterns:    mergeLinkPatterns(patterns),
		ValidationRules: mergeValidationRules(validation),
	}
	return defs, links, sum
}

func (m *Merger) mergeExtractionRules(rules []ingest.ExtractionRule, examples []ingest.Example, sum *Summary) map[string]Rule {
	byType := map[string]map[string]ingest.ExtractionRule{}
	for _, r := range rules {
		repos, ok := byType[r.ComponentType]
		if !ok {
			repos = map[string]ingest.ExtractionRule{}
			byType[r.ComponentType] = repos
		}
		if prev, dup := repos[r.Repo]; dup {
			pair := fmt.Sprintf("%s/%s", r.ComponentType, r.Repo)
			sum.Replaced = append(sum.Replaced, pair)
			m.logger.Warn("duplicate extraction rule, keeping the later one",
				"type", r.ComponentType, "repo", r.Repo,
				"previous", prev.Source.String(), "kept", r.Source.String())
		}
		repos[r.Repo] = r
	}

	exByType := map[string]*Examples{}
	for _, ex := range examples {
		if _, ok := byType[ex.ComponentType]; !ok {
			sum.OrphanExamples++
			continue
		}
		bucket, ok := exByType[ex.ComponentType]
		if !ok {
			bucket = &Examples{Matches: []string{}, NotMatches: []string{}}
			exByType[ex.ComponentType] = bucket
		}
		if ex.Matches && len(bucket.Matches) < MaxExamples {
			bucket.Matches = append(bucket.Matches, ex.Snippet)
		}
		if !ex.Matches && len(bucket.NotMatches) < MaxExamples {
			bucket.NotMatches = append(bucket.NotMatches, ex.Snippet)
		}
	}

	out := make(map[string]Rule, len(byType))
	for typ, repos := range byType {
		rule := MergeType(repos)
		rule.Examples = exByType[typ]
		if n := len(rule.Overrides); n > 0 {
			sum.Overrides[typ] = n
		}
		out[typ] = rule
	}
	return out
}

// MergeType merges one component type's rules, keyed by repository.
//
// The base is the most frequent classPattern (ties go to the smallest
// pattern string) taken from the alphabetically first repository using it.
// Every other repository gets an override holding only the attributes that
// differ from the base; repositories identical to the base get none.
func MergeType(repos map[string]ingest.ExtractionRule) Rule {
	names := slices.Sorted(maps.Keys(repos))

	counts := map[string]int{}
	for _, repo := range names {
		counts[repos[repo].ClassPattern]++
	}
	patterns := slices.Collect(maps.Keys(counts))
	slices.SortFunc(patterns, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	basePattern := patterns[0]

	var baseRepo string
	for _, repo := range names {
		if repos[repo].ClassPattern == basePattern {
			baseRepo = repo
			break
		}
	}
	base := repos[baseRepo]

	exclude := map[string]bool{}
	for _, repo := range names {
		for _, e := range repos[repo].Exclude {
			exclude[e] = true
		}
	}

	rule := Rule{
		Location:     base.Location,
		ClassPattern: base.ClassPattern,
		Select:       base.Select,
		Fields:       base.Fields,
		BaseRepo:     baseRepo,
	}
	if rule.Fields == nil {
		rule.Fields = []FieldMapping{}
	}
	if len(exclude) > 0 {
		rule.Exclude = slices.Sorted(maps.Keys(exclude))
	}

	for _, repo := range names {
		if repo == baseRepo {
			continue
		}
		if o := Diff(base, repos[repo]); !o.IsEmpty() {
			if rule.Overrides == nil {
				rule.Overrides = map[string]Override{}
			}
			rule.Overrides[repo] = o
		}
	}
	return rule
}

// Diff returns the attributes of r that differ from base.
func Diff(base, r ingest.ExtractionRule) Override {
	var o Override
	if r.ClassPattern != base.ClassPattern {
		o.ClassPattern = ptr(r.ClassPattern)
	}
	if r.Location != base.Location {
		o.Location = ptr(r.Location)
	}
	if r.Select != base.Select {
		o.Select = ptr(r.Select)
	}
	if !slices.Equal(r.Fields, base.Fields) {
		fields := slices.Clone(r.Fields)
		if fields == nil {
			fields = []FieldMapping{}
		}
		o.Fields = &fields
	}
	return o
}

func ptr[T any](v T) *T { return &v }

func mergeProposals(in []ingest.CustomTypeProposal) []Proposal {
	best := map[string]ingest.CustomTypeProposal{}
	for _, p := range in {
		if cur, ok := best[p.Name]; !ok || p.InstanceCount > cur.InstanceCount {
			best[p.Name] = p
		}
	}
	out := make([]Proposal, 0, len(best))
	for _, name := range slices.Sorted(maps.Keys(best)) {
		p := best[name]
		prop := Proposal{Name: p.Name, Pattern: p.Pattern}
		if p.InstanceCount >= 0 {
			prop.InstanceCount = ptr(p.InstanceCount)
		}
		out = append(out, prop)
	}
	return out
}

func mergeHTTPClients(in []ingest.HTTPClient) []HTTPClient {
	byKey := map[string]HTTPClient{}
	for _, c := range in {
		byKey[c.ClientPattern] = HTTPClient{ClientPattern: c.ClientPattern, TargetDomain: c.TargetDomain, Internal: c.Internal}
	}
	return sortedValues(byKey)
}

func mergeLinkPatterns(in []ingest.LinkPattern) []LinkPattern {
	byKey := map[string]LinkPattern{}
	for _, p := range in {
		byKey[p.Name] = LinkPattern{Name: p.Name, Indicator: p.Indicator, FromType: p.FromType, ToType: p.ToType}
	}
	return sortedValues(byKey)
}

func mergeValidationRules(in []ingest.ValidationRule) []ValidationRule {
	byKey := map[string]ValidationRule{}
	for _, r := range in {
		byKey[r.Rule] = ValidationRule{Rule: r.Rule, Scope: r.Scope}
	}
	return sortedValues(byKey)
}

func sortedValues[V any](m map[string]V) []V {
	out := make([]V, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[k])
	}
	return out
}
