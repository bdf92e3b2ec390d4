package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triangulate/internal/ingest"
)

func rule(repo, pattern string) ingest.ExtractionRule {
	return ingest.ExtractionRule{
		ComponentType: "API",
		Repo:          repo,
		Location:      "src/api",
		ClassPattern:  pattern,
		Select:        "methods",
		Fields:        []ingest.FieldMapping{{SchemaField: "httpPath", Source: "@Route"}},
	}
}

func TestMergeTypeMajorityBase(t *testing.T) {
	alt := rule("zeta", "*Handler")
	alt.Location = "lib/handlers"

	got := MergeType(map[string]ingest.ExtractionRule{
		"alpha": rule("alpha", "*Controller"),
		"beta":  rule("beta", "*Controller"),
		"zeta":  alt,
	})

	assert.Equal(t, "*Controller", got.ClassPattern)
	assert.Equal(t, "alpha", got.BaseRepo)
	want := map[string]Override{
		"zeta": {ClassPattern: ptr("*Handler"), Location: ptr("lib/handlers")},
	}
	if diff := cmp.Diff(want, got.Overrides); diff != "" {
		t.Errorf("overrides mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeTypeTieBreaksOnPatternNotRepo(t *testing.T) {
	got := MergeType(map[string]ingest.ExtractionRule{
		"aaa": rule("aaa", "*Zed"),
		"zzz": rule("zzz", "*Alpha"),
	})
	assert.Equal(t, "*Alpha", got.ClassPattern)
	assert.Equal(t, "zzz", got.BaseRepo)
	require.Contains(t, got.Overrides, "aaa")
	assert.Equal(t, "*Zed", *got.Overrides["aaa"].ClassPattern)
}

func TestMergeTypeSingleRepoHasNoOverrides(t *testing.T) {
	got := MergeType(map[string]ingest.ExtractionRule{"only": rule("only", "*X")})
	assert.Nil(t, got.Overrides)
	assert.Equal(t, "only", got.BaseRepo)
}

func TestOverrideMinimality(t *testing.T) {
	base := rule("a", "*Controller")

	variants := []ingest.ExtractionRule{
		rule("b", "*Controller"),
		func() ingest.ExtractionRule { r := rule("c", "*Controller"); r.Select = "classes"; return r }(),
		func() ingest.ExtractionRule { r := rule("d", "*Other"); r.Fields = nil; return r }(),
	}
	for _, v := range variants {
		o := Diff(base, v)
		if o.ClassPattern != nil {
			assert.NotEqual(t, base.ClassPattern, *o.ClassPattern)
		}
		if o.Location != nil {
			assert.NotEqual(t, base.Location, *o.Location)
		}
		if o.Select != nil {
			assert.NotEqual(t, base.Select, *o.Select)
		}
		if o.Fields != nil {
			assert.NotEqual(t, base.Fields, *o.Fields)
		}
	}

	assert.True(t, Diff(base, variants[0]).IsEmpty())
	assert.Equal(t, Override{Select: ptr("classes")}, Diff(base, variants[1]))
	d := Diff(base, variants[2])
	require.NotNil(t, d.Fields)
	assert.Empty(t, *d.Fields)
}

func TestMergeFullDocuments(t *testing.T) {
	dup := rule("alpha", "*Endpoint")
	dup.Exclude = []string{"test/**"}
	first := rule("alpha", "*Controller")
	first.Exclude = []string{"vendor/**"}

	records := []ingest.Record{
		first,
		rule("beta", "*Controller"),
		dup,
		ingest.Example{ComponentType: "API", Matches: true, Snippet: "m1"},
		ingest.Example{ComponentType: "API", Matches: true, Snippet: "m2"},
		ingest.Example{ComponentType: "API", Matches: true, Snippet: "m3"},
		ingest.Example{ComponentType: "API", Matches: false, Snippet: "n1"},
		ingest.Example{ComponentType: "Event", Matches: true, Snippet: "orphan"},
		ingest.CustomTypeProposal{Name: "Saga", Pattern: "*Saga", InstanceCount: 2},
		ingest.CustomTypeProposal{Name: "Saga", Pattern: "*SagaBig", InstanceCount: 5},
		ingest.CustomTypeProposal{Name: "Job", Pattern: "*Job", InstanceCount: -1},
		ingest.HTTPClient{ClientPattern: "ordersClient", TargetDomain: "orders"},
		ingest.HTTPClient{ClientPattern: "ordersClient", TargetDomain: "orders-v2", Internal: true},
		ingest.HTTPClient{ClientPattern: "billingClient", TargetDomain: "billing"},
		ingest.LinkPattern{Name: "publishes", Indicator: "bus.publish", FromType: "UseCase", ToType: "Event"},
		ingest.ValidationRule{Rule: "no-cycles", Scope: "domain"},
	}

	defs, links, sum := NewMerger(nil).Merge(records, []any{"kept"})

	api := defs.ExtractionRules["API"]
	// alpha's later *Endpoint rule replaced its *Controller rule.
	assert.Equal(t, "*Controller", api.ClassPattern)
	assert.Equal(t, "beta", api.BaseRepo)
	assert.Equal(t, "*Endpoint", *api.Overrides["alpha"].ClassPattern)
	assert.Equal(t, []string{"test/**"}, api.Exclude)
	assert.Equal(t, []string{"API/alpha"}, sum.Replaced)

	require.NotNil(t, api.Examples)
	assert.Equal(t, []string{"m1", "m2"}, api.Examples.Matches)
	assert.Equal(t, []string{"n1"}, api.Examples.NotMatches)
	assert.Equal(t, 1, sum.OrphanExamples)

	require.Len(t, defs.CustomTypeProposals, 2)
	assert.Equal(t, "Job", defs.CustomTypeProposals[0].Name)
	assert.Nil(t, defs.CustomTypeProposals[0].InstanceCount)
	assert.Equal(t, "*SagaBig", defs.CustomTypeProposals[1].Pattern)
	assert.Equal(t, int64(5), *defs.CustomTypeProposals[1].InstanceCount)
	assert.Equal(t, []any{"kept"}, defs.CustomTypes)

	assert.Equal(t, []HTTPClient{
		{ClientPattern: "billingClient", TargetDomain: "billing"},
		{ClientPattern: "ordersClient", TargetDomain: "orders-v2", Internal: true},
	}, links.HTTPClients)
	assert.Len(t, links.LinkPatterns, 1)
	assert.Len(t, links.ValidationRules, 1)
	assert.Equal(t, "1.0", links.Version)
}

func TestMergeIsolatesTypes(t *testing.T) {
	event := rule("alpha", "*Event")
	event.ComponentType = "Event"

	defs, _, _ := NewMerger(nil).Merge([]ingest.Record{
		rule("alpha", "*Controller"),
		rule("beta", "*Other"),
		event,
	}, nil)

	assert.Len(t, defs.ExtractionRules, 2)
	assert.Nil(t, defs.ExtractionRules["Event"].Overrides)
	assert.Equal(t, []any{}, defs.CustomTypes)
}
