package triangulate

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triangulate/internal/ingest"
	"github.com/roach88/triangulate/internal/ir"
)

func obs(file string, line int, origin, key string, fields ir.Object) ingest.Observation {
	if fields == nil {
		fields = ir.Object{}
	}
	return ingest.Observation{
		Origin: origin,
		Key:    key,
		Fields: fields,
		Source: ingest.SourceRef{File: file, Line: line},
	}
}

func orderPlacedScenario() []ingest.Observation {
	return []ingest.Observation{
		obs("meta-p1.jsonl", 1, "p1", "OrderPlaced", ir.Object{"schema": ir.String("v1")}),
		obs("meta-p1.jsonl", 2, "p1", "PaymentFailed", ir.Object{"tags": ir.Array{ir.String("b"), ir.String("a")}}),
		obs("meta-p2.jsonl", 1, "p2", "OrderPlaced", ir.Object{"schema": ir.String("v1")}),
		obs("meta-p2.jsonl", 2, "p2", "paymentfailed", ir.Object{"tags": ir.Array{ir.String("a"), ir.String("b")}}),
		obs("meta-p3.jsonl", 1, "p3", "OrderPlaced", ir.Object{"schema": ir.String("v1")}),
		obs("meta-p3.jsonl", 2, "p3", "Refund", nil),
		obs("meta-p4.jsonl", 1, "p4", "OrderPlaced", ir.Object{"schema": ir.String("v2")}),
	}
}

func TestConsolidateOrderPlaced(t *testing.T) {
	res := Consolidate(orderPlacedScenario(), Options{}, nil)

	require.Len(t, res.Records, 3)
	order := res.Records[0]
	assert.Equal(t, "OrderPlaced", order.Name)
	assert.Equal(t, High, order.Confidence)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, order.Origins)
	assert.Equal(t, ir.String("v1"), order.Data["schema"], "conflicted field keeps first-seen value")
	assert.Equal(t, []Conflict{{
		Field:  "schema",
		Values: map[string]ir.Value{"p1": ir.String("v1"), "p4": ir.String("v2")},
	}}, order.Conflicts)

	payment := res.Records[1]
	assert.Equal(t, "PaymentFailed", payment.Name, "canonical name keeps first-seen casing")
	assert.Equal(t, Medium, payment.Confidence)
	assert.False(t, payment.HasConflicts(), "ordering alone never conflicts")

	assert.Equal(t, Low, res.Records[2].Confidence)
	assert.Equal(t, []string{"Refund"}, res.ReviewQueue())
	assert.True(t, res.NeedsAttention())

	high, medium, low, conflicted := res.Counts()
	assert.Equal(t, []int{1, 1, 1, 1}, []int{high, medium, low, conflicted})
}

func TestConsolidateFloatFieldsCorroborate(t *testing.T) {
	lines := []string{
		`{"name":"OrderPlaced","prong":"p1","score":0.8}`,
		`{"name":"OrderPlaced","prong":"p2","score":0.8,"kind":"event"}`,
		`{"name":"OrderPlaced","prong":"p3","score":0.75}`,
	}
	var observations []ingest.Observation
	for i, line := range lines {
		obj, err := ir.DecodeObject([]byte(line))
		require.NoError(t, err)
		rec, err := ingest.Decode(obj, ingest.SourceRef{File: "meta.jsonl", Line: i + 1},
			ingest.DecodeOptions{DefaultKind: ingest.KindObservation})
		require.NoError(t, err)
		observations = append(observations, rec.(ingest.Observation))
	}

	res := Consolidate(observations, Options{}, nil)
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, High, rec.Confidence)
	assert.Equal(t, []string{"p1", "p2", "p3"}, rec.Origins)
	assert.Equal(t, []Conflict{{
		Field:  "score",
		Values: map[string]ir.Value{"p1": ir.Number("0.8"), "p3": ir.Number("0.75")},
	}}, rec.Conflicts)

	data, err := EncodeJSONL(res.Records)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"score":0.8`)
	assert.Contains(t, string(data), `"kind":"event"`)
}

func TestConsolidateGolden(t *testing.T) {
	res := Consolidate(orderPlacedScenario(), Options{}, nil)
	data, err := EncodeJSONL(res.Records)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "orderplaced", data)
}

func TestConsolidateNearDuplicatesWithheld(t *testing.T) {
	res := Consolidate([]ingest.Observation{
		obs("meta-a.jsonl", 1, "a", "checkout-flow", nil),
		obs("meta-b.jsonl", 1, "b", "checkout-flw", nil),
		obs("meta-b.jsonl", 2, "b", "Payment", nil),
	}, Options{}, nil)

	require.Len(t, res.NearDuplicates, 1)
	nd := res.NearDuplicates[0]
	assert.Equal(t, "checkout-flow", nd.NameA)
	assert.Equal(t, "checkout-flw", nd.NameB)
	assert.Equal(t, 1, nd.Distance)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "Payment", res.Records[0].Name)
	assert.Equal(t, 3, res.Observations)
	assert.True(t, res.NeedsAttention())
}

func TestConsolidateNearDuplicateDetectionDisabled(t *testing.T) {
	res := Consolidate([]ingest.Observation{
		obs("meta-a.jsonl", 1, "a", "checkout-flow", nil),
		obs("meta-b.jsonl", 1, "b", "checkout-flw", nil),
	}, Options{MaxEditDistance: -1}, nil)

	assert.Empty(t, res.NearDuplicates)
	assert.Len(t, res.Records, 2)
}

func TestConsolidateExactNormalizedMatchMerges(t *testing.T) {
	res := Consolidate([]ingest.Observation{
		obs("meta-a.jsonl", 1, "a", "Checkout Flow", nil),
		obs("meta-b.jsonl", 1, "b", "checkout_flow", nil),
		obs("meta-c.jsonl", 1, "c", "CHECKOUT-FLOW", nil),
	}, Options{}, nil)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "Checkout Flow", res.Records[0].Name)
	assert.Equal(t, High, res.Records[0].Confidence)
	assert.Empty(t, res.NearDuplicates)
}

func TestConsolidateDropsEmptyIdentity(t *testing.T) {
	res := Consolidate([]ingest.Observation{
		obs("meta-a.jsonl", 1, "a", "---", nil),
		obs("meta-a.jsonl", 2, "a", "Real", nil),
	}, Options{}, nil)

	require.Len(t, res.Dropped, 1)
	assert.Equal(t, 1, res.Dropped[0].Source.Line)
	assert.Len(t, res.Records, 1)
}

func TestConsolidateRepeatedOriginDoesNotInflate(t *testing.T) {
	res := Consolidate([]ingest.Observation{
		obs("meta-a.jsonl", 1, "p1", "X", nil),
		obs("meta-a.jsonl", 2, "p1", "X", nil),
		obs("meta-b.jsonl", 1, "p1", "x", nil),
	}, Options{}, nil)

	require.Len(t, res.Records, 1)
	assert.Equal(t, Low, res.Records[0].Confidence)
	assert.Equal(t, []string{"p1"}, res.Records[0].Origins)
	assert.Len(t, res.Records[0].Sources, 3)
}

func TestConsolidateDeterministicAcrossInputOrder(t *testing.T) {
	base := orderPlacedScenario()
	want, err := EncodeJSONL(Consolidate(base, Options{}, nil).Records)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 25; i++ {
		shuffled := slices.Clone(base)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := EncodeJSONL(Consolidate(shuffled, Options{}, nil).Records)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	}
}

func TestConfidenceMonotonicity(t *testing.T) {
	var observations []ingest.Observation
	prev := Low
	for n := 1; n <= 5; n++ {
		origin := string(rune('a' + n - 1))
		observations = append(observations, obs("meta-"+origin+".jsonl", 1, origin, "Entity", nil))

		res := Consolidate(observations, Options{}, nil)
		require.Len(t, res.Records, 1)
		got := res.Records[0].Confidence

		assert.Equal(t, Score(n), got)
		assert.LessOrEqual(t, got.Rank(), prev.Rank(), "adding an origin never lowers confidence")
		prev = got
	}
}

func TestConflictSymmetry(t *testing.T) {
	a := obs("meta-a.jsonl", 1, "A", "Thing", ir.Object{"f": ir.String("from-a")})
	b := obs("meta-b.jsonl", 1, "B", "Thing", ir.Object{"f": ir.String("from-b")})

	forward := Consolidate([]ingest.Observation{a, b}, Options{}, nil)

	// Swap which log A and B live in, so B is read first.
	a.Source.File, b.Source.File = b.Source.File, a.Source.File
	swapped := Consolidate([]ingest.Observation{a, b}, Options{}, nil)

	for _, res := range []*Result{forward, swapped} {
		require.Len(t, res.Records, 1)
		require.Len(t, res.Records[0].Conflicts, 1)
		values := res.Records[0].Conflicts[0].Values
		assert.Equal(t, ir.String("from-a"), values["A"])
		assert.Equal(t, ir.String("from-b"), values["B"])
	}
}

func TestHighConfidenceRecordStillCarriesConflict(t *testing.T) {
	res := Consolidate([]ingest.Observation{
		obs("meta-1.jsonl", 1, "p1", "E", ir.Object{"f": ir.Int(1)}),
		obs("meta-2.jsonl", 1, "p2", "E", ir.Object{"f": ir.Int(2)}),
		obs("meta-3.jsonl", 1, "p3", "E", ir.Object{"f": ir.Int(1)}),
	}, Options{}, nil)

	require.Len(t, res.Records, 1)
	assert.Equal(t, High, res.Records[0].Confidence)
	assert.True(t, res.Records[0].HasConflicts())
}

func TestRecordFromObjectRoundTrip(t *testing.T) {
	res := Consolidate(orderPlacedScenario(), Options{}, nil)
	rec := res.Records[0]

	line, err := ir.MarshalCanonical(rec.ToObject())
	require.NoError(t, err)
	obj, err := ir.DecodeObject(line)
	require.NoError(t, err)

	back, err := RecordFromObject(obj)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, back.Name)
	assert.Equal(t, rec.Key, back.Key)
	assert.Equal(t, rec.Confidence, back.Confidence)
	assert.Equal(t, rec.Origins, back.Origins)
	assert.Equal(t, rec.Data, back.Data)
	assert.Len(t, back.Conflicts, 1)
}
