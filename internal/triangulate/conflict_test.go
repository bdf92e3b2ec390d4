package triangulate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/triangulate/internal/ir"
)

func TestContradicts(t *testing.T) {
	tests := []struct {
		name string
		a, b ir.Value
		want bool
	}{
		{"equal strings", ir.String("v1"), ir.String("v1"), false},
		{"different strings", ir.String("v1"), ir.String("v2"), true},
		{"int vs string", ir.Int(1), ir.String("1"), true},
		{"null vs null", ir.Null{}, ir.Null{}, false},
		{"null vs value", ir.Null{}, ir.String("x"), true},
		{"bools", ir.Bool(true), ir.Bool(false), true},
		{"array reordered", ir.Array{ir.String("a"), ir.String("b")}, ir.Array{ir.String("b"), ir.String("a")}, false},
		{"array cardinality", ir.Array{ir.String("a")}, ir.Array{ir.String("a"), ir.String("a")}, true},
		{"array multiset", ir.Array{ir.String("a"), ir.String("a"), ir.String("b")}, ir.Array{ir.String("a"), ir.String("b"), ir.String("b")}, true},
		{"array element", ir.Array{ir.String("a")}, ir.Array{ir.String("c")}, true},
		{"object key order", ir.Object{"x": ir.Int(1), "y": ir.Int(2)}, ir.Object{"y": ir.Int(2), "x": ir.Int(1)}, false},
		{"object value", ir.Object{"x": ir.Int(1)}, ir.Object{"x": ir.Int(2)}, true},
		{"array vs object", ir.Array{}, ir.Object{}, true},
		{"nested array reordered",
			ir.Object{"tags": ir.Array{ir.String("a"), ir.String("b")}},
			ir.Object{"tags": ir.Array{ir.String("b"), ir.String("a")}}, false},
		{"array of arrays reordered",
			ir.Array{ir.Array{ir.Int(1), ir.Int(2)}, ir.Array{ir.Int(3)}},
			ir.Array{ir.Array{ir.Int(3)}, ir.Array{ir.Int(2), ir.Int(1)}}, false},
		{"nested array element",
			ir.Object{"tags": ir.Array{ir.String("a"), ir.String("b")}},
			ir.Object{"tags": ir.Array{ir.String("a"), ir.String("c")}}, true},
		{"equal numbers", ir.Number("0.8"), ir.Number("0.8"), false},
		{"different numbers", ir.Number("0.8"), ir.Number("0.75"), true},
		{"int vs number", ir.Int(1), ir.Number("1.5"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Contradicts(tt.a, tt.b))
			assert.Equal(t, tt.want, Contradicts(tt.b, tt.a))
		})
	}
}

func TestMergeFieldsFirstSeenWins(t *testing.T) {
	data, conflicts := mergeFields([]observationView{
		{origin: "p1", fields: ir.Object{"schema": ir.String("v1")}},
		{origin: "p2", fields: ir.Object{"schema": ir.String("v2"), "owner": ir.String("team")}},
		{origin: "p3", fields: ir.Object{"schema": ir.String("v3")}},
	})

	assert.Equal(t, ir.Object{"schema": ir.String("v1"), "owner": ir.String("team")}, data)
	assert.Equal(t, []Conflict{{
		Field: "schema",
		Values: map[string]ir.Value{
			"p1": ir.String("v1"),
			"p2": ir.String("v2"),
			"p3": ir.String("v3"),
		},
	}}, conflicts)
}

func TestMergeFieldsAbsentNeverConflicts(t *testing.T) {
	_, conflicts := mergeFields([]observationView{
		{origin: "p1", fields: ir.Object{"schema": ir.String("v1")}},
		{origin: "p2", fields: ir.Object{}},
	})
	assert.Empty(t, conflicts)
}

func TestMergeFieldsSameOriginIsNotAConflict(t *testing.T) {
	_, conflicts := mergeFields([]observationView{
		{origin: "p1", fields: ir.Object{"schema": ir.String("v1")}},
		{origin: "p1", fields: ir.Object{"schema": ir.String("v2")}},
	})
	assert.Empty(t, conflicts)
}

func TestMergeFieldsKeepsFirstValuePerOrigin(t *testing.T) {
	_, conflicts := mergeFields([]observationView{
		{origin: "p1", fields: ir.Object{"schema": ir.String("v1")}},
		{origin: "p2", fields: ir.Object{"schema": ir.String("v2")}},
		{origin: "p2", fields: ir.Object{"schema": ir.String("v3")}},
	})
	assert.Equal(t, map[string]ir.Value{"p1": ir.String("v1"), "p2": ir.String("v2")}, conflicts[0].Values)
}
