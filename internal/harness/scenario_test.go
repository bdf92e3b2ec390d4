package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Files(t *testing.T) {
	for _, name := range []string{"corroboration", "cascade_abort", "rejection_continues", "apply_trusted"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)
			assert.Equal(t, name, s.Name)
			assert.NotEmpty(t, s.Inputs)
			assert.NotEmpty(t, s.Assertions)
		})
	}
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: `
name: x
description: d
inputs: {meta-a.jsonl: "{}"}
consolidate: {}
assertion: []
`,
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: `
description: d
inputs: {meta-a.jsonl: "{}"}
consolidate: {}
assertions: [{type: absent, name: X}]
`,
			want: "name is required",
		},
		{
			name: "no inputs",
			yaml: `
name: x
description: d
consolidate: {}
assertions: [{type: absent, name: X}]
`,
			want: "inputs are required",
		},
		{
			name: "nested input path",
			yaml: `
name: x
description: d
inputs: {"sub/meta-a.jsonl": "{}"}
consolidate: {}
assertions: [{type: absent, name: X}]
`,
			want: "bare file name",
		},
		{
			name: "no stage",
			yaml: `
name: x
description: d
inputs: {meta-a.jsonl: "{}"}
assertions: [{type: absent, name: X}]
`,
			want: "at least one of consolidate or replay",
		},
		{
			name: "apply with replay",
			yaml: `
name: x
description: d
inputs: {meta-a.jsonl: "{}"}
consolidate: {apply: true}
replay: {kind: components}
assertions: [{type: absent, name: X}]
`,
			want: "cannot be combined",
		},
		{
			name: "unknown replay kind",
			yaml: `
name: x
description: d
inputs: {extract-a.jsonl: "{}"}
replay: {kind: widgets}
assertions: [{type: replay_status, status: complete}]
`,
			want: "unknown replay kind",
		},
		{
			name: "poison on sqlite",
			yaml: `
name: x
description: d
inputs: {extract-a.jsonl: "{}"}
replay: {kind: components, store: sqlite, poison: {k: /x}}
assertions: [{type: replay_status, status: complete}]
`,
			want: "need the memory store",
		},
		{
			name: "unknown assertion",
			yaml: `
name: x
description: d
inputs: {meta-a.jsonl: "{}"}
consolidate: {}
assertions: [{type: trace_contains}]
`,
			want: "unknown assertion type",
		},
		{
			name: "bad confidence",
			yaml: `
name: x
description: d
inputs: {meta-a.jsonl: "{}"}
consolidate: {}
assertions: [{type: confidence, name: X, confidence: SURE}]
`,
			want: "unknown confidence",
		},
		{
			name: "near duplicate needs two names",
			yaml: `
name: x
description: d
inputs: {meta-a.jsonl: "{}"}
consolidate: {}
assertions: [{type: near_duplicate, names: [A]}]
`,
			want: "exactly two names",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
