package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_Corroboration(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/corroboration.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestGolden_CascadeAbort(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/cascade_abort.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/corroboration.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Snapshot(s.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Output, second.Output)
}
