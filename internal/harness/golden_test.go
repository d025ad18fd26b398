package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_AtomicSwap(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/atomic_swap.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_Canonical(t *testing.T) {
	result := NewResult()
	result.Steps = append(result.Steps, TraceStep{Step: 1, Op: "release.all", Outcome: "ok", Status: "0"})

	got, err := Snapshot("empty", result)
	require.NoError(t, err)
	assert.Equal(t, `{"events":[],"scenario":"empty","steps":[{"op":"release.all","outcome":"ok","status":"0","step":1}]}`, string(got))
}
