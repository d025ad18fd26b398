package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
start: 2026-03-02T12:00:00Z
steps:
  - as: alice
    op: obligation.create
    bind: X
    args:
      counterparty: bob
      acceptance_deadline: T+7d
  - at: T+1d
    as: bob
    perms: [owner]
    op: obligation.accept
    key: accept-x
    args: {id: $X}
    expect: {status: COMPLETED}
assertions:
  - type: status
    ref: $X
    expect: COMPLETED
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), scenario.Start.UTC())
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, "X", scenario.Steps[0].Bind)
	assert.Equal(t, []string{"owner"}, scenario.Steps[1].Perms)
	assert.Equal(t, "accept-x", scenario.Steps[1].Key)
	assert.Equal(t, "COMPLETED", scenario.Steps[1].Expect.Status)
	require.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_DefaultStart(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: s
description: d
steps:
  - op: release.all
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultStart, scenario.Start)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nsteps: [{op: release.all}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: s\nsteps: [{op: release.all}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			content: "name: s\ndescription: d\nsteps: []\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown op",
			content: "name: s\ndescription: d\nsteps: [{as: alice, op: obligation.settle}]\n",
			wantErr: `unknown op "obligation.settle"`,
		},
		{
			name:    "missing caller",
			content: "name: s\ndescription: d\nsteps: [{op: swap.complete}]\n",
			wantErr: "as is required for swap.complete",
		},
		{
			name:    "bad time",
			content: "name: s\ndescription: d\nsteps: [{at: tomorrow, op: release.all}]\n",
			wantErr: "steps[0].at",
		},
		{
			name:    "duplicate bind",
			content: "name: s\ndescription: d\nsteps: [{op: release.all, bind: A}, {op: release.all, bind: A}]\n",
			wantErr: `"A" is already bound`,
		},
		{
			name:    "exclusive expect",
			content: "name: s\ndescription: d\nsteps: [{op: release.all, expect: {error: NOT_FOUND, status: \"1\"}}]\n",
			wantErr: "error and status are exclusive",
		},
		{
			name:    "unknown field",
			content: "name: s\ndescription: d\nsteps: [{op: release.all, invoke: x}]\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unknown assertion",
			content: "name: s\ndescription: d\nsteps: [{op: release.all}]\nassertions: [{type: balance}]\n",
			wantErr: `unknown assertion type "balance"`,
		},
		{
			name:    "status without expect",
			content: "name: s\ndescription: d\nsteps: [{op: release.all}]\nassertions: [{type: status, ref: $X}]\n",
			wantErr: "ref and expect are required for status",
		},
		{
			name:    "events without ref",
			content: "name: s\ndescription: d\nsteps: [{op: release.all}]\nassertions: [{type: events}]\n",
			wantErr: "ref is required for events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseAt(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"T", start},
		{"T+7d", start.Add(7 * 24 * time.Hour)},
		{"T-1h", start.Add(-time.Hour)},
		{"T+2d12h", start.Add(60 * time.Hour)},
		{"T+90m", start.Add(90 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAt(start, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "T+", "X+1d", "T+xd", "T+1w", "T*2d"} {
		_, err := ParseAt(start, bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, path := range paths {
		_, err := LoadScenario(path)
		assert.NoError(t, err, path)
	}
}
