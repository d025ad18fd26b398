package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/settle/internal/canon"
)

// TraceSnapshot is the part of a run that golden files pin down.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Steps    []TraceStep  `json:"steps"`
	Events   []TraceEvent `json:"events"`
}

// Snapshot returns the canonical JSON trace of a result.
func Snapshot(name string, result *Result) ([]byte, error) {
	tree, err := canon.Normalize(TraceSnapshot{
		Scenario: name,
		Steps:    result.Steps,
		Events:   result.Events,
	})
	if err != nil {
		return nil, err
	}
	return canon.Marshal(tree)
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	trace, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, trace)
	return nil
}
