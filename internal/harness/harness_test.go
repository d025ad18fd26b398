package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, content string) *Result {
	t.Helper()
	scenario, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	return result
}

func TestRun_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Steps, len(scenario.Steps))
		})
	}
}

func TestRun_BindingsAndTrace(t *testing.T) {
	result := run(t, `
name: bindings
description: "Bound ids flow into later steps"
steps:
  - as: alice
    op: obligation.create
    bind: X
    args:
      counterparty: bob
      denomination: USD
      acceptance_deadline: T+7d
      legs: [{amount: "100"}]
  - as: alice
    op: obligation.transfer
    bind: X2
    args: {id: $X, new_holder: carol}
`)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "id-1", result.Bindings["X"])
	assert.Equal(t, "id-2", result.Bindings["X2"])

	require.Len(t, result.Steps, 2)
	assert.Equal(t, TraceStep{Step: 2, Op: "obligation.transfer", As: "alice", Target: "id-1", Outcome: "ok", Result: "id-2", Status: "ACTIVE"}, result.Steps[1])
	require.Len(t, result.Events, 2)
	assert.Equal(t, "obligation.transferred", string(result.Events[1].Kind))
	assert.Equal(t, "id-1", result.Events[1].Entity)
}

func TestRun_UnexpectedOutcomesFail(t *testing.T) {
	result := run(t, `
name: unexpected
description: "Expectations that do not hold are reported"
steps:
  - as: alice
    op: obligation.create
    bind: X
    args:
      counterparty: bob
      denomination: USD
      acceptance_deadline: T+7d
      legs: [{amount: "100"}]
    expect: {status: COMPLETED}
  - as: carol
    op: obligation.accept
    args: {id: $X}
  - as: bob
    op: obligation.cancel
    args: {id: $X}
    expect: {error: NOT_FOUND}
assertions:
  - type: holder
    ref: $X
    expect: dan
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "expected status COMPLETED, got ACTIVE")
	assert.Contains(t, result.Errors[1], "unexpected error")
	assert.Contains(t, result.Errors[2], "expected error NOT_FOUND")
	assert.Contains(t, result.Errors[3], "expected dan, got alice")

	assert.Equal(t, "NOT_COUNTERPARTY", result.Steps[1].Outcome)
	assert.Empty(t, result.Steps[1].Result)
}

func TestRun_UnboundReference(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: unbound
description: "References must be bound first"
steps:
  - as: bob
    op: swap.complete
    args: {id: $S}
`))
	require.NoError(t, err)
	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbound reference $S")
}

func TestRun_OracleGatedRelease(t *testing.T) {
	result := run(t, `
name: oracle_gate
description: "A leg waits for its oracle value"
steps:
  - as: alice
    op: obligation.create
    bind: O
    args:
      counterparty: bob
      denomination: USD
      acceptance_deadline: T+7d
      legs:
        - amount: "100"
          condition:
            receiver_oracle: {owner: carol, address: feed-1, key: delivery, value: confirmed}
  - as: bob
    op: obligation.accept
    args: {id: $O}
  - op: release.all
    expect: {status: "0"}
  - op: oracle.set
    args: {owner: carol, address: feed-1, key: delivery, value: pending}
  - op: release.all
    expect: {status: "0"}
  - op: oracle.set
    args: {owner: carol, address: feed-1, key: delivery, value: confirmed}
  - op: release.all
    expect: {status: "1"}
assertions:
  - type: legs
    ref: $O
    values: [COMPLETED]
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ComposedTransfer(t *testing.T) {
	result := run(t, `
name: composed
description: "A composed transfer moves every member"
steps:
  - as: alice
    op: obligation.create
    bind: A
    args: {counterparty: bob, denomination: USD, acceptance_deadline: T+7d, legs: [{amount: "10"}]}
  - as: alice
    op: obligation.create
    bind: B
    args: {counterparty: bob, denomination: USD, acceptance_deadline: T+7d, legs: [{amount: "20"}]}
  - as: alice
    op: composed.create
    bind: G
    args: {members: [$A, $B]}
  - as: alice
    op: composed.execute
    args: {id: $G, op: transfer, new_holder: carol}
    expect: {status: ACTIVE}
  - as: bob
    op: composed.execute
    args: {id: $G, op: accept}
    expect: {status: COMPLETED}
assertions:
  - type: holder
    ref: $A
    expect: carol
  - type: holder
    ref: $B
    expect: carol
  - type: status
    ref: $G
    expect: COMPLETED
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Repeatable(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/atomic_swap.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Steps, second.Steps)
	assert.Equal(t, first.Events, second.Events)
}
