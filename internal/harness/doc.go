// Package harness runs settlement scenarios written in YAML against a real
// engine and compares the resulting trace with golden files.
//
// # Scenario Format
//
//	name: atomic_swap
//	description: "Two holders exchange obligations"
//	start: 2026-03-02T12:00:00Z
//	steps:
//	  - as: alice
//	    op: obligation.create
//	    bind: X
//	    args:
//	      counterparty: carol
//	      denomination: USD
//	      acceptance_deadline: T+7d
//	      legs: [{amount: "100"}]
//	  - at: T+1d
//	    as: bob
//	    op: swap.complete
//	    args: {id: $S}
//	    expect: {status: COMPLETED}
//	assertions:
//	  - type: holder
//	    ref: $X
//	    expect: bob
//
// Scalars of the form $NAME are replaced by the id bound with bind; $NAME/1
// appends a suffix, which names legs. Scalars of the form T, T+2d or T-1h
// are times relative to start. A step without expect must succeed.
//
// # Determinism
//
// Each run uses a fresh in-memory store, a manual clock, sequential ids
// (id-1, id-2, ...) and an in-memory executor and oracle, so the same
// scenario always produces the same trace.
package harness
