package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/settle/internal/engine"
)

// ErrInjected is returned by an Executor for instructions it was told to
// fail.
var ErrInjected = errors.New("injected executor failure")

// Executor is an in-memory asset executor that records every instruction
// and fails the ones a test selects.
//
// It is idempotent by instruction key like a real executor: a key that
// already succeeded succeeds again without being recorded twice.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Executor struct {
	mu       sync.Mutex
	attempts []engine.Instruction
	done     []engine.Instruction
	seen     map[string]bool
	fail     []func(engine.Instruction) bool
}

// NewExecutor creates an executor that accepts everything.
func NewExecutor() *Executor {
	return &Executor{seen: make(map[string]bool)}
}

// FailWhen makes every instruction matching pred fail with ErrInjected.
func (x *Executor) FailWhen(pred func(engine.Instruction) bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.fail = append(x.fail, pred)
}

// FailRef fails forward instructions acting on ref (a leg or obligation id).
// Compensations for ref still succeed.
func (x *Executor) FailRef(ref string) {
	x.FailWhen(func(in engine.Instruction) bool {
		return in.Compensates == "" && in.Ref() == ref
	})
}

// FailKind fails forward instructions of kind.
func (x *Executor) FailKind(kind engine.InstructionKind) {
	x.FailWhen(func(in engine.Instruction) bool {
		return in.Compensates == "" && in.Kind == kind
	})
}

// Heal clears every failure rule.
func (x *Executor) Heal() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.fail = nil
}

// Execute implements engine.Executor.
func (x *Executor) Execute(_ context.Context, in engine.Instruction) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.attempts = append(x.attempts, in)
	for _, pred := range x.fail {
		if pred(in) {
			return ErrInjected
		}
	}
	if x.seen[in.Key] {
		return nil
	}
	x.seen[in.Key] = true
	x.done = append(x.done, in)
	return nil
}

// Attempts returns every instruction received, including failed ones.
func (x *Executor) Attempts() []engine.Instruction {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]engine.Instruction(nil), x.attempts...)
}

// Executed returns the instructions that succeeded, once per key.
func (x *Executor) Executed() []engine.Instruction {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]engine.Instruction(nil), x.done...)
}

// Outstanding returns the successful forward instructions that were not
// later compensated. After a failed operation it must be empty.
func (x *Executor) Outstanding() []engine.Instruction {
	x.mu.Lock()
	defer x.mu.Unlock()

	undone := make(map[string]bool)
	for _, in := range x.done {
		if in.Compensates != "" {
			undone[in.Compensates] = true
		}
	}
	var out []engine.Instruction
	for _, in := range x.done {
		if in.Compensates == "" && !undone[in.Key] {
			out = append(out, in)
		}
	}
	return out
}

// Reset forgets every recorded instruction. Failure rules are kept.
func (x *Executor) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.attempts = nil
	x.done = nil
	x.seen = make(map[string]bool)
}
