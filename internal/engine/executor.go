package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// InstructionKind is the kind of value movement requested from the asset
// executor.
type InstructionKind string

const (
	// InstructionEscrow moves a leg's amount from its source into escrow.
	InstructionEscrow InstructionKind = "ESCROW"
	// InstructionRelease pays escrowed funds out to the payee.
	InstructionRelease InstructionKind = "RELEASE"
	// InstructionRefund returns escrowed funds to the source.
	InstructionRefund InstructionKind = "REFUND"
	// InstructionClawback takes released funds back from the payee into
	// escrow. It only appears as the compensation of a release.
	InstructionClawback InstructionKind = "CLAWBACK"
	// InstructionTransfer moves ownership of an obligation between parties.
	InstructionTransfer InstructionKind = "TRANSFER"
)

// Instruction is one request to the asset executor.
//
// Key is derived from the request key, the attempt, the kind and the leg (or
// obligation), so the executor can de-duplicate at-least-once deliveries
// within an attempt. A new attempt under the same request key gets new keys.
type Instruction struct {
	Kind         InstructionKind `json:"kind"`
	Key          string          `json:"key"`
	EntityID     string          `json:"entity_id"`
	LegID        string          `json:"leg_id,omitempty"`
	ObligationID string          `json:"obligation_id,omitempty"`
	Amount       decimal.Decimal `json:"amount,omitzero"`
	Denomination string          `json:"denomination,omitempty"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	Compensates  string          `json:"compensates,omitempty"`
}

// Ref names the leg or obligation the instruction acts on.
func (i Instruction) Ref() string {
	if i.LegID != "" {
		return i.LegID
	}
	return i.ObligationID
}

// String renders the instruction for logs and traces.
func (i Instruction) String() string {
	if i.Kind == InstructionTransfer {
		return fmt.Sprintf("%s %s %s->%s", i.Kind, i.ObligationID, i.From, i.To)
	}
	return fmt.Sprintf("%s %s %s %s %s->%s", i.Kind, i.LegID, i.Amount.String(), i.Denomination, i.From, i.To)
}

// Compensation returns the instruction that undoes i. An escrow is undone by
// a refund and a release by a clawback, and vice versa. Transfers are
// reversed. Leg instructions keep the leg's direction; the kind says which
// way the funds move.
func (i Instruction) Compensation() Instruction {
	c := i
	c.Key = i.Key + "/compensate"
	c.Compensates = i.Key
	switch i.Kind {
	case InstructionEscrow:
		c.Kind = InstructionRefund
	case InstructionRefund:
		c.Kind = InstructionEscrow
	case InstructionRelease:
		c.Kind = InstructionClawback
	case InstructionClawback:
		c.Kind = InstructionRelease
	default:
		c.From, c.To = i.To, i.From
	}
	return c
}

// instructionKey scopes an instruction to one attempt of a request. The
// first attempt uses the bare request key.
func instructionKey(key string, attempt int64, in Instruction) string {
	if attempt > 1 {
		key = fmt.Sprintf("%s~%d", key, attempt)
	}
	return fmt.Sprintf("%s/%s/%s", key, in.Kind, in.Ref())
}

// Executor performs value movement outside the engine. Execute must be
// idempotent by Instruction.Key.
type Executor interface {
	Execute(ctx context.Context, in Instruction) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, in Instruction) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, in Instruction) error {
	return f(ctx, in)
}

// LogExecutor accepts every instruction and logs it. It stands in for a
// ledger when the engine runs standalone.
type LogExecutor struct {
	Logger *slog.Logger
}

// Execute implements Executor.
func (x LogExecutor) Execute(_ context.Context, in Instruction) error {
	logger := x.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("execute", "instruction", in.String(), "key", in.Key)
	return nil
}

// runInstructions executes ins in order. On the first failure every
// instruction that already succeeded is compensated in reverse order and an
// EXECUTOR_FAILED error naming the failing leg is returned.
func runInstructions(ctx context.Context, x Executor, logger *slog.Logger, ins []Instruction) ([]Instruction, error) {
	done := make([]Instruction, 0, len(ins))
	for _, in := range ins {
		if err := x.Execute(ctx, in); err != nil {
			compensate(ctx, x, logger, done)
			return nil, &Error{
				Kind:     KindExecutorFailed,
				EntityID: in.EntityID,
				Member:   in.Ref(),
				Message:  fmt.Sprintf("%s failed", in.Kind),
				Err:      err,
			}
		}
		done = append(done, in)
	}
	return done, nil
}

// compensate undoes done in reverse order. Compensation failures are logged;
// there is nothing further the engine can roll back.
func compensate(ctx context.Context, x Executor, logger *slog.Logger, done []Instruction) {
	ctx = context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		c := done[i].Compensation()
		if err := x.Execute(ctx, c); err != nil {
			logger.Error("compensation failed",
				"instruction", c.String(),
				"key", c.Key,
				"error", err,
			)
			continue
		}
		logger.Warn("compensated", "instruction", c.String(), "key", c.Key)
	}
}
