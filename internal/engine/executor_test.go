package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// recorder is an Executor that records calls and fails the keys in fail.
type recorder struct {
	calls []Instruction
	fail  map[string]bool
}

func (r *recorder) Execute(_ context.Context, in Instruction) error {
	r.calls = append(r.calls, in)
	if r.fail[in.Key] {
		return errors.New("boom")
	}
	return nil
}

func escrowOf(leg string) Instruction {
	return Instruction{
		Kind:         InstructionEscrow,
		Key:          "k/ESCROW/" + leg,
		EntityID:     "ob-1",
		LegID:        leg,
		Amount:       decimal.NewFromInt(10),
		Denomination: "USD",
		From:         "bob",
		To:           "alice",
	}
}

func TestInstruction_Compensation(t *testing.T) {
	in := escrowOf("ob-1/1")
	c := in.Compensation()
	assert.Equal(t, InstructionRefund, c.Kind)
	assert.Equal(t, in.Key, c.Compensates)
	assert.Equal(t, in.Key+"/compensate", c.Key)
	assert.Equal(t, "bob", c.From, "a refund keeps the leg's direction")

	tr := Instruction{Kind: InstructionTransfer, Key: "k/TRANSFER/ob-1", ObligationID: "ob-1", From: "alice", To: "bob"}
	back := tr.Compensation()
	assert.Equal(t, InstructionTransfer, back.Kind)
	assert.Equal(t, "bob", back.From)
	assert.Equal(t, "alice", back.To)
	assert.Equal(t, "ob-1", back.Ref())
}

func TestInstruction_ReleaseCompensation(t *testing.T) {
	rel := escrowOf("ob-1/1")
	rel.Kind = InstructionRelease
	rel.Key = "release/RELEASE/ob-1/1"

	back := rel.Compensation()
	assert.Equal(t, InstructionClawback, back.Kind, "a release is undone into escrow, not paid to the payer")
	assert.Equal(t, rel.From, back.From)
	assert.Equal(t, rel.To, back.To)
	assert.Equal(t, rel.Key, back.Compensates)

	assert.Equal(t, InstructionRelease, back.Compensation().Kind)
}

func TestInstructionKey(t *testing.T) {
	in := escrowOf("ob-1/1")
	assert.Equal(t, "k/ESCROW/ob-1/1", instructionKey("k", 1, in))
	assert.Equal(t, "k~3/ESCROW/ob-1/1", instructionKey("k", 3, in))

	tr := Instruction{Kind: InstructionTransfer, ObligationID: "ob-2"}
	assert.Equal(t, "k~2/TRANSFER/ob-2", instructionKey("k", 2, tr))
}

func TestInstruction_String(t *testing.T) {
	assert.Equal(t, "ESCROW ob-1/1 10 USD bob->alice", escrowOf("ob-1/1").String())
	tr := Instruction{Kind: InstructionTransfer, ObligationID: "ob-1", From: "alice", To: "bob"}
	assert.Equal(t, "TRANSFER ob-1 alice->bob", tr.String())
}

func TestRunInstructions_AllSucceed(t *testing.T) {
	x := &recorder{}
	ins := []Instruction{escrowOf("l-1"), escrowOf("l-2")}
	done, err := runInstructions(context.Background(), x, discard, ins)
	require.NoError(t, err)
	assert.Equal(t, ins, done)
	assert.Len(t, x.calls, 2)
}

func TestRunInstructions_CompensatesInReverse(t *testing.T) {
	ins := []Instruction{escrowOf("l-1"), escrowOf("l-2"), escrowOf("l-3")}
	x := &recorder{fail: map[string]bool{ins[2].Key: true}}

	_, err := runInstructions(context.Background(), x, discard, ins)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindExecutorFailed, e.Kind)
	assert.Equal(t, "ob-1", e.EntityID)
	assert.Equal(t, "l-3", e.Member)

	var keys []string
	for _, c := range x.calls {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{
		"k/ESCROW/l-1",
		"k/ESCROW/l-2",
		"k/ESCROW/l-3",
		"k/ESCROW/l-2/compensate",
		"k/ESCROW/l-1/compensate",
	}, keys)
}

func TestCompensate_ContinuesPastFailures(t *testing.T) {
	ins := []Instruction{escrowOf("l-1"), escrowOf("l-2")}
	x := &recorder{fail: map[string]bool{"k/ESCROW/l-2/compensate": true}}

	compensate(context.Background(), x, discard, ins)
	require.Len(t, x.calls, 2)
	assert.Equal(t, "k/ESCROW/l-1/compensate", x.calls[1].Key)
}

func TestCompensate_IgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var seen []error
	x := ExecutorFunc(func(ctx context.Context, in Instruction) error {
		seen = append(seen, ctx.Err())
		return nil
	})
	compensate(ctx, x, discard, []Instruction{escrowOf("l-1")})
	assert.Equal(t, []error{nil}, seen)
}
