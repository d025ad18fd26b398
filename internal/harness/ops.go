package harness

import (
	"context"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
)

// Scenario operations.
const (
	OpObligationCreate   = "obligation.create"
	OpObligationAccept   = "obligation.accept"
	OpObligationTransfer = "obligation.transfer"
	OpObligationCancel   = "obligation.cancel"
	OpObligationExpire   = "obligation.expire"
	OpComposedCreate     = "composed.create"
	OpComposedExecute    = "composed.execute"
	OpSwapCreate         = "swap.create"
	OpSwapComplete       = "swap.complete"
	OpSwapCancel         = "swap.cancel"
	OpSwapExpire         = "swap.expire"
	OpSwapRepurchase     = "swap.repurchase"
	OpSwapForfeit        = "swap.forfeit"
	OpRelease            = "release"
	OpReleaseAll         = "release.all"
	OpOracleSet          = "oracle.set"
)

var knownOps = map[string]bool{
	OpObligationCreate:   true,
	OpObligationAccept:   true,
	OpObligationTransfer: true,
	OpObligationCancel:   true,
	OpObligationExpire:   true,
	OpComposedCreate:     true,
	OpComposedExecute:    true,
	OpSwapCreate:         true,
	OpSwapComplete:       true,
	OpSwapCancel:         true,
	OpSwapExpire:         true,
	OpSwapRepurchase:     true,
	OpSwapForfeit:        true,
	OpRelease:            true,
	OpReleaseAll:         true,
	OpOracleSet:          true,
}

// outcome is the part of an operation's result the trace keeps.
type outcome struct {
	id     string
	status string
}

func obligationOutcome(o *domain.Obligation, err error) (outcome, error) {
	if err != nil {
		return outcome{}, err
	}
	return outcome{id: o.ID, status: string(o.Status)}, nil
}

func swapOutcome(sw *domain.Swap, err error) (outcome, error) {
	if err != nil {
		return outcome{}, err
	}
	return outcome{id: sw.ID, status: string(sw.Status)}, nil
}

// idArgs is the argument shape of operations that act on one record.
type idArgs struct {
	ID        string `yaml:"id"`
	NewHolder string `yaml:"new_holder,omitempty"`
}

type repurchaseArgs struct {
	ID                       string `yaml:"id"`
	engine.RepurchaseRequest `yaml:",inline"`
}

type oracleArgs struct {
	Owner   string `yaml:"owner"`
	Address string `yaml:"address"`
	Key     string `yaml:"key"`
	Value   string `yaml:"value"`
}

func decode(n *yaml.Node, out any) error {
	if n.Kind == 0 {
		return nil
	}
	if err := n.Decode(out); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

// dispatch runs one step's operation. It returns the outcome and the id the
// operation targeted, if any.
func (h *Harness) dispatch(ctx context.Context, op string, args *yaml.Node, caller domain.Caller, key string) (outcome, string, error) {
	eng := h.engine
	switch op {
	case OpObligationCreate:
		var req engine.CreateObligationRequest
		if err := decode(args, &req); err != nil {
			return outcome{}, "", err
		}
		out, err := obligationOutcome(eng.CreateObligation(ctx, caller, key, req))
		return out, "", err

	case OpComposedCreate:
		var req struct {
			Members []string `yaml:"members"`
		}
		if err := decode(args, &req); err != nil {
			return outcome{}, "", err
		}
		c, err := eng.CreateComposed(ctx, caller, key, req.Members)
		if err != nil {
			return outcome{}, "", err
		}
		return outcome{id: c.ID, status: string(domain.ObligationActive)}, "", nil

	case OpComposedExecute:
		var req engine.ComposedRequest
		if err := decode(args, &req); err != nil {
			return outcome{}, "", err
		}
		view, err := eng.ExecuteComposedOperation(ctx, caller, key, req)
		if err != nil {
			return outcome{}, req.ID, err
		}
		return outcome{id: view.Contract.ID, status: view.Status}, req.ID, nil

	case OpSwapCreate:
		var req engine.SwapRequest
		if err := decode(args, &req); err != nil {
			return outcome{}, "", err
		}
		out, err := swapOutcome(eng.CreateSwap(ctx, caller, key, req))
		return out, "", err

	case OpSwapRepurchase:
		var req repurchaseArgs
		if err := decode(args, &req); err != nil {
			return outcome{}, "", err
		}
		out, err := swapOutcome(eng.RepurchaseSwap(ctx, caller, key, req.ID, req.RepurchaseRequest))
		return out, req.ID, err

	case OpReleaseAll:
		n, err := eng.ReleaseAll(ctx)
		return outcome{status: strconv.Itoa(n)}, "", err

	case OpOracleSet:
		var req oracleArgs
		if err := decode(args, &req); err != nil {
			return outcome{}, "", err
		}
		h.oracle.Set(req.Owner, req.Address, req.Key, req.Value)
		return outcome{}, "", nil
	}

	var target idArgs
	if err := decode(args, &target); err != nil {
		return outcome{}, "", err
	}
	if target.ID == "" {
		return outcome{}, "", fmt.Errorf("id is required")
	}

	var (
		out outcome
		err error
	)
	switch op {
	case OpObligationAccept:
		out, err = obligationOutcome(eng.AcceptObligation(ctx, caller, key, target.ID))
	case OpObligationTransfer:
		out, err = obligationOutcome(eng.TransferObligation(ctx, caller, key, target.ID, target.NewHolder))
	case OpObligationCancel:
		out, err = obligationOutcome(eng.CancelObligation(ctx, caller, key, target.ID))
	case OpObligationExpire:
		out, err = obligationOutcome(eng.ExpireObligation(ctx, caller, key, target.ID))
	case OpSwapComplete:
		out, err = swapOutcome(eng.CompleteSwap(ctx, caller, key, target.ID))
	case OpSwapCancel:
		out, err = swapOutcome(eng.CancelSwap(ctx, caller, key, target.ID))
	case OpSwapExpire:
		out, err = swapOutcome(eng.ExpireSwap(ctx, caller, key, target.ID))
	case OpSwapForfeit:
		out, err = swapOutcome(eng.ExpireCollateral(ctx, caller, key, target.ID))
	case OpRelease:
		var n int
		n, err = eng.ReleaseDue(ctx, target.ID)
		out = outcome{status: strconv.Itoa(n)}
	default:
		return outcome{}, "", fmt.Errorf("unknown op %q", op)
	}
	return out, target.ID, err
}
