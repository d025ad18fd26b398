package harness

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
)

// evaluate checks one assertion against the final state.
func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	ref, err := h.ref(a.Ref)
	if err != nil {
		return fmt.Errorf("assertion %s: %w", a.Type, err)
	}

	switch a.Type {
	case AssertStatus:
		status, err := h.status(ctx, ref)
		if err != nil {
			return fmt.Errorf("assertion status %s: %w", a.Ref, err)
		}
		if status != a.Expect {
			return fmt.Errorf("assertion status %s: expected %s, got %s", a.Ref, a.Expect, status)
		}

	case AssertHolder:
		o, err := h.head(ctx, ref)
		if err != nil {
			return fmt.Errorf("assertion holder %s: %w", a.Ref, err)
		}
		if o.Holder != a.Expect {
			return fmt.Errorf("assertion holder %s: expected %s, got %s", a.Ref, a.Expect, o.Holder)
		}

	case AssertLocked:
		want, err := strconv.ParseBool(a.Expect)
		if err != nil {
			return fmt.Errorf("assertion locked %s: expect must be true or false", a.Ref)
		}
		_, locked, err := h.engine.IsLocked(ctx, ref)
		if err != nil {
			return fmt.Errorf("assertion locked %s: %w", a.Ref, err)
		}
		if locked != want {
			return fmt.Errorf("assertion locked %s: expected %t, got %t", a.Ref, want, locked)
		}

	case AssertEvents:
		evs, err := h.engine.Events(ctx, ref, 0, 0)
		if err != nil {
			return fmt.Errorf("assertion events %s: %w", a.Ref, err)
		}
		got := make([]string, len(evs))
		for i, ev := range evs {
			got[i] = string(ev.Kind)
		}
		return compareList("events "+a.Ref, a.Values, got)

	case AssertLegs:
		legs, err := h.legs(ctx, ref)
		if err != nil {
			return fmt.Errorf("assertion legs %s: %w", a.Ref, err)
		}
		got := make([]string, len(legs))
		for i, l := range legs {
			got[i] = string(l.Status)
		}
		return compareList("legs "+a.Ref, a.Values, got)

	case AssertInstructions:
		return compareList("instructions", a.Values, instructionKinds(h.exec.Executed(), ref))

	case AssertOutstanding:
		return compareList("outstanding", a.Values, instructionKinds(h.exec.Outstanding(), ref))

	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
	return nil
}

// instructionKinds lists the kinds of ins acting on ref, or all when ref is
// empty.
func instructionKinds(ins []engine.Instruction, ref string) []string {
	got := []string{}
	for _, in := range ins {
		if ref == "" || in.EntityID == ref || in.ObligationID == ref {
			got = append(got, string(in.Kind))
		}
	}
	return got
}

func compareList(what string, want, got []string) error {
	if slices.Equal(want, got) {
		return nil
	}
	return fmt.Errorf("assertion %s: expected [%s], got [%s]", what, strings.Join(want, " "), strings.Join(got, " "))
}

// status reports the status of an obligation (current record), swap or
// composed contract.
func (h *Harness) status(ctx context.Context, id string) (string, error) {
	o, err := h.head(ctx, id)
	if err == nil {
		return string(o.Status), nil
	}
	if engine.KindOf(err) != engine.KindNotFound {
		return "", err
	}
	sw, err := h.engine.GetSwap(ctx, id)
	if err == nil {
		return string(sw.Status), nil
	}
	if engine.KindOf(err) != engine.KindNotFound {
		return "", err
	}
	view, err := h.engine.GetComposed(ctx, id)
	if err != nil {
		return "", err
	}
	return view.Status, nil
}

// head follows an obligation's transfer chain to the current record.
func (h *Harness) head(ctx context.Context, id string) (*domain.Obligation, error) {
	chain, err := h.engine.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return chain[len(chain)-1], nil
}

// legs returns the payment legs of an obligation (current record) or the
// payments of a swap in AllPayments order.
func (h *Harness) legs(ctx context.Context, id string) ([]domain.PaymentLeg, error) {
	o, err := h.head(ctx, id)
	if err == nil {
		return o.Legs, nil
	}
	if engine.KindOf(err) != engine.KindNotFound {
		return nil, err
	}
	sw, err := h.engine.GetSwap(ctx, id)
	if err != nil {
		return nil, err
	}
	var legs []domain.PaymentLeg
	for _, l := range sw.AllPayments() {
		legs = append(legs, *l)
	}
	return legs, nil
}
