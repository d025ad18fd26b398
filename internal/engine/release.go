package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/store"
	"github.com/roach88/settle/internal/unlock"
)

// OpReleaseLeg names leg releases in logs and instruction keys.
const OpReleaseLeg = "release"

// ReleaseDue pays out every escrowed leg of an obligation or swap whose
// unlock conditions hold now. It returns how many legs were released.
//
// Each leg commits on its own, so one failing release does not hold back
// the others; failures are joined into the returned error and the failed leg
// stays PROCESSING for the next attempt. Attempts are counted per leg, so a
// retry never reuses the keys of a release that was clawed back.
func (e *Engine) ReleaseDue(ctx context.Context, entityID string) (int, error) {
	release, err := e.acquire(ctx, []string{entityID})
	if err != nil {
		return 0, err
	}
	defer release()

	legIDs, err := e.processingLegs(ctx, entityID)
	if err != nil {
		return 0, err
	}

	released := 0
	var errs []error
	for _, legID := range legIDs {
		ok, err := e.releaseLeg(ctx, entityID, legID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			released++
		}
	}
	return released, errors.Join(errs...)
}

// ReleaseAll runs ReleaseDue over every entity with escrowed legs.
func (e *Engine) ReleaseAll(ctx context.Context) (int, error) {
	obligations, swaps, err := e.store.OpenEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("release all: %w", err)
	}
	total := 0
	var errs []error
	for _, id := range concatIDs(obligations, swaps) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := e.ReleaseDue(ctx, id)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// processingLegs lists the escrowed legs of entityID awaiting release.
func (e *Engine) processingLegs(ctx context.Context, entityID string) ([]string, error) {
	var legs []domain.PaymentLeg
	o, err := e.store.GetObligation(ctx, entityID)
	switch {
	case err == nil:
		if o.Superseded() {
			return nil, errSuperseded(o)
		}
		legs = o.Legs
	case errors.Is(err, store.ErrNotFound):
		sw, err := e.store.GetSwap(ctx, entityID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errNotFound("obligation or swap", entityID)
			}
			return nil, err
		}
		for _, l := range sw.AllPayments() {
			legs = append(legs, *l)
		}
	default:
		return nil, err
	}

	var ids []string
	for _, l := range legs {
		if l.Status == domain.LegProcessing {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

// releaseLeg releases one leg if it is still processing and releasable.
func (e *Engine) releaseLeg(ctx context.Context, entityID, legID string) (bool, error) {
	u := e.newUnit(ctx, OpReleaseLeg, domain.Caller{}, OpReleaseLeg)
	u.scope = OpReleaseLeg + "/" + legID

	leg, stage, err := u.findLeg(entityID, legID)
	if err != nil {
		return false, err
	}
	if leg == nil || leg.Status != domain.LegProcessing {
		return false, nil
	}
	if !unlock.IsReleasable(*leg, u.now, e.oracleLookup(ctx)) {
		if next, ok := unlock.NextCheck(*leg, u.now); ok {
			e.logger.Debug("leg gated", "entity", entityID, "leg", legID, "next_check", next)
		}
		return false, nil
	}

	u.moveLeg(InstructionRelease, entityID, leg)
	now := u.now
	leg.Status = domain.LegCompleted
	leg.CompletedAt = &now
	stage()
	u.emit(domain.EventLegReleased, entityID, map[string]string{
		"leg":          legID,
		"amount":       leg.Amount.String(),
		"denomination": leg.Denomination,
		"payee":        leg.Payee,
	})

	if err := e.finish(u); err != nil {
		e.logger.Warn("release failed", "entity", entityID, "leg", legID, "error", err)
		return false, err
	}
	e.logger.Info("leg released", "entity", entityID, "leg", legID)
	return true, nil
}

// findLeg loads entityID into the unit and returns a pointer to the leg and a
// function that stages the owning record.
func (u *unitOfWork) findLeg(entityID, legID string) (*domain.PaymentLeg, func(), error) {
	o, err := u.obligation(entityID)
	if err == nil {
		i := o.LegIndex(legID)
		if i < 0 {
			return nil, nil, nil
		}
		return &o.Legs[i], func() { u.putObligation(o) }, nil
	}
	if !IsKind(err, KindNotFound) {
		return nil, nil, err
	}
	sw, err := u.swap(entityID)
	if err != nil {
		return nil, nil, err
	}
	for _, l := range sw.AllPayments() {
		if l.ID == legID {
			return l, func() { u.putSwap(sw) }, nil
		}
	}
	return nil, nil, nil
}
