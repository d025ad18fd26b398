package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/lockmgr"
)

const (
	OpCreateSwap       = "swap.create"
	OpCompleteSwap     = "swap.complete"
	OpCancelSwap       = "swap.cancel"
	OpExpireSwap       = "swap.expire"
	OpRepurchaseSwap   = "swap.repurchase"
	OpExpireCollateral = "swap.expire_collateral"
)

// SwapRequest proposes a swap. The caller is the initiator.
//
// A zero Expiry makes the swap atomic. A repo swap sets Expiry after
// Deadline; collateral is only allowed on repo swaps and stays locked until
// it is repurchased or forfeited.
type SwapRequest struct {
	Counterparty            string                  `json:"counterparty" yaml:"counterparty"`
	Deadline                time.Time               `json:"deadline" yaml:"deadline"`
	Expiry                  time.Time               `json:"expiry,omitzero" yaml:"expiry,omitempty"`
	InitiatorObligations    []string                `json:"initiator_obligations,omitempty" yaml:"initiator_obligations,omitempty"`
	CounterpartyObligations []string                `json:"counterparty_obligations,omitempty" yaml:"counterparty_obligations,omitempty"`
	InitiatorCollateral     []string                `json:"initiator_collateral,omitempty" yaml:"initiator_collateral,omitempty"`
	CounterpartyCollateral  []string                `json:"counterparty_collateral,omitempty" yaml:"counterparty_collateral,omitempty"`
	InitiatorPayments       []domain.PaymentSpec    `json:"initiator_payments,omitempty" yaml:"initiator_payments,omitempty"`
	CounterpartyPayments    []domain.PaymentSpec    `json:"counterparty_payments,omitempty" yaml:"counterparty_payments,omitempty"`
	RepurchaseTerms         *domain.RepurchaseTerms `json:"repurchase_terms,omitempty" yaml:"repurchase_terms,omitempty"`
}

// RepurchaseRequest is the consideration a collateral depositor pays to
// reclaim its collateral. Payment obligors are ignored: repurchase settles
// from the caller's own funds.
type RepurchaseRequest struct {
	Obligations []string             `json:"obligations,omitempty" yaml:"obligations,omitempty"`
	Payments    []domain.PaymentSpec `json:"payments,omitempty" yaml:"payments,omitempty"`
}

// CreateSwap proposes a swap to req.Counterparty. The initiator's
// obligations and collateral are locked to the swap and its payments are
// escrowed.
func (e *Engine) CreateSwap(ctx context.Context, caller domain.Caller, key string, req SwapRequest) (*domain.Swap, error) {
	entities := concatIDs(req.InitiatorObligations, req.InitiatorCollateral)
	r := request{op: OpCreateSwap, caller: caller, key: key, body: req, entities: entities}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Swap, error) {
		return u.createSwap(req)
	})
}

// CompleteSwap completes a pending swap as its counterparty. Both sides are
// exchanged in one commit.
//
// Completing after the deadline never succeeds: the swap is expired instead
// and DEADLINE_EXPIRED is returned.
func (e *Engine) CompleteSwap(ctx context.Context, caller domain.Caller, key, id string) (*domain.Swap, error) {
	entities, err := e.swapEntities(ctx, id)
	if err != nil {
		return nil, err
	}
	r := request{op: OpCompleteSwap, caller: caller, key: key, body: id, entities: entities}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Swap, error) {
		return u.completeSwap(id)
	})
}

// CancelSwap withdraws a pending swap. Either party may cancel. After the
// deadline the swap is expired instead of cancelled.
func (e *Engine) CancelSwap(ctx context.Context, caller domain.Caller, key, id string) (*domain.Swap, error) {
	entities, err := e.swapEntities(ctx, id)
	if err != nil {
		return nil, err
	}
	r := request{op: OpCancelSwap, caller: caller, key: key, body: id, entities: entities}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Swap, error) {
		sw, err := u.swap(id)
		if err != nil {
			return nil, err
		}
		if sw.Status != domain.SwapPending {
			return nil, errInvalidState(sw.ID, "cannot cancel a %s swap", sw.Status)
		}
		if _, ok := sw.SideOf(u.caller.Party); !ok {
			return nil, newError(KindNotAuthorized, sw.ID, "only a party to the swap can cancel it")
		}
		if u.now.After(sw.Deadline) {
			return sw, u.unwindSwap(sw, domain.SwapExpired)
		}
		return sw, u.unwindSwap(sw, domain.SwapCancelled)
	})
}

// ExpireSwap expires a pending swap whose deadline has passed. Any caller
// may trigger it.
func (e *Engine) ExpireSwap(ctx context.Context, caller domain.Caller, key, id string) (*domain.Swap, error) {
	entities, err := e.swapEntities(ctx, id)
	if err != nil {
		return nil, err
	}
	r := request{op: OpExpireSwap, caller: caller, key: key, body: id, entities: entities}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Swap, error) {
		sw, err := u.swap(id)
		if err != nil {
			return nil, err
		}
		if sw.Status != domain.SwapPending {
			return nil, errInvalidState(sw.ID, "cannot expire a %s swap", sw.Status)
		}
		if !u.now.After(sw.Deadline) {
			return nil, errInvalidState(sw.ID, "deadline %s has not passed", sw.Deadline.Format(time.RFC3339))
		}
		return sw, u.unwindSwap(sw, domain.SwapExpired)
	})
}

// RepurchaseSwap returns the caller's collateral from a completed repo swap
// in exchange for the consideration in req.
func (e *Engine) RepurchaseSwap(ctx context.Context, caller domain.Caller, key, id string, req RepurchaseRequest) (*domain.Swap, error) {
	entities, err := e.swapEntities(ctx, id, req.Obligations...)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"id": id, "request": req}
	r := request{op: OpRepurchaseSwap, caller: caller, key: key, body: body, entities: entities}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Swap, error) {
		return u.repurchase(id, req)
	})
}

// ExpireCollateral forfeits every side's unreclaimed collateral to the other
// side once the repurchase window has closed. Any caller may trigger it.
func (e *Engine) ExpireCollateral(ctx context.Context, caller domain.Caller, key, id string) (*domain.Swap, error) {
	entities, err := e.swapEntities(ctx, id)
	if err != nil {
		return nil, err
	}
	r := request{op: OpExpireCollateral, caller: caller, key: key, body: id, entities: entities}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Swap, error) {
		return u.expireCollateral(id)
	})
}

// swapEntities returns the keys a swap operation serializes on: the swap and
// every obligation it references.
func (e *Engine) swapEntities(ctx context.Context, id string, extra ...string) ([]string, error) {
	sw, err := e.store.GetSwap(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "swap", id)
	}
	return concatIDs([]string{id}, sw.Initiator.Obligations, sw.Initiator.Collateral,
		sw.Counterparty.Obligations, sw.Counterparty.Collateral, extra), nil
}

func concatIDs(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func (u *unitOfWork) createSwap(req SwapRequest) (*domain.Swap, error) {
	initiator := u.caller.Party
	if !req.Deadline.After(u.now) {
		return nil, newError(KindDeadlineNotFuture, "", "deadline %s is not in the future", req.Deadline.Format(time.RFC3339))
	}
	if !domain.ValidWindow(req.Deadline, req.Expiry) {
		return nil, newError(KindInvalidExpiry, "", "expiry must be after the deadline")
	}
	if req.Expiry.IsZero() && (len(req.InitiatorCollateral) > 0 || len(req.CounterpartyCollateral) > 0) {
		return nil, newError(KindInvalidExpiry, "", "collateral requires an expiry after the deadline")
	}

	switch {
	case req.Counterparty == "":
		return nil, errInvalidArgument("", "counterparty is required")
	case req.Counterparty == initiator:
		return nil, errInvalidArgument("", "initiator and counterparty must differ")
	case len(req.InitiatorObligations)+len(req.InitiatorCollateral)+len(req.InitiatorPayments) == 0:
		return nil, errInvalidArgument("", "initiator side is empty")
	case len(req.CounterpartyObligations)+len(req.CounterpartyCollateral)+len(req.CounterpartyPayments) == 0:
		return nil, errInvalidArgument("", "counterparty side is empty")
	case req.RepurchaseTerms != nil && req.Expiry.IsZero():
		return nil, errInvalidArgument("", "repurchase terms require a repo swap")
	}
	seen := make(map[string]bool)
	for _, id := range concatIDs(req.InitiatorObligations, req.InitiatorCollateral, req.CounterpartyObligations, req.CounterpartyCollateral) {
		if id == "" || seen[id] {
			return nil, errInvalidArgument(id, "obligation and collateral sets must be non-empty ids and disjoint")
		}
		seen[id] = true
	}

	for _, id := range concatIDs(req.InitiatorObligations, req.InitiatorCollateral) {
		o, err := u.obligation(id)
		if err != nil {
			return nil, err
		}
		if err := u.checkOffered(o, initiator, req.Counterparty); err != nil {
			return nil, err
		}
	}
	for _, id := range concatIDs(req.CounterpartyObligations, req.CounterpartyCollateral) {
		if _, err := u.obligation(id); err != nil {
			return nil, err
		}
	}

	sw := &domain.Swap{
		ID:       u.e.ids.Generate(),
		Deadline: req.Deadline,
		Expiry:   req.Expiry,
		Status:   domain.SwapPending,
		Initiator: domain.SwapSide{
			Party:           initiator,
			Obligations:     req.InitiatorObligations,
			Collateral:      req.InitiatorCollateral,
			CollateralState: domain.CollateralNone,
		},
		Counterparty: domain.SwapSide{
			Party:           req.Counterparty,
			Obligations:     req.CounterpartyObligations,
			Collateral:      req.CounterpartyCollateral,
			CollateralState: domain.CollateralNone,
		},
		RepurchaseTerms: req.RepurchaseTerms,
		CreatedAt:       u.now,
	}
	var err error
	if sw.Initiator.Payments, err = buildPayments(sw.ID+"/i", 0, req.InitiatorPayments, initiator, req.Counterparty, false); err != nil {
		return nil, err
	}
	if sw.Counterparty.Payments, err = buildPayments(sw.ID+"/c", 0, req.CounterpartyPayments, req.Counterparty, initiator, false); err != nil {
		return nil, err
	}

	lm := u.lockManager()
	if err := lm.Acquire(u.ctx, req.InitiatorObligations, sw.ID, sw.Status, domain.RoleObligation, initiator); err != nil {
		return nil, lockError(err)
	}
	if err := lm.Acquire(u.ctx, req.InitiatorCollateral, sw.ID, sw.Status, domain.RoleCollateral, initiator); err != nil {
		return nil, lockError(err)
	}
	if len(req.InitiatorCollateral) > 0 {
		sw.Initiator.CollateralState = domain.CollateralHeld
	}
	for i := range sw.Initiator.Payments {
		leg := &sw.Initiator.Payments[i]
		u.moveLeg(InstructionEscrow, sw.ID, leg)
		leg.Escrowed = true
	}

	u.putSwap(sw)
	u.emit(domain.EventSwapCreated, sw.ID, map[string]string{
		"initiator":    initiator,
		"counterparty": req.Counterparty,
		"repo":         fmt.Sprint(sw.Repo()),
	})
	return sw, nil
}

// checkOffered validates an obligation a party puts into a swap: it must be
// current, held by party, live, and transferable to the other party.
func (u *unitOfWork) checkOffered(o *domain.Obligation, party, other string) error {
	if o.Superseded() {
		return errSuperseded(o)
	}
	if o.Holder != party {
		return newError(KindNotHolder, o.ID, "%s does not hold this obligation", party)
	}
	switch o.Status {
	case domain.ObligationCancelled, domain.ObligationExpired:
		return errInvalidState(o.ID, "cannot swap a %s obligation", o.Status)
	}
	if o.Counterparty == other {
		return errInvalidArgument(o.ID, "%s is the counterparty of this obligation", other)
	}
	return nil
}

// buildPayments turns specs into PENDING legs paid by payer. Legs default to
// defaultPayee; noObligor clears any third-party payer.
func buildPayments(prefix string, start int, specs []domain.PaymentSpec, payer, defaultPayee string, noObligor bool) ([]domain.PaymentLeg, error) {
	var out []domain.PaymentLeg
	for i, spec := range specs {
		payee := spec.Payee
		if payee == "" {
			payee = defaultPayee
		}
		ls := spec.LegSpec
		if noObligor {
			ls.Obligor = ""
		}
		leg, err := newLeg(fmt.Sprintf("%s/%d", prefix, start+i+1), ls, "", payer, payee)
		if err != nil {
			return nil, err
		}
		out = append(out, leg)
	}
	return out, nil
}

func lockError(err error) error {
	var ce *lockmgr.ConflictError
	if errors.As(err, &ce) {
		return &Error{Kind: KindAlreadyLocked, EntityID: ce.ObligationID, Message: fmt.Sprintf("held by swap %s", ce.HeldBy), Err: err}
	}
	return err
}

func (u *unitOfWork) completeSwap(id string) (*domain.Swap, error) {
	sw, err := u.swap(id)
	if err != nil {
		return nil, err
	}
	initiator, counterparty := sw.Initiator.Party, sw.Counterparty.Party
	if u.caller.Party != counterparty {
		return nil, newError(KindNotCounterparty, sw.ID, "only the counterparty can complete")
	}
	if sw.Status != domain.SwapPending {
		return nil, errInvalidState(sw.ID, "cannot complete a %s swap", sw.Status)
	}
	if u.now.After(sw.Deadline) {
		if err := u.unwindSwap(sw, domain.SwapExpired); err != nil {
			return nil, err
		}
		u.commitOnError = true
		return nil, newError(KindDeadlineExpired, sw.ID, "deadline %s has passed; the swap was expired", sw.Deadline.Format(time.RFC3339))
	}

	for _, oid := range concatIDs(sw.Counterparty.Obligations, sw.Counterparty.Collateral) {
		o, err := u.obligation(oid)
		if err != nil {
			return nil, err
		}
		if err := u.checkOffered(o, counterparty, initiator); err != nil {
			return nil, err
		}
		if err := u.checkUnlocked(o); err != nil {
			return nil, err
		}
	}
	initiatorObligations := make([]*domain.Obligation, 0, len(sw.Initiator.Obligations))
	for _, oid := range sw.Initiator.Obligations {
		o, err := u.obligation(oid)
		if err != nil {
			return nil, err
		}
		if err := checkTransferable(o, counterparty); err != nil {
			return nil, err
		}
		initiatorObligations = append(initiatorObligations, o)
	}

	lm := u.lockManager()
	if err := lm.Acquire(u.ctx, sw.Counterparty.Collateral, sw.ID, domain.SwapCompleted, domain.RoleCollateral, counterparty); err != nil {
		return nil, lockError(err)
	}
	if err := lm.Update(u.ctx, sw.Initiator.Collateral, domain.SwapCompleted); err != nil {
		return nil, err
	}
	if err := lm.Release(u.ctx, sw.Initiator.Obligations); err != nil {
		return nil, err
	}

	for i := range sw.Counterparty.Payments {
		leg := &sw.Counterparty.Payments[i]
		u.moveLeg(InstructionEscrow, sw.ID, leg)
		leg.Escrowed = true
	}
	for _, o := range initiatorObligations {
		u.transfer(o, counterparty, sw.ID)
	}
	for _, oid := range sw.Counterparty.Obligations {
		o, err := u.obligation(oid)
		if err != nil {
			return nil, err
		}
		u.transfer(o, initiator, sw.ID)
	}
	for _, leg := range sw.AllPayments() {
		if leg.Status == domain.LegPending {
			leg.Status = domain.LegProcessing
		}
	}
	if len(sw.Counterparty.Collateral) > 0 {
		sw.Counterparty.CollateralState = domain.CollateralHeld
	}

	now := u.now
	sw.Status = domain.SwapCompleted
	sw.CompletedAt = &now
	u.putSwap(sw)
	u.emit(domain.EventSwapCompleted, sw.ID, map[string]string{"repo": fmt.Sprint(sw.Repo())})
	return sw, nil
}

// unwindSwap ends a pending swap: every lock is released, escrowed legs are
// refunded and open legs are cancelled.
func (u *unitOfWork) unwindSwap(sw *domain.Swap, status domain.SwapStatus) error {
	lm := u.lockManager()
	if err := lm.Release(u.ctx, concatIDs(sw.Initiator.Obligations, sw.Initiator.Collateral, sw.Counterparty.Collateral)); err != nil {
		return err
	}
	for _, leg := range sw.AllPayments() {
		if !leg.Open() {
			continue
		}
		if leg.Escrowed {
			u.moveLeg(InstructionRefund, sw.ID, leg)
		}
		leg.Status = domain.LegCancelled
	}
	for _, side := range []domain.Side{domain.SideInitiator, domain.SideCounterparty} {
		if s := sw.Get(side); s.CollateralState == domain.CollateralHeld {
			s.CollateralState = domain.CollateralReturned
		}
	}

	sw.Status = status
	u.putSwap(sw)
	kind := domain.EventSwapCancelled
	if status == domain.SwapExpired {
		kind = domain.EventSwapExpired
	}
	u.emit(kind, sw.ID, nil)
	return nil
}

func (u *unitOfWork) repurchase(id string, req RepurchaseRequest) (*domain.Swap, error) {
	sw, err := u.swap(id)
	if err != nil {
		return nil, err
	}
	if sw.Status != domain.SwapCompleted || !sw.Repo() {
		return nil, errInvalidState(sw.ID, "only a completed repo swap can be repurchased")
	}
	side, ok := sw.SideOf(u.caller.Party)
	if !ok || sw.Get(side).CollateralState == domain.CollateralNone {
		return nil, newError(KindNotAuthorized, sw.ID, "only the party that deposited collateral can repurchase it")
	}
	mine := sw.Get(side)
	if mine.CollateralState != domain.CollateralHeld {
		return nil, errInvalidState(sw.ID, "collateral is already %s", mine.CollateralState)
	}
	if u.now.After(sw.Expiry) {
		return nil, newError(KindRepurchaseWindowClosed, sw.ID, "repurchase window closed at %s", sw.Expiry.Format(time.RFC3339))
	}

	other := sw.Get(side.Other()).Party
	legs, err := buildPayments(sw.ID+"/r", len(sw.RepurchasePayments), req.Payments, u.caller.Party, other, true)
	if err != nil {
		return nil, err
	}
	paid := domain.SumByDenomination(legs)
	for denom, owed := range sw.RepurchaseTerms.For(side) {
		if paid[denom].LessThan(owed) {
			return nil, errInvalidArgument(sw.ID, "repurchase pays %s %s, terms require %s", paid[denom].String(), denom, owed.String())
		}
	}

	obligations := make([]*domain.Obligation, 0, len(req.Obligations))
	for _, oid := range req.Obligations {
		o, err := u.obligation(oid)
		if err != nil {
			return nil, err
		}
		if err := u.checkOffered(o, u.caller.Party, other); err != nil {
			return nil, err
		}
		if err := u.checkUnlocked(o); err != nil {
			return nil, err
		}
		obligations = append(obligations, o)
	}

	for i := range legs {
		leg := &legs[i]
		u.moveLeg(InstructionEscrow, sw.ID, leg)
		leg.Escrowed = true
		leg.Status = domain.LegProcessing
	}
	sw.RepurchasePayments = append(sw.RepurchasePayments, legs...)
	for _, o := range obligations {
		u.transfer(o, other, sw.ID)
	}
	if err := u.lockManager().Release(u.ctx, mine.Collateral); err != nil {
		return nil, err
	}
	mine.CollateralState = domain.CollateralReturned

	u.putSwap(sw)
	u.emit(domain.EventSwapRepurchased, sw.ID, map[string]string{
		"side":       string(side),
		"collateral": fmt.Sprint(len(mine.Collateral)),
	})
	return sw, nil
}

func (u *unitOfWork) expireCollateral(id string) (*domain.Swap, error) {
	sw, err := u.swap(id)
	if err != nil {
		return nil, err
	}
	if sw.Status != domain.SwapCompleted || !sw.Repo() {
		return nil, errInvalidState(sw.ID, "only a completed repo swap has collateral to expire")
	}
	if !u.now.After(sw.Expiry) {
		return nil, newError(KindCollateralNotExpired, sw.ID, "repurchase window is open until %s", sw.Expiry.Format(time.RFC3339))
	}
	if sw.Initiator.CollateralState != domain.CollateralHeld && sw.Counterparty.CollateralState != domain.CollateralHeld {
		return nil, errInvalidState(sw.ID, "no collateral is held")
	}

	lm := u.lockManager()
	for _, side := range []domain.Side{domain.SideInitiator, domain.SideCounterparty} {
		s := sw.Get(side)
		if s.CollateralState != domain.CollateralHeld {
			continue
		}
		to := sw.Get(side.Other()).Party
		if err := lm.Release(u.ctx, s.Collateral); err != nil {
			return nil, err
		}
		for _, oid := range s.Collateral {
			o, err := u.obligation(oid)
			if err != nil {
				return nil, err
			}
			if err := checkTransferable(o, to); err != nil {
				return nil, err
			}
			u.transfer(o, to, sw.ID)
		}
		s.CollateralState = domain.CollateralForfeited
		u.emit(domain.EventCollateralForfeited, sw.ID, map[string]string{
			"side": string(side),
			"to":   to,
		})
	}
	u.putSwap(sw)
	return sw, nil
}
