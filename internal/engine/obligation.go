package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/settle/internal/domain"
)

// Operation names recorded with idempotency keys and logs.
const (
	OpCreateObligation   = "obligation.create"
	OpAcceptObligation   = "obligation.accept"
	OpTransferObligation = "obligation.transfer"
	OpCancelObligation   = "obligation.cancel"
	OpExpireObligation   = "obligation.expire"
)

// CreateObligationRequest issues a new obligation.
//
// Holder defaults to the caller; naming another holder requires a
// privileged caller. A zero Notional defaults to the sum of the legs in the
// obligation's denomination.
type CreateObligationRequest struct {
	Counterparty       string           `json:"counterparty" yaml:"counterparty"`
	Holder             string           `json:"holder,omitempty" yaml:"holder,omitempty"`
	Obligor            string           `json:"obligor,omitempty" yaml:"obligor,omitempty"`
	Notional           decimal.Decimal  `json:"notional" yaml:"notional"`
	Denomination       string           `json:"denomination" yaml:"denomination"`
	AcceptanceDeadline time.Time        `json:"acceptance_deadline" yaml:"acceptance_deadline"`
	Legs               []domain.LegSpec `json:"legs" yaml:"legs"`
	Terms              domain.Terms     `json:"terms" yaml:"terms"`
}

// CreateObligation issues an obligation in status ACTIVE with every leg
// PENDING.
func (e *Engine) CreateObligation(ctx context.Context, caller domain.Caller, key string, req CreateObligationRequest) (*domain.Obligation, error) {
	r := request{op: OpCreateObligation, caller: caller, key: key, body: req}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Obligation, error) {
		return u.createObligation(req)
	})
}

// AcceptObligation accepts an obligation as its counterparty. Every leg is
// escrowed and moves to PROCESSING; the obligation becomes COMPLETED while
// its legs keep settling on their own schedule.
func (e *Engine) AcceptObligation(ctx context.Context, caller domain.Caller, key, id string) (*domain.Obligation, error) {
	r := request{op: OpAcceptObligation, caller: caller, key: key, body: id, entities: []string{id}}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Obligation, error) {
		o, err := u.obligation(id)
		if err != nil {
			return nil, err
		}
		if err := u.checkAccept(o); err != nil {
			return nil, err
		}
		u.accept(o)
		return o, nil
	})
}

// TransferObligation moves an obligation to newHolder. The current record is
// superseded by a new one, which is returned.
func (e *Engine) TransferObligation(ctx context.Context, caller domain.Caller, key, id, newHolder string) (*domain.Obligation, error) {
	body := map[string]string{"id": id, "new_holder": newHolder}
	r := request{op: OpTransferObligation, caller: caller, key: key, body: body, entities: []string{id}}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Obligation, error) {
		o, err := u.obligation(id)
		if err != nil {
			return nil, err
		}
		if err := u.checkTransfer(o, newHolder); err != nil {
			return nil, err
		}
		return u.transfer(o, newHolder, o.ID), nil
	})
}

// CancelObligation cancels an obligation. Before acceptance either party may
// cancel. After acceptance the CancelPolicy decides, and escrowed legs that
// have not completed are refunded.
func (e *Engine) CancelObligation(ctx context.Context, caller domain.Caller, key, id string) (*domain.Obligation, error) {
	r := request{op: OpCancelObligation, caller: caller, key: key, body: id, entities: []string{id}}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Obligation, error) {
		o, err := u.obligation(id)
		if err != nil {
			return nil, err
		}
		if err := u.checkCancel(o); err != nil {
			return nil, err
		}
		u.cancel(o)
		return o, nil
	})
}

// ExpireObligation moves an unaccepted obligation past its acceptance
// deadline to EXPIRED. Any caller may trigger it.
func (e *Engine) ExpireObligation(ctx context.Context, caller domain.Caller, key, id string) (*domain.Obligation, error) {
	r := request{op: OpExpireObligation, caller: caller, key: key, body: id, entities: []string{id}}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.Obligation, error) {
		o, err := u.obligation(id)
		if err != nil {
			return nil, err
		}
		if o.Superseded() {
			return nil, errSuperseded(o)
		}
		if o.Status != domain.ObligationActive {
			return nil, errInvalidState(o.ID, "cannot expire a %s obligation", o.Status)
		}
		if !u.now.After(o.AcceptanceDeadline) {
			return nil, errInvalidState(o.ID, "acceptance deadline %s has not passed", o.AcceptanceDeadline.Format(time.RFC3339))
		}
		if err := u.checkUnlocked(o); err != nil {
			return nil, err
		}
		for i := range o.Legs {
			if o.Legs[i].Open() {
				o.Legs[i].Status = domain.LegCancelled
			}
		}
		o.Status = domain.ObligationExpired
		u.putObligation(o)
		u.emit(domain.EventObligationExpired, o.ID, nil)
		return o, nil
	})
}

func (u *unitOfWork) createObligation(req CreateObligationRequest) (*domain.Obligation, error) {
	holder := u.caller.Party
	if req.Holder != "" && req.Holder != u.caller.Party {
		if !u.caller.HasAny(u.e.privileged) {
			return nil, newError(KindNotAuthorized, "", "only a privileged caller may issue on behalf of %s", req.Holder)
		}
		holder = req.Holder
	}
	switch {
	case holder == "":
		return nil, errInvalidArgument("", "holder is required")
	case req.Counterparty == "":
		return nil, errInvalidArgument("", "counterparty is required")
	case req.Counterparty == holder:
		return nil, errInvalidArgument("", "holder and counterparty must differ")
	}
	if !req.AcceptanceDeadline.After(u.now) {
		return nil, newError(KindDeadlineNotFuture, "", "acceptance deadline %s is not in the future", req.AcceptanceDeadline.Format(time.RFC3339))
	}
	if len(req.Legs) == 0 {
		return nil, errInvalidArgument("", "at least one payment leg is required")
	}

	denom := req.Denomination
	if denom == "" {
		denom = req.Legs[0].Denomination
	}
	if denom == "" {
		return nil, errInvalidArgument("", "denomination is required")
	}
	if req.Notional.IsNegative() {
		return nil, errInvalidArgument("", "notional must not be negative")
	}

	id := u.e.ids.Generate()
	o := &domain.Obligation{
		ID:                 id,
		Counterparty:       req.Counterparty,
		Holder:             holder,
		Obligor:            req.Obligor,
		Notional:           req.Notional,
		Denomination:       denom,
		AcceptanceDeadline: req.AcceptanceDeadline,
		Status:             domain.ObligationActive,
		Terms:              req.Terms,
		CreatedAt:          u.now,
	}
	total := decimal.Zero
	for i, spec := range req.Legs {
		leg, err := newLeg(fmt.Sprintf("%s/%d", id, i+1), spec, denom, req.Counterparty, holder)
		if err != nil {
			return nil, err
		}
		if leg.Obligor == "" {
			leg.Obligor = req.Obligor
		}
		if leg.Denomination == denom {
			total = total.Add(leg.Amount)
		}
		o.Legs = append(o.Legs, leg)
	}
	if o.Notional.IsZero() {
		o.Notional = total
	}

	u.putObligation(o)
	u.emit(domain.EventObligationCreated, o.ID, map[string]string{
		"holder":       o.Holder,
		"counterparty": o.Counterparty,
		"notional":     o.Notional.String(),
		"denomination": o.Denomination,
	})
	return o, nil
}

// newLeg validates spec and builds a PENDING leg.
func newLeg(id string, spec domain.LegSpec, defaultDenom, payer, payee string) (domain.PaymentLeg, error) {
	if !spec.Amount.IsPositive() {
		return domain.PaymentLeg{}, errInvalidArgument("", "leg %s: amount must be positive", id)
	}
	for _, oc := range []*domain.OracleCondition{spec.Condition.SenderOracle, spec.Condition.ReceiverOracle} {
		if oc != nil && oc.Key == "" {
			return domain.PaymentLeg{}, errInvalidArgument("", "leg %s: oracle condition needs a key", id)
		}
	}
	denom := spec.Denomination
	if denom == "" {
		denom = defaultDenom
	}
	if denom == "" {
		return domain.PaymentLeg{}, errInvalidArgument("", "leg %s: denomination is required", id)
	}
	return domain.PaymentLeg{
		ID:           id,
		Amount:       spec.Amount,
		Denomination: denom,
		Payer:        payer,
		Payee:        payee,
		Obligor:      spec.Obligor,
		Condition:    spec.Condition,
		Status:       domain.LegPending,
	}, nil
}

func errSuperseded(o *domain.Obligation) *Error {
	return errInvalidState(o.ID, "obligation was superseded by %s", o.SupersededBy)
}

// checkUnlocked fails with ALREADY_LOCKED while a swap holds o.
func (u *unitOfWork) checkUnlocked(o *domain.Obligation) error {
	l, ok, err := u.lockOf(o.ID)
	if err != nil {
		return err
	}
	if ok {
		return newError(KindAlreadyLocked, o.ID, "held by swap %s (%s)", l.SwapID, l.SwapStatus)
	}
	return nil
}

func (u *unitOfWork) checkAccept(o *domain.Obligation) error {
	if o.Superseded() {
		return errSuperseded(o)
	}
	if u.caller.Party != o.Counterparty {
		return newError(KindNotCounterparty, o.ID, "only the counterparty can accept")
	}
	if u.now.After(o.AcceptanceDeadline) {
		return newError(KindAcceptanceWindowClosed, o.ID, "acceptance deadline %s has passed", o.AcceptanceDeadline.Format(time.RFC3339))
	}
	if o.Status != domain.ObligationActive {
		return errInvalidState(o.ID, "cannot accept a %s obligation", o.Status)
	}
	return nil
}

func (u *unitOfWork) accept(o *domain.Obligation) {
	for i := range o.Legs {
		leg := &o.Legs[i]
		if leg.Status != domain.LegPending {
			continue
		}
		u.moveLeg(InstructionEscrow, o.ID, leg)
		leg.Status = domain.LegProcessing
		leg.Escrowed = true
	}
	o.Status = domain.ObligationCompleted
	u.putObligation(o)
	u.emit(domain.EventObligationAccepted, o.ID, map[string]string{"legs": fmt.Sprint(len(o.Legs))})
}

func (u *unitOfWork) checkTransfer(o *domain.Obligation, newHolder string) error {
	if o.Superseded() {
		return errSuperseded(o)
	}
	if u.caller.Party != o.Holder {
		return newError(KindNotHolder, o.ID, "only the holder can transfer")
	}
	if err := u.checkUnlocked(o); err != nil {
		return err
	}
	return checkTransferable(o, newHolder)
}

// checkTransferable holds for every transfer, including those a swap makes
// on an obligation it has locked.
func checkTransferable(o *domain.Obligation, newHolder string) error {
	switch o.Status {
	case domain.ObligationCancelled, domain.ObligationExpired:
		return errInvalidState(o.ID, "cannot transfer a %s obligation", o.Status)
	}
	switch newHolder {
	case "":
		return errInvalidArgument(o.ID, "new holder is required")
	case o.Holder:
		return errInvalidArgument(o.ID, "%s already holds the obligation", newHolder)
	case o.Counterparty:
		return errInvalidArgument(o.ID, "the counterparty cannot hold its own obligation")
	}
	return nil
}

// transfer supersedes o with a record held by to. Legs still in flight are
// redirected to the new holder. entityID names the operation's target for
// the TRANSFER instruction.
func (u *unitOfWork) transfer(o *domain.Obligation, to, entityID string) *domain.Obligation {
	next := o.Clone()
	next.ID = u.e.ids.Generate()
	next.Version = 0
	next.Holder = to
	next.Supersedes = o.ID
	next.SupersededBy = ""
	next.Lock = nil
	next.CreatedAt = u.now
	for i := range next.Legs {
		if next.Legs[i].Open() {
			next.Legs[i].Payee = to
		}
	}

	o.SupersededBy = next.ID
	u.putObligation(o)
	u.putObligation(next)
	u.moveObligation(entityID, o.ID, o.Holder, to)
	u.emit(domain.EventObligationTransferred, o.ID, map[string]string{
		"from":      o.Holder,
		"to":        to,
		"successor": next.ID,
	})
	return next
}

func (u *unitOfWork) checkCancel(o *domain.Obligation) error {
	if o.Superseded() {
		return errSuperseded(o)
	}
	switch o.Status {
	case domain.ObligationCancelled, domain.ObligationExpired:
		return newError(KindAlreadyTerminal, o.ID, "obligation is %s", o.Status)
	}
	if err := u.checkUnlocked(o); err != nil {
		return err
	}

	if o.Status == domain.ObligationActive {
		if u.caller.Party != o.Holder && u.caller.Party != o.Counterparty {
			return newError(KindNotAuthorized, o.ID, "only the holder or counterparty can cancel")
		}
		return nil
	}
	if o.OpenLegs() == 0 {
		return newError(KindAlreadyTerminal, o.ID, "every leg has settled")
	}
	if !u.e.policy.AllowCancelAfterAcceptance(u.caller, o) {
		return newError(KindNotAuthorized, o.ID, "cancellation after acceptance is not permitted")
	}
	return nil
}

// cancel unwinds every leg that has not completed. Escrowed legs are refunded.
func (u *unitOfWork) cancel(o *domain.Obligation) {
	refunded := 0
	for i := range o.Legs {
		leg := &o.Legs[i]
		if !leg.Open() {
			continue
		}
		if leg.Escrowed {
			u.moveLeg(InstructionRefund, o.ID, leg)
			refunded++
		}
		leg.Status = domain.LegCancelled
	}
	o.Status = domain.ObligationCancelled
	u.putObligation(o)
	u.emit(domain.EventObligationCancelled, o.ID, map[string]string{"refunded": fmt.Sprint(refunded)})
}
