package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObligationStatus is the lifecycle state of an obligation.
type ObligationStatus string

const (
	ObligationActive    ObligationStatus = "ACTIVE"
	ObligationCompleted ObligationStatus = "COMPLETED"
	ObligationCancelled ObligationStatus = "CANCELLED"
	ObligationExpired   ObligationStatus = "EXPIRED"
)

// Terms are per-obligation settlement terms fixed at issuance.
type Terms struct {
	// CancellableAfterAcceptance allows a privileged party to cancel the
	// obligation after the counterparty accepted it.
	CancellableAfterAcceptance bool `json:"cancellable_after_acceptance,omitempty" yaml:"cancellable_after_acceptance,omitempty"`
}

// Obligation is a single payment promise from Counterparty (payer) to Holder
// (payee).
type Obligation struct {
	ID                 string           `json:"id"`
	Counterparty       string           `json:"counterparty"`
	Holder             string           `json:"holder"`
	Obligor            string           `json:"obligor,omitempty"`
	Notional           decimal.Decimal  `json:"notional"`
	Denomination       string           `json:"denomination"`
	AcceptanceDeadline time.Time        `json:"acceptance_deadline"`
	Status             ObligationStatus `json:"status"`
	Legs               []PaymentLeg     `json:"legs"`
	Terms              Terms            `json:"terms"`
	CreatedAt          time.Time        `json:"created_at"`
	Supersedes         string           `json:"supersedes,omitempty"`
	SupersededBy       string           `json:"superseded_by,omitempty"`
	Lock               *LockRef         `json:"lock,omitempty"`
	Version            int64            `json:"version"`
}

// Terminal reports whether no further status transition is possible.
// COMPLETED counts as terminal here even though its legs may still move.
func (o *Obligation) Terminal() bool {
	switch o.Status {
	case ObligationCompleted, ObligationCancelled, ObligationExpired:
		return true
	}
	return false
}

// Superseded reports whether a later record replaced this one.
func (o *Obligation) Superseded() bool {
	return o.SupersededBy != ""
}

// Current reports whether the record is the live head of its history.
func (o *Obligation) Current() bool {
	return !o.Superseded()
}

// OpenLegs counts legs that are still pending or processing.
func (o *Obligation) OpenLegs() int {
	return CountOpen(o.Legs)
}

// ProcessingLegs counts legs awaiting release.
func (o *Obligation) ProcessingLegs() int {
	return CountProcessing(o.Legs)
}

// Clone returns a deep copy. Records handed out by the store are cloned
// before mutation so a failed operation never leaks partial edits.
func (o *Obligation) Clone() *Obligation {
	c := *o
	c.Legs = cloneLegs(o.Legs)
	if o.Lock != nil {
		l := *o.Lock
		c.Lock = &l
	}
	return &c
}

// LegIndex returns the index of the leg with id, or -1.
func (o *Obligation) LegIndex(id string) int {
	for i := range o.Legs {
		if o.Legs[i].ID == id {
			return i
		}
	}
	return -1
}
