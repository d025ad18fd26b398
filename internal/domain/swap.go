package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwapStatus is the lifecycle state of a swap.
type SwapStatus string

const (
	SwapPending   SwapStatus = "PENDING"
	SwapCompleted SwapStatus = "COMPLETED"
	SwapCancelled SwapStatus = "CANCELLED"
	SwapExpired   SwapStatus = "EXPIRED"
)

// CollateralState tracks one side's collateral in a repo swap.
type CollateralState string

const (
	CollateralNone      CollateralState = "NONE"
	CollateralHeld      CollateralState = "HELD"
	CollateralReturned  CollateralState = "RETURNED"
	CollateralForfeited CollateralState = "FORFEITED"
)

// Side names one party of a swap.
type Side string

const (
	SideInitiator    Side = "initiator"
	SideCounterparty Side = "counterparty"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideInitiator {
		return SideCounterparty
	}
	return SideInitiator
}

// SwapSide is everything one party contributes to a swap.
type SwapSide struct {
	Party           string          `json:"party"`
	Obligations     []string        `json:"obligations,omitempty"`
	Collateral      []string        `json:"collateral,omitempty"`
	Payments        []PaymentLeg    `json:"payments,omitempty"`
	CollateralState CollateralState `json:"collateral_state"`
}

// RepurchaseTerms is the minimum consideration the collateral depositor must
// pay to reclaim it, totalled per denomination.
type RepurchaseTerms struct {
	Initiator    map[string]decimal.Decimal `json:"initiator,omitempty" yaml:"initiator,omitempty"`
	Counterparty map[string]decimal.Decimal `json:"counterparty,omitempty" yaml:"counterparty,omitempty"`
}

// For returns the terms owed by side.
func (t *RepurchaseTerms) For(side Side) map[string]decimal.Decimal {
	if t == nil {
		return nil
	}
	if side == SideInitiator {
		return t.Initiator
	}
	return t.Counterparty
}

// Swap is an exchange agreement between an initiator and a counterparty.
// A zero Expiry makes it atomic; otherwise it is a repo swap whose collateral
// can be repurchased until Expiry.
type Swap struct {
	ID                 string           `json:"id"`
	Deadline           time.Time        `json:"deadline"`
	Expiry             time.Time        `json:"expiry,omitzero"`
	Status             SwapStatus       `json:"status"`
	Initiator          SwapSide         `json:"initiator"`
	Counterparty       SwapSide         `json:"counterparty"`
	RepurchaseTerms    *RepurchaseTerms `json:"repurchase_terms,omitempty"`
	RepurchasePayments []PaymentLeg     `json:"repurchase_payments,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	Version            int64            `json:"version"`
}

// Repo reports whether the swap has a repurchase window.
func (s *Swap) Repo() bool {
	return !s.Expiry.IsZero()
}

// Terminal reports whether the swap can no longer change.
func (s *Swap) Terminal() bool {
	switch s.Status {
	case SwapCancelled, SwapExpired:
		return true
	case SwapCompleted:
		return !s.Repo() || (s.Initiator.CollateralState != CollateralHeld && s.Counterparty.CollateralState != CollateralHeld)
	}
	return false
}

// SideOf returns the side for party, or false when party is not in the swap.
func (s *Swap) SideOf(party string) (Side, bool) {
	switch party {
	case s.Initiator.Party:
		return SideInitiator, true
	case s.Counterparty.Party:
		return SideCounterparty, true
	}
	return "", false
}

// Get returns a pointer to the named side.
func (s *Swap) Get(side Side) *SwapSide {
	if side == SideInitiator {
		return &s.Initiator
	}
	return &s.Counterparty
}

// AllPayments returns every leg the swap has escrowed, in a stable order.
func (s *Swap) AllPayments() []*PaymentLeg {
	var out []*PaymentLeg
	for i := range s.Initiator.Payments {
		out = append(out, &s.Initiator.Payments[i])
	}
	for i := range s.Counterparty.Payments {
		out = append(out, &s.Counterparty.Payments[i])
	}
	for i := range s.RepurchasePayments {
		out = append(out, &s.RepurchasePayments[i])
	}
	return out
}

// OpenLegs counts payments that are still pending or processing.
func (s *Swap) OpenLegs() int {
	return CountOpen(s.Initiator.Payments) + CountOpen(s.Counterparty.Payments) + CountOpen(s.RepurchasePayments)
}

// ProcessingLegs counts payments awaiting release.
func (s *Swap) ProcessingLegs() int {
	return CountProcessing(s.Initiator.Payments) + CountProcessing(s.Counterparty.Payments) + CountProcessing(s.RepurchasePayments)
}

// Clone returns a deep copy.
func (s *Swap) Clone() *Swap {
	c := *s
	c.Initiator = cloneSide(s.Initiator)
	c.Counterparty = cloneSide(s.Counterparty)
	c.RepurchasePayments = cloneLegs(s.RepurchasePayments)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneSide(s SwapSide) SwapSide {
	s.Obligations = append([]string(nil), s.Obligations...)
	s.Collateral = append([]string(nil), s.Collateral...)
	s.Payments = cloneLegs(s.Payments)
	return s
}

// ValidWindow reports whether expiry is consistent with deadline: either zero
// or strictly after it.
func ValidWindow(deadline, expiry time.Time) bool {
	return expiry.IsZero() || expiry.After(deadline)
}
