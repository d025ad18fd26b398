package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegStatus is the lifecycle state of one payment leg.
type LegStatus string

const (
	LegPending    LegStatus = "PENDING"
	LegProcessing LegStatus = "PROCESSING"
	LegCompleted  LegStatus = "COMPLETED"
	LegCancelled  LegStatus = "CANCELLED"
)

// OracleCondition is an external key/value check. The leg is gated until the
// oracle owned by Owner at Address reports Value for Key.
type OracleCondition struct {
	Owner   string `json:"owner" yaml:"owner"`
	Address string `json:"address" yaml:"address"`
	Key     string `json:"key" yaml:"key"`
	Value   string `json:"value" yaml:"value"`
}

// Condition gates the release of a leg. Every part is optional; a zero
// Condition means the leg is releasable as soon as it is processing.
type Condition struct {
	SenderUnlock   *time.Time       `json:"sender_unlock,omitempty" yaml:"sender_unlock,omitempty"`
	ReceiverUnlock *time.Time       `json:"receiver_unlock,omitempty" yaml:"receiver_unlock,omitempty"`
	SenderOracle   *OracleCondition `json:"sender_oracle,omitempty" yaml:"sender_oracle,omitempty"`
	ReceiverOracle *OracleCondition `json:"receiver_oracle,omitempty" yaml:"receiver_oracle,omitempty"`
}

// PaymentLeg is one scheduled unit of value.
type PaymentLeg struct {
	ID           string          `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	Denomination string          `json:"denomination"`
	Payer        string          `json:"payer"`
	Payee        string          `json:"payee"`
	Obligor      string          `json:"obligor,omitempty"`
	Condition    Condition       `json:"condition"`
	Status       LegStatus       `json:"status"`
	Escrowed     bool            `json:"escrowed,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Open reports whether the leg can still move (pending or processing).
func (l PaymentLeg) Open() bool {
	return l.Status == LegPending || l.Status == LegProcessing
}

// Source is the party whose funds move: the obligor of record when set,
// otherwise the payer.
func (l PaymentLeg) Source() string {
	if l.Obligor != "" {
		return l.Obligor
	}
	return l.Payer
}

// LegSpec is the caller-supplied shape of a leg before ids and parties are
// assigned.
type LegSpec struct {
	Amount       decimal.Decimal `json:"amount" yaml:"amount"`
	Denomination string          `json:"denomination" yaml:"denomination"`
	Obligor      string          `json:"obligor,omitempty" yaml:"obligor,omitempty"`
	Condition    Condition       `json:"condition" yaml:"condition"`
}

// PaymentSpec is a leg with explicit parties, used for swap and repurchase
// consideration.
type PaymentSpec struct {
	LegSpec `yaml:",inline"`
	Payee   string `json:"payee,omitempty" yaml:"payee,omitempty"`
}

func cloneLegs(legs []PaymentLeg) []PaymentLeg {
	if legs == nil {
		return nil
	}
	out := make([]PaymentLeg, len(legs))
	copy(out, legs)
	return out
}

// CountOpen returns the number of legs still pending or processing.
func CountOpen(legs []PaymentLeg) int {
	n := 0
	for _, l := range legs {
		if l.Open() {
			n++
		}
	}
	return n
}

// CountProcessing returns the number of legs escrowed and awaiting release.
func CountProcessing(legs []PaymentLeg) int {
	n := 0
	for _, l := range legs {
		if l.Status == LegProcessing {
			n++
		}
	}
	return n
}

// SumByDenomination totals leg amounts per denomination.
func SumByDenomination(legs []PaymentLeg) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, l := range legs {
		out[l.Denomination] = out[l.Denomination].Add(l.Amount)
	}
	return out
}
