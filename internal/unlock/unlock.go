// Package unlock decides whether a payment leg may be released.
//
// IsReleasable is a pure function over the leg, the current time and a
// read-only oracle lookup. It never mutates the leg and may be called on a
// polling schedule. Marking a leg completed is the caller's job.
package unlock

import (
	"time"

	"github.com/roach88/settle/internal/domain"
)

// Lookup reads the current oracle value for a condition. It must be
// read-only. An error means the value is unknown.
type Lookup func(c domain.OracleCondition) (string, error)

// IsReleasable reports whether every configured gate on leg is open at now.
//
// Time gates open when now is at or after the unlock time. Oracle gates open
// when the lookup returns the expected value. A missing lookup or a lookup
// error keeps an oracle gate closed.
func IsReleasable(leg domain.PaymentLeg, now time.Time, lookup Lookup) bool {
	c := leg.Condition
	if !timeOpen(c.SenderUnlock, now) || !timeOpen(c.ReceiverUnlock, now) {
		return false
	}
	return oracleOpen(c.SenderOracle, lookup) && oracleOpen(c.ReceiverOracle, lookup)
}

// NextCheck returns the earliest future time at which a closed time gate on
// leg opens. It returns false when every time gate is already open, in which
// case only oracle gates can still be holding the leg.
func NextCheck(leg domain.PaymentLeg, now time.Time) (time.Time, bool) {
	var next time.Time
	for _, t := range []*time.Time{leg.Condition.SenderUnlock, leg.Condition.ReceiverUnlock} {
		if t == nil || !now.Before(*t) {
			continue
		}
		if next.IsZero() || t.After(next) {
			// Both gates must open, so the later one decides.
			next = *t
		}
	}
	return next, !next.IsZero()
}

// HasOracle reports whether leg is gated on any oracle value.
func HasOracle(leg domain.PaymentLeg) bool {
	return leg.Condition.SenderOracle != nil || leg.Condition.ReceiverOracle != nil
}

func timeOpen(t *time.Time, now time.Time) bool {
	return t == nil || !now.Before(*t)
}

func oracleOpen(c *domain.OracleCondition, lookup Lookup) bool {
	if c == nil {
		return true
	}
	if lookup == nil {
		return false
	}
	v, err := lookup(*c)
	if err != nil {
		return false
	}
	return v == c.Value
}
