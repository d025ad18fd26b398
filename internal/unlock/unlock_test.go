package unlock

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/settle/internal/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func staticLookup(values map[string]string) Lookup {
	return func(c domain.OracleCondition) (string, error) {
		v, ok := values[c.Owner+"/"+c.Address+"/"+c.Key]
		if !ok {
			return "", errors.New("no value")
		}
		return v, nil
	}
}

func TestIsReleasable(t *testing.T) {
	oracle := &domain.OracleCondition{Owner: "feed", Address: "0x1", Key: "delivered", Value: "yes"}

	tests := []struct {
		name   string
		cond   domain.Condition
		now    time.Time
		lookup Lookup
		want   bool
	}{
		{name: "no conditions", want: true, now: base},
		{name: "sender gate closed", cond: domain.Condition{SenderUnlock: at(time.Hour)}, now: base},
		{name: "sender gate exactly open", cond: domain.Condition{SenderUnlock: at(0)}, now: base, want: true},
		{name: "receiver gate closed", cond: domain.Condition{SenderUnlock: at(-time.Hour), ReceiverUnlock: at(time.Hour)}, now: base},
		{name: "both gates open", cond: domain.Condition{SenderUnlock: at(-time.Hour), ReceiverUnlock: at(-time.Minute)}, now: base, want: true},
		{
			name:   "oracle matches",
			cond:   domain.Condition{SenderOracle: oracle},
			now:    base,
			lookup: staticLookup(map[string]string{"feed/0x1/delivered": "yes"}),
			want:   true,
		},
		{
			name:   "oracle mismatch",
			cond:   domain.Condition{SenderOracle: oracle},
			now:    base,
			lookup: staticLookup(map[string]string{"feed/0x1/delivered": "no"}),
		},
		{name: "oracle lookup error", cond: domain.Condition{ReceiverOracle: oracle}, now: base, lookup: staticLookup(nil)},
		{name: "oracle without lookup", cond: domain.Condition{ReceiverOracle: oracle}, now: base},
		{
			name:   "time open oracle closed",
			cond:   domain.Condition{SenderUnlock: at(-time.Hour), ReceiverOracle: oracle},
			now:    base,
			lookup: staticLookup(map[string]string{"feed/0x1/delivered": "pending"}),
		},
		{
			name:   "time closed oracle open",
			cond:   domain.Condition{SenderUnlock: at(time.Hour), ReceiverOracle: oracle},
			now:    base,
			lookup: staticLookup(map[string]string{"feed/0x1/delivered": "yes"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leg := domain.PaymentLeg{ID: "l-1", Condition: tt.cond, Status: domain.LegProcessing}
			assert.Equal(t, tt.want, IsReleasable(leg, tt.now, tt.lookup))
		})
	}
}

func TestNextCheck(t *testing.T) {
	leg := domain.PaymentLeg{Condition: domain.Condition{SenderUnlock: at(time.Hour), ReceiverUnlock: at(2 * time.Hour)}}
	next, ok := NextCheck(leg, base)
	assert.True(t, ok)
	assert.Equal(t, base.Add(2*time.Hour), next)

	_, ok = NextCheck(leg, base.Add(3*time.Hour))
	assert.False(t, ok)

	_, ok = NextCheck(domain.PaymentLeg{}, base)
	assert.False(t, ok)
}

func TestHasOracle(t *testing.T) {
	assert.False(t, HasOracle(domain.PaymentLeg{}))
	assert.True(t, HasOracle(domain.PaymentLeg{Condition: domain.Condition{ReceiverOracle: &domain.OracleCondition{}}}))
}

// The evaluator is polled repeatedly, so it must never change its inputs and
// must answer the same way for the same inputs.
func TestIsReleasable_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("pure and repeatable", prop.ForAll(
		func(senderOffset, receiverOffset, nowOffset int64, oracleMatch bool) bool {
			leg := domain.PaymentLeg{
				ID:     "l-1",
				Status: domain.LegProcessing,
				Condition: domain.Condition{
					SenderUnlock:   at(time.Duration(senderOffset) * time.Minute),
					ReceiverUnlock: at(time.Duration(receiverOffset) * time.Minute),
					SenderOracle:   &domain.OracleCondition{Owner: "o", Address: "a", Key: "k", Value: "v"},
				},
			}
			value := "x"
			if oracleMatch {
				value = "v"
			}
			lookup := func(domain.OracleCondition) (string, error) {
				return value, nil
			}
			before := *leg.Condition.SenderUnlock
			now := base.Add(time.Duration(nowOffset) * time.Minute)

			first := IsReleasable(leg, now, lookup)
			second := IsReleasable(leg, now, lookup)
			return first == second && leg.Status == domain.LegProcessing && leg.Condition.SenderUnlock.Equal(before)
		},
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(-1000, 1000),
		gen.Bool(),
	))

	properties.Property("never releasable before a time gate", prop.ForAll(
		func(unlockOffset, nowOffset int64) bool {
			leg := domain.PaymentLeg{Condition: domain.Condition{ReceiverUnlock: at(time.Duration(unlockOffset) * time.Minute)}}
			now := base.Add(time.Duration(nowOffset) * time.Minute)
			got := IsReleasable(leg, now, nil)
			return got == (nowOffset >= unlockOffset)
		},
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(-1000, 1000),
	))

	properties.Property("releasable after NextCheck when no oracle", prop.ForAll(
		func(senderOffset, receiverOffset int64) bool {
			leg := domain.PaymentLeg{Condition: domain.Condition{
				SenderUnlock:   at(time.Duration(senderOffset) * time.Minute),
				ReceiverUnlock: at(time.Duration(receiverOffset) * time.Minute),
			}}
			next, ok := NextCheck(leg, base)
			if !ok {
				return IsReleasable(leg, base, nil)
			}
			return !IsReleasable(leg, base, nil) && IsReleasable(leg, next, nil)
		},
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(-1000, 1000),
	))

	properties.TestingRun(t)
}
