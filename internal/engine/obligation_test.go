package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
	"github.com/roach88/settle/internal/testutil"
)

func TestCreateObligation_Defaults(t *testing.T) {
	f := newFixture(t)

	req := obligationReq("bob", "60")
	req.Notional = amount("0")
	req.Legs = append(req.Legs, domain.LegSpec{Amount: amount("40"), Condition: domain.Condition{SenderUnlock: at(10 * day)}})
	o, err := f.eng.CreateObligation(f.ctx, alice, f.key(), req)
	require.NoError(t, err)

	assert.Equal(t, "alice", o.Holder)
	assert.Equal(t, "bob", o.Counterparty)
	assert.Equal(t, domain.ObligationActive, o.Status)
	assert.True(t, o.Notional.Equal(amount("100")), "notional defaults to the leg total, got %s", o.Notional)
	assert.Equal(t, int64(1), o.Version)
	require.Len(t, o.Legs, 2)
	for i, leg := range o.Legs {
		assert.Equal(t, o.ID+"/"+string(rune('1'+i)), leg.ID)
		assert.Equal(t, "bob", leg.Payer)
		assert.Equal(t, "alice", leg.Payee)
		assert.Equal(t, "USD", leg.Denomination)
		assert.Equal(t, domain.LegPending, leg.Status)
	}

	stored := f.obligation(t, o.ID)
	assert.Equal(t, o.ID, stored.ID)
	assert.Equal(t, []domain.EventKind{domain.EventObligationCreated}, f.events(t, o.ID))
	assert.Empty(t, f.exec.Executed(), "issuance moves no value")
}

func TestCreateObligation_Validation(t *testing.T) {
	tests := []struct {
		name   string
		caller domain.Caller
		mutate func(*engine.CreateObligationRequest)
		want   engine.Kind
	}{
		{"deadline now", alice, func(r *engine.CreateObligationRequest) { r.AcceptanceDeadline = T }, engine.KindDeadlineNotFuture},
		{"deadline past", alice, func(r *engine.CreateObligationRequest) { r.AcceptanceDeadline = T.Add(-day) }, engine.KindDeadlineNotFuture},
		{"no counterparty", alice, func(r *engine.CreateObligationRequest) { r.Counterparty = "" }, engine.KindInvalidArgument},
		{"self obligation", alice, func(r *engine.CreateObligationRequest) { r.Counterparty = "alice" }, engine.KindInvalidArgument},
		{"no legs", alice, func(r *engine.CreateObligationRequest) { r.Legs = nil }, engine.KindInvalidArgument},
		{"zero leg", alice, func(r *engine.CreateObligationRequest) { r.Legs[0].Amount = amount("0") }, engine.KindInvalidArgument},
		{"negative leg", alice, func(r *engine.CreateObligationRequest) { r.Legs[0].Amount = amount("-5") }, engine.KindInvalidArgument},
		{"negative notional", alice, func(r *engine.CreateObligationRequest) { r.Notional = amount("-1") }, engine.KindInvalidArgument},
		{"oracle without key", alice, func(r *engine.CreateObligationRequest) {
			r.Legs[0].Condition.ReceiverOracle = &domain.OracleCondition{Owner: "o", Value: "v"}
		}, engine.KindInvalidArgument},
		{"issue for another holder", alice, func(r *engine.CreateObligationRequest) { r.Holder = "carol" }, engine.KindNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := obligationReq("bob", "100")
			tt.mutate(&req)
			_, err := f.eng.CreateObligation(f.ctx, tt.caller, f.key(), req)
			requireKind(t, err, tt.want)
		})
	}
}

func TestCreateObligation_PrivilegedIssuesForHolder(t *testing.T) {
	f := newFixture(t)

	req := obligationReq("bob", "100")
	req.Holder = "carol"
	o, err := f.eng.CreateObligation(f.ctx, admin, f.key(), req)
	require.NoError(t, err)
	assert.Equal(t, "carol", o.Holder)
	assert.Equal(t, "carol", o.Legs[0].Payee)
}

func TestCreateObligation_ObligorIsSource(t *testing.T) {
	f := newFixture(t)

	req := obligationReq("bob", "100")
	req.Obligor = "dan"
	o, err := f.eng.CreateObligation(f.ctx, alice, f.key(), req)
	require.NoError(t, err)

	_, err = f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
	require.NoError(t, err)

	executed := f.exec.Executed()
	require.Len(t, executed, 1)
	assert.Equal(t, "dan", executed[0].From, "the obligor of record pays")
	assert.Equal(t, "alice", executed[0].To)
}

func TestAcceptObligation(t *testing.T) {
	f := newFixture(t)
	o := f.issue(t, alice, "bob")

	f.clock.Advance(3 * day)
	accepted, err := f.eng.AcceptObligation(f.ctx, bob, "accept-1", o.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.ObligationCompleted, accepted.Status)
	assert.Equal(t, []domain.LegStatus{domain.LegProcessing}, legStatuses(accepted.Legs))
	assert.True(t, accepted.Legs[0].Escrowed)
	assert.Equal(t, int64(2), accepted.Version)

	executed := f.exec.Executed()
	require.Len(t, executed, 1)
	assert.Equal(t, engine.InstructionEscrow, executed[0].Kind)
	assert.Equal(t, "accept-1/ESCROW/"+o.Legs[0].ID, executed[0].Key)
	assert.Equal(t, o.ID, executed[0].EntityID)

	assert.Equal(t, []domain.EventKind{domain.EventObligationCreated, domain.EventObligationAccepted}, f.events(t, o.ID))
}

func TestAcceptObligation_Preconditions(t *testing.T) {
	t.Run("not counterparty", func(t *testing.T) {
		f := newFixture(t)
		o := f.issue(t, alice, "bob")
		_, err := f.eng.AcceptObligation(f.ctx, alice, f.key(), o.ID)
		requireKind(t, err, engine.KindNotCounterparty)
	})

	t.Run("window closed", func(t *testing.T) {
		f := newFixture(t)
		o := f.issue(t, alice, "bob")
		f.clock.Advance(7*day + 1)
		_, err := f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
		requireKind(t, err, engine.KindAcceptanceWindowClosed)
	})

	t.Run("accept at the deadline", func(t *testing.T) {
		f := newFixture(t)
		o := f.issue(t, alice, "bob")
		f.clock.Advance(7 * day)
		_, err := f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
		require.NoError(t, err)
	})

	t.Run("already accepted", func(t *testing.T) {
		f := newFixture(t)
		o := f.issue(t, alice, "bob")
		_, err := f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
		require.NoError(t, err)
		_, err = f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
		requireKind(t, err, engine.KindInvalidState)
	})

	t.Run("unknown", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.eng.AcceptObligation(f.ctx, bob, f.key(), "nope")
		requireKind(t, err, engine.KindNotFound)
	})

	t.Run("executor failure leaves it active", func(t *testing.T) {
		f := newFixture(t)
		o := f.issue(t, alice, "bob")
		f.exec.FailRef(o.Legs[0].ID)

		_, err := f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
		requireKind(t, err, engine.KindExecutorFailed)
		assert.ErrorIs(t, err, testutil.ErrInjected)

		stored := f.obligation(t, o.ID)
		assert.Equal(t, domain.ObligationActive, stored.Status)
		assert.Equal(t, domain.LegPending, stored.Legs[0].Status)
		assert.Equal(t, int64(1), stored.Version)
	})
}

func TestTransferObligation(t *testing.T) {
	f := newFixture(t)
	o := f.issue(t, alice, "bob")
	_, err := f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
	require.NoError(t, err)

	next, err := f.eng.TransferObligation(f.ctx, alice, f.key(), o.ID, "carol")
	require.NoError(t, err)

	assert.NotEqual(t, o.ID, next.ID)
	assert.Equal(t, "carol", next.Holder)
	assert.Equal(t, "bob", next.Counterparty, "counterparty is immutable")
	assert.Equal(t, o.ID, next.Supersedes)
	assert.Equal(t, "carol", next.Legs[0].Payee, "in-flight legs follow the holder")
	assert.Equal(t, o.Legs[0].ID, next.Legs[0].ID, "leg ids are stable across transfers")
	assert.Equal(t, int64(1), next.Version)

	prior := f.obligation(t, o.ID)
	assert.Equal(t, next.ID, prior.SupersededBy)
	assert.Equal(t, "alice", prior.Holder, "history is not rewritten")

	chain, err := f.eng.History(f.ctx, next.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, []string{o.ID, next.ID}, []string{chain[0].ID, chain[1].ID})

	executed := f.exec.Executed()
	last := executed[len(executed)-1]
	assert.Equal(t, engine.InstructionTransfer, last.Kind)
	assert.Equal(t, "alice", last.From)
	assert.Equal(t, "carol", last.To)

	// The superseded record can no longer move.
	_, err = f.eng.TransferObligation(f.ctx, alice, f.key(), o.ID, "dan")
	requireKind(t, err, engine.KindInvalidState)

	holdings, err := f.eng.ListObligations(f.ctx, "carol")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, next.ID, holdings[0].ID)
}

func TestTransferObligation_Preconditions(t *testing.T) {
	tests := []struct {
		name     string
		caller   domain.Caller
		to       string
		terminal bool
		want     engine.Kind
	}{
		{"not holder", bob, "carol", false, engine.KindNotHolder},
		{"empty holder", alice, "", false, engine.KindInvalidArgument},
		{"same holder", alice, "alice", false, engine.KindInvalidArgument},
		{"to counterparty", alice, "bob", false, engine.KindInvalidArgument},
		{"cancelled", alice, "carol", true, engine.KindInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.issue(t, alice, "bob")
			if tt.terminal {
				_, err := f.eng.CancelObligation(f.ctx, alice, f.key(), o.ID)
				require.NoError(t, err)
			}
			_, err := f.eng.TransferObligation(f.ctx, tt.caller, f.key(), o.ID, tt.to)
			requireKind(t, err, tt.want)
		})
	}
}

func TestCancelObligation_BeforeAcceptance(t *testing.T) {
	for _, c := range []domain.Caller{alice, bob} {
		t.Run(c.Party, func(t *testing.T) {
			f := newFixture(t)
			o := f.issue(t, alice, "bob")

			cancelled, err := f.eng.CancelObligation(f.ctx, c, f.key(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.ObligationCancelled, cancelled.Status)
			assert.Equal(t, []domain.LegStatus{domain.LegCancelled}, legStatuses(cancelled.Legs))
			assert.Empty(t, f.exec.Executed(), "nothing was escrowed, nothing to refund")

			_, err = f.eng.CancelObligation(f.ctx, c, f.key(), o.ID)
			requireKind(t, err, engine.KindAlreadyTerminal)
		})
	}

	t.Run("stranger", func(t *testing.T) {
		f := newFixture(t)
		o := f.issue(t, alice, "bob")
		_, err := f.eng.CancelObligation(f.ctx, carol, f.key(), o.ID)
		requireKind(t, err, engine.KindNotAuthorized)
	})
}

func TestCancelObligation_AfterAcceptance(t *testing.T) {
	issueAccepted := func(t *testing.T, f *fixture, cancellable bool) *domain.Obligation {
		req := obligationReq("bob", "100")
		req.Terms.CancellableAfterAcceptance = cancellable
		req.Legs[0].Condition.SenderUnlock = at(10 * day)
		o, err := f.eng.CreateObligation(f.ctx, alice, f.key(), req)
		require.NoError(t, err)
		_, err = f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
		require.NoError(t, err)
		return o
	}

	t.Run("parties cannot cancel unilaterally", func(t *testing.T) {
		f := newFixture(t)
		o := issueAccepted(t, f, true)
		_, err := f.eng.CancelObligation(f.ctx, alice, f.key(), o.ID)
		requireKind(t, err, engine.KindNotAuthorized)
	})

	t.Run("privileged without terms", func(t *testing.T) {
		f := newFixture(t)
		o := issueAccepted(t, f, false)
		_, err := f.eng.CancelObligation(f.ctx, admin, f.key(), o.ID)
		requireKind(t, err, engine.KindNotAuthorized)
	})

	t.Run("privileged with terms refunds", func(t *testing.T) {
		f := newFixture(t)
		o := issueAccepted(t, f, true)

		cancelled, err := f.eng.CancelObligation(f.ctx, admin, "cancel-1", o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ObligationCancelled, cancelled.Status)
		assert.Equal(t, []domain.LegStatus{domain.LegCancelled}, legStatuses(cancelled.Legs))

		executed := f.exec.Executed()
		last := executed[len(executed)-1]
		assert.Equal(t, engine.InstructionRefund, last.Kind)
		assert.Equal(t, "cancel-1/REFUND/"+o.Legs[0].ID, last.Key)
	})

	t.Run("custom policy", func(t *testing.T) {
		f := newFixture(t, engine.WithCancelPolicy(engine.CancelPolicyFunc(func(c domain.Caller, o *domain.Obligation) bool {
			return c.Party == o.Counterparty
		})))
		o := issueAccepted(t, f, false)
		_, err := f.eng.CancelObligation(f.ctx, bob, f.key(), o.ID)
		require.NoError(t, err)
	})

	t.Run("fully settled", func(t *testing.T) {
		f := newFixture(t)
		o := issueAccepted(t, f, true)
		f.clock.Advance(10 * day)
		n, err := f.eng.ReleaseDue(f.ctx, o.ID)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		_, err = f.eng.CancelObligation(f.ctx, admin, f.key(), o.ID)
		requireKind(t, err, engine.KindAlreadyTerminal)
	})
}

func TestExpireObligation(t *testing.T) {
	f := newFixture(t)
	o := f.issue(t, alice, "bob")

	_, err := f.eng.ExpireObligation(f.ctx, carol, f.key(), o.ID)
	requireKind(t, err, engine.KindInvalidState)

	f.clock.Advance(7*day + 1)
	expired, err := f.eng.ExpireObligation(f.ctx, carol, f.key(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ObligationExpired, expired.Status)
	assert.Equal(t, []domain.LegStatus{domain.LegCancelled}, legStatuses(expired.Legs))

	_, err = f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
	requireKind(t, err, engine.KindAcceptanceWindowClosed)
	_, err = f.eng.ExpireObligation(f.ctx, carol, f.key(), o.ID)
	requireKind(t, err, engine.KindInvalidState)
}

// Obligation O (notional 100, deadline T+7d) with one leg unlocking at T+10d
// is accepted at T+3d and the leg settles at T+10d, after the acceptance
// deadline has passed.
func TestDecoupledClocks(t *testing.T) {
	f := newFixture(t)

	req := obligationReq("bob", "100")
	req.Notional = amount("100")
	req.Legs[0].Condition.SenderUnlock = at(10 * day)
	o, err := f.eng.CreateObligation(f.ctx, alice, f.key(), req)
	require.NoError(t, err)

	f.clock.Set(T.Add(3 * day))
	accepted, err := f.eng.AcceptObligation(f.ctx, bob, f.key(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ObligationCompleted, accepted.Status)
	assert.Equal(t, domain.LegProcessing, accepted.Legs[0].Status)

	f.clock.Set(T.Add(8 * day))
	n, err := f.eng.ReleaseDue(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "the leg is still time-gated")

	f.clock.Set(T.Add(10 * day))
	n, err = f.eng.ReleaseDue(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	settled := f.obligation(t, o.ID)
	assert.Equal(t, domain.ObligationCompleted, settled.Status)
	assert.Equal(t, domain.LegCompleted, settled.Legs[0].Status)
	require.NotNil(t, settled.Legs[0].CompletedAt)
	assert.Equal(t, T.Add(10*day), settled.Legs[0].CompletedAt.UTC())
}
