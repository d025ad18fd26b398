package engine_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
	"github.com/roach88/settle/internal/ids"
	"github.com/roach88/settle/internal/store"
	"github.com/roach88/settle/internal/testutil"
)

// T is the start of every scenario.
var T = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

var (
	alice = domain.Caller{Party: "alice"}
	bob   = domain.Caller{Party: "bob"}
	carol = domain.Caller{Party: "carol"}
	admin = domain.Caller{Party: "admin", Permissions: []string{domain.PermOwner}}
)

type fixture struct {
	eng   *engine.Engine
	st    *store.Store
	path  string
	clock *testutil.ManualClock
	exec  *testutil.Executor
	ctx   context.Context
	keys  int
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settle.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		st:    st,
		path:  path,
		clock: testutil.NewManualClock(T),
		exec:  testutil.NewExecutor(),
		ctx:   context.Background(),
	}
	base := []engine.Option{
		engine.WithNow(f.clock.Now),
		engine.WithIDs(ids.NewSequenceGenerator("id")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithLockWait(5 * time.Second),
	}
	eng, err := engine.New(f.ctx, st, f.exec, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	f.eng = eng
	return f
}

// peer opens a second engine on f's database, the way a separate process
// would: its own store connection, entity locks and id sequence. It shares
// f's clock.
func (f *fixture) peer(t *testing.T, exec engine.Executor) *engine.Engine {
	t.Helper()
	st, err := store.Open(f.path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng, err := engine.New(f.ctx, st, exec,
		engine.WithNow(f.clock.Now),
		engine.WithIDs(ids.NewSequenceGenerator("peer")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithLockWait(5*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

// key returns a fresh idempotency key.
func (f *fixture) key() string {
	f.keys++
	return fmt.Sprintf("k-%d", f.keys)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func at(d time.Duration) *time.Time {
	t := T.Add(d)
	return &t
}

// obligationReq is a one-leg USD obligation with a 7 day acceptance window.
func obligationReq(counterparty, amt string) engine.CreateObligationRequest {
	return engine.CreateObligationRequest{
		Counterparty:       counterparty,
		Denomination:       "USD",
		AcceptanceDeadline: T.Add(7 * day),
		Legs:               []domain.LegSpec{{Amount: amount(amt)}},
	}
}

// issue creates an obligation held by holder and owed by counterparty.
func (f *fixture) issue(t *testing.T, holder domain.Caller, counterparty string) *domain.Obligation {
	t.Helper()
	o, err := f.eng.CreateObligation(f.ctx, holder, f.key(), obligationReq(counterparty, "100"))
	require.NoError(t, err)
	return o
}

func (f *fixture) obligation(t *testing.T, id string) *domain.Obligation {
	t.Helper()
	o, err := f.eng.GetObligation(f.ctx, id)
	require.NoError(t, err)
	return o
}

func (f *fixture) swap(t *testing.T, id string) *domain.Swap {
	t.Helper()
	sw, err := f.eng.GetSwap(f.ctx, id)
	require.NoError(t, err)
	return sw
}

// head returns the current record of id's transfer chain.
func (f *fixture) head(t *testing.T, id string) *domain.Obligation {
	t.Helper()
	chain, err := f.eng.History(f.ctx, id)
	require.NoError(t, err)
	return chain[len(chain)-1]
}

func (f *fixture) events(t *testing.T, entityID string) []domain.EventKind {
	t.Helper()
	evs, err := f.eng.Events(f.ctx, entityID, 0, 0)
	require.NoError(t, err)
	kinds := make([]domain.EventKind, len(evs))
	for i, e := range evs {
		kinds[i] = e.Kind
	}
	return kinds
}

func requireKind(t *testing.T, err error, kind engine.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, engine.KindOf(err), "error: %v", err)
}

func legStatuses(legs []domain.PaymentLeg) []domain.LegStatus {
	out := make([]domain.LegStatus, len(legs))
	for i, l := range legs {
		out[i] = l.Status
	}
	return out
}
