package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/settle/internal/domain"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestObligation creates a new (version 1) obligation with one leg.
func createTestObligation(id, holder, counterparty string) *domain.Obligation {
	unlock := testNow.Add(10 * 24 * time.Hour)
	return &domain.Obligation{
		ID:                 id,
		Counterparty:       counterparty,
		Holder:             holder,
		Notional:           decimal.RequireFromString("100.00"),
		Denomination:       "USD",
		AcceptanceDeadline: testNow.Add(7 * 24 * time.Hour),
		Status:             domain.ObligationActive,
		Legs: []domain.PaymentLeg{{
			ID:           id + "/0",
			Amount:       decimal.RequireFromString("100.00"),
			Denomination: "USD",
			Payer:        counterparty,
			Payee:        holder,
			Condition:    domain.Condition{SenderUnlock: &unlock},
			Status:       domain.LegPending,
		}},
		CreatedAt: testNow,
		Version:   1,
	}
}

// createTestSwap creates a new (version 1) atomic swap.
func createTestSwap(id, initiator, counterparty string) *domain.Swap {
	return &domain.Swap{
		ID:       id,
		Deadline: testNow.Add(5 * 24 * time.Hour),
		Status:   domain.SwapPending,
		Initiator: domain.SwapSide{
			Party:           initiator,
			Obligations:     []string{"o-1"},
			CollateralState: domain.CollateralNone,
		},
		Counterparty: domain.SwapSide{
			Party:           counterparty,
			CollateralState: domain.CollateralNone,
		},
		CreatedAt: testNow,
		Version:   1,
	}
}
