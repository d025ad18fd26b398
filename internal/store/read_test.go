package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/settle/internal/domain"
)

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.GetObligation(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetSwap(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetComposed(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, ok, err := s.GetIdempotency(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistory_WalksBothDirections(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	o1 := createTestObligation("o-1", "alice", "bob")
	o2 := createTestObligation("o-2", "carol", "bob")
	o3 := createTestObligation("o-3", "dave", "bob")
	o2.Supersedes = "o-1"
	o3.Supersedes = "o-2"
	o1.SupersededBy = "o-2"
	o2.SupersededBy = "o-3"
	require.NoError(t, s.Commit(ctx, Batch{Obligations: []*domain.Obligation{o1, o2, o3}}))

	for _, id := range []string{"o-1", "o-2", "o-3"} {
		chain, err := s.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, chain, 3, id)
		assert.Equal(t, "o-1", chain[0].ID)
		assert.Equal(t, "o-2", chain[1].ID)
		assert.Equal(t, "o-3", chain[2].ID)
	}

	current, err := s.ListObligations(ctx, "")
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "o-3", current[0].ID)
}

func TestListObligations_ByHolder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestObligation("o-a", "alice", "bob")
	b := createTestObligation("o-b", "carol", "bob")
	b.CreatedAt = testNow.Add(time.Minute)
	c := createTestObligation("o-c", "alice", "bob")
	c.CreatedAt = testNow.Add(2 * time.Minute)
	require.NoError(t, s.Commit(ctx, Batch{Obligations: []*domain.Obligation{c, b, a}}))

	got, err := s.ListObligations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "o-a", got[0].ID)
	assert.Equal(t, "o-c", got[1].ID)
}

func TestOpenEntities(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	open := createTestObligation("o-open", "alice", "bob")
	open.Legs[0].Status = domain.LegProcessing
	pending := createTestObligation("o-pending", "alice", "bob")
	done := createTestObligation("o-done", "alice", "bob")
	done.Legs[0].Status = domain.LegCompleted
	sw := createTestSwap("s-1", "alice", "bob")
	sw.Initiator.Payments = []domain.PaymentLeg{{ID: "s-1/i/0", Status: domain.LegProcessing}}
	require.NoError(t, s.Commit(ctx, Batch{
		Obligations: []*domain.Obligation{open, pending, done},
		Swaps:       []*domain.Swap{sw},
	}))

	obligations, swaps, err := s.OpenEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"o-open"}, obligations)
	assert.Equal(t, []string{"s-1"}, swaps)
}

func TestEvents_FilterAndPaging(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, Batch{Events: []domain.Event{
		{Kind: domain.EventObligationCreated, EntityID: "o-1", At: testNow},
		{Kind: domain.EventObligationCreated, EntityID: "o-2", At: testNow},
		{Kind: domain.EventObligationAccepted, EntityID: "o-1", At: testNow, Detail: map[string]string{"legs": "1"}},
	}}))

	all, err := s.Events(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := s.Events(ctx, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].Seq)

	o1, err := s.Events(ctx, "o-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, o1, 2)
	assert.Equal(t, "1", o1[1].Detail["legs"])
	assert.True(t, o1[0].At.Equal(testNow))
}
