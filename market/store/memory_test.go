package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lead-engine/market"
	"github.com/warp/lead-engine/market/store"
)

func buyer(id string, balance float64) market.Buyer {
	return market.Buyer{
		ID:      market.BuyerID(id),
		Name:    id,
		Balance: market.NewMoney(balance),
		Status:  market.BuyerActive,
	}
}

func sub(id, campaignID, buyerID string, status market.SubscriptionStatus) market.Subscription {
	return market.Subscription{
		ID:         market.SubscriptionID(id),
		CampaignID: market.CampaignID(campaignID),
		BuyerID:    market.BuyerID(buyerID),
		Status:     status,
	}
}

func TestMemory_CompareAndSwapBalance(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.PutBuyer(ctx, buyer("b1", 100)))

	// Swap with the right prev succeeds.
	err := m.CompareAndSwapBalance(ctx, "b1", market.NewMoney(100), market.NewMoney(90))
	require.NoError(t, err)
	got, err := m.GetBuyer(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(market.NewMoney(90)))

	// Stale prev fails with a retryable conflict.
	err = m.CompareAndSwapBalance(ctx, "b1", market.NewMoney(100), market.NewMoney(80))
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrConcurrentModification))
	assert.True(t, market.IsRetryable(err))

	// Unknown buyer is a not-found, never a conflict.
	err = m.CompareAndSwapBalance(ctx, "ghost", market.NewMoney(1), market.NewMoney(0))
	assert.True(t, market.IsNotFound(err))
}

func TestMemory_ActiveSubscriptions_FiltersAndPreservesOrder(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.PutBuyer(ctx, buyer("b1", 10)))
	require.NoError(t, m.PutBuyer(ctx, buyer("b2", 10)))
	inactive := buyer("b3", 10)
	inactive.Status = market.BuyerInactive
	require.NoError(t, m.PutBuyer(ctx, inactive))

	require.NoError(t, m.PutSubscription(ctx, sub("s2", "camp", "b2", market.SubscriptionActive)))
	require.NoError(t, m.PutSubscription(ctx, sub("s1", "camp", "b1", market.SubscriptionActive)))
	require.NoError(t, m.PutSubscription(ctx, sub("s-paused", "camp", "b1", market.SubscriptionPaused)))
	require.NoError(t, m.PutSubscription(ctx, sub("s-inactive-buyer", "camp", "b3", market.SubscriptionActive)))
	require.NoError(t, m.PutSubscription(ctx, sub("s-other", "other-camp", "b1", market.SubscriptionActive)))

	subs, err := m.ActiveSubscriptions(ctx, "camp")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, market.SubscriptionID("s2"), subs[0].ID, "creation order, not id order")
	assert.Equal(t, market.SubscriptionID("s1"), subs[1].ID)
}

func TestMemory_MarkDistributed_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateLead(ctx, market.Lead{ID: "l1", Status: market.LeadPending}))

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, m.MarkDistributed(ctx, "l1", first))

	// A later call never changes status or the original timestamp.
	require.NoError(t, m.MarkDistributed(ctx, "l1", first.Add(time.Hour)))

	lead, err := m.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, market.LeadDistributed, lead.Status)
	require.NotNil(t, lead.DistributedAt)
	assert.True(t, lead.DistributedAt.Equal(first))
}

func TestMemory_CreateAssignment_RejectsDuplicatePair(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	a := market.LeadAssignment{ID: "a1", LeadID: "l1", BuyerID: "b1", SubscriptionID: "s1"}
	require.NoError(t, m.CreateAssignment(ctx, a))

	dup := market.LeadAssignment{ID: "a2", LeadID: "l1", BuyerID: "b1", SubscriptionID: "s1"}
	err := m.CreateAssignment(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrDuplicateAssignment))

	// Same lead to a different buyer is fine.
	require.NoError(t, m.CreateAssignment(ctx, market.LeadAssignment{ID: "a3", LeadID: "l1", BuyerID: "b2"}))

	has, err := m.HasAssignment(ctx, "l1", "b1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = m.HasAssignment(ctx, "l2", "b1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemory_CountAssignmentsForDay_Bounds(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	day := time.Date(2026, 8, 15, 13, 30, 0, 0, time.UTC)
	start, _ := market.DayBounds(day)

	mk := func(id string, at time.Time) market.LeadAssignment {
		return market.LeadAssignment{
			ID: market.AssignmentID(id), LeadID: market.LeadID("l-" + id),
			BuyerID: "b1", SubscriptionID: "s1", AssignedAt: at,
		}
	}
	require.NoError(t, m.CreateAssignment(ctx, mk("midnight", start)))
	require.NoError(t, m.CreateAssignment(ctx, mk("noon", day)))
	require.NoError(t, m.CreateAssignment(ctx, mk("yesterday", start.Add(-time.Minute))))
	require.NoError(t, m.CreateAssignment(ctx, mk("tomorrow", start.AddDate(0, 0, 1))))

	count, err := m.CountAssignmentsForDay(ctx, "s1", day)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "midnight inclusive, next midnight exclusive")

	count, err = m.CountAssignmentsForDay(ctx, "s-other", day)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemory_TransactionsByBuyer_CreationOrder(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, m.AppendTransaction(ctx, market.Transaction{
			ID:      market.TransactionID(id),
			BuyerID: "b1",
			Amount:  market.NewMoney(float64(i)),
		}))
	}
	require.NoError(t, m.AppendTransaction(ctx, market.Transaction{ID: "other", BuyerID: "b2"}))

	txs, err := m.TransactionsByBuyer(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, want := range []market.TransactionID{"t1", "t2", "t3"} {
		assert.Equal(t, want, txs[i].ID)
	}
}

func TestMemory_TouchLastDistributed(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.PutSubscription(ctx, sub("s1", "camp", "b1", market.SubscriptionActive)))

	at := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, m.TouchLastDistributed(ctx, "s1", at))

	require.Error(t, m.TouchLastDistributed(ctx, "ghost", at))

	require.NoError(t, m.PutBuyer(ctx, buyer("b1", 1)))
	subs, err := m.ActiveSubscriptions(ctx, "camp")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].LastDistributedAt)
	assert.True(t, subs[0].LastDistributedAt.Equal(at))
}
