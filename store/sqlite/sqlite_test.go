package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lead-engine/market"
	"github.com/warp/lead-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testBuyer(id string, balance float64) market.Buyer {
	return market.Buyer{
		ID:                 market.BuyerID(id),
		Name:               id,
		Balance:            market.NewMoney(balance),
		Priority:           3,
		AutoRecharge:       true,
		RechargeThreshold:  market.NewMoney(10),
		RechargeAmount:     market.NewMoney(100),
		PaymentMethodRef:   "pm_1",
		PaymentCustomerRef: "cus_1",
		Status:             market.BuyerActive,
	}
}

func TestSQLite_BuyerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	want := testBuyer("b1", 123.45)
	require.NoError(t, s.PutBuyer(ctx, want))

	got, err := s.GetBuyer(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.True(t, got.Balance.Equal(want.Balance))
	assert.Equal(t, want.Priority, got.Priority)
	assert.True(t, got.AutoRecharge)
	assert.True(t, got.RechargeThreshold.Equal(want.RechargeThreshold))
	assert.True(t, got.RechargeAmount.Equal(want.RechargeAmount))
	assert.Equal(t, want.PaymentCustomerRef, got.PaymentCustomerRef)
	assert.Equal(t, market.BuyerActive, got.Status)

	_, err = s.GetBuyer(ctx, "ghost")
	assert.True(t, market.IsNotFound(err))
}

func TestSQLite_CompareAndSwapBalance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PutBuyer(ctx, testBuyer("b1", 100)))

	require.NoError(t, s.CompareAndSwapBalance(ctx, "b1", market.NewMoney(100), market.NewMoney(70)))
	got, err := s.GetBuyer(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(market.NewMoney(70)))

	err = s.CompareAndSwapBalance(ctx, "b1", market.NewMoney(100), market.NewMoney(50))
	assert.True(t, errors.Is(err, market.ErrConcurrentModification), "stale prev must conflict")

	err = s.CompareAndSwapBalance(ctx, "ghost", market.NewMoney(1), market.NewMoney(0))
	assert.True(t, market.IsNotFound(err))
}

func TestSQLite_LedgerAppendAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	entries := []market.Transaction{
		{ID: "t1", BuyerID: "b1", Amount: market.NewMoney(100), BalanceBefore: market.NewMoney(0),
			BalanceAfter: market.NewMoney(100), Type: market.TxCredit, Reason: "top-up", CreatedAt: now},
		{ID: "t2", BuyerID: "b1", Amount: market.NewMoney(-10), BalanceBefore: market.NewMoney(100),
			BalanceAfter: market.NewMoney(90), Type: market.TxDebit, AssignmentID: "a1", CreatedAt: now},
		{ID: "t3", BuyerID: "b2", Amount: market.NewMoney(5), BalanceBefore: market.NewMoney(0),
			BalanceAfter: market.NewMoney(5), Type: market.TxAutoRecharge, GatewayRef: "ch_9", CreatedAt: now},
	}
	for _, tx := range entries {
		require.NoError(t, s.AppendTransaction(ctx, tx))
	}

	txs, err := s.TransactionsByBuyer(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, market.TransactionID("t1"), txs[0].ID)
	assert.Equal(t, market.TransactionID("t2"), txs[1].ID)
	assert.True(t, txs[0].BalanceAfter.Equal(txs[1].BalanceBefore))
	assert.Equal(t, market.AssignmentID("a1"), txs[1].AssignmentID)

	txs, err = s.TransactionsByBuyer(ctx, "b2")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "ch_9", txs[0].GatewayRef)
}

func TestSQLite_SubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PutBuyer(ctx, testBuyer("b1", 100)))

	dailyCap := 5
	prio := 2
	at := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	want := market.Subscription{
		ID:                "s1",
		CampaignID:        "c1",
		BuyerID:           "b1",
		DailyCap:          &dailyCap,
		Regions:           []string{"CA", "TX"},
		WaterfallPriority: &prio,
		Status:            market.SubscriptionActive,
		LastDistributedAt: &at,
	}
	require.NoError(t, s.PutSubscription(ctx, want))

	subs, err := s.ActiveSubscriptions(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	got := subs[0]
	assert.Equal(t, want.ID, got.ID)
	require.NotNil(t, got.DailyCap)
	assert.Equal(t, 5, *got.DailyCap)
	assert.Equal(t, []string{"CA", "TX"}, got.Regions)
	require.NotNil(t, got.WaterfallPriority)
	assert.Equal(t, 2, *got.WaterfallPriority)
	require.NotNil(t, got.LastDistributedAt)
	assert.True(t, got.LastDistributedAt.Equal(at))
}

func TestSQLite_ActiveSubscriptions_FiltersInactive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutBuyer(ctx, testBuyer("b-active", 100)))
	inactive := testBuyer("b-inactive", 100)
	inactive.Status = market.BuyerInactive
	require.NoError(t, s.PutBuyer(ctx, inactive))

	require.NoError(t, s.PutSubscription(ctx, market.Subscription{
		ID: "s1", CampaignID: "c1", BuyerID: "b-active", Status: market.SubscriptionActive,
	}))
	require.NoError(t, s.PutSubscription(ctx, market.Subscription{
		ID: "s2", CampaignID: "c1", BuyerID: "b-active", Status: market.SubscriptionPaused,
	}))
	require.NoError(t, s.PutSubscription(ctx, market.Subscription{
		ID: "s3", CampaignID: "c1", BuyerID: "b-inactive", Status: market.SubscriptionActive,
	}))

	subs, err := s.ActiveSubscriptions(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, market.SubscriptionID("s1"), subs[0].ID)
}

func TestSQLite_LeadLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lead := market.Lead{
		ID:         "l1",
		CampaignID: "c1",
		CategoryID: "plumbing",
		SupplierID: "sup-1",
		Fields:     map[string]string{"phone": "555-0100", "zip": "94110"},
		Region:     "CA",
		Tier:       market.TierHot,
		Status:     market.LeadPending,
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateLead(ctx, lead))

	got, err := s.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, lead.Fields, got.Fields)
	assert.Equal(t, market.LeadPending, got.Status)
	assert.Nil(t, got.DistributedAt)

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkDistributed(ctx, "l1", first))
	require.NoError(t, s.MarkDistributed(ctx, "l1", first.Add(time.Hour)), "second call is a no-op")

	got, err = s.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, market.LeadDistributed, got.Status)
	require.NotNil(t, got.DistributedAt)
	assert.True(t, got.DistributedAt.Equal(first))

	assert.True(t, market.IsNotFound(s.MarkDistributed(ctx, "ghost", first)))
}

func TestSQLite_AssignmentUniquenessAndDayCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	day := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	start, _ := market.DayBounds(day)

	a := market.LeadAssignment{
		ID: "a1", LeadID: "l1", BuyerID: "b1", SubscriptionID: "s1",
		Price: market.NewMoney(10), Status: market.AssignmentDelivered,
		AssignedAt: day, DeliveredAt: day,
	}
	require.NoError(t, s.CreateAssignment(ctx, a))

	dup := a
	dup.ID = "a2"
	err := s.CreateAssignment(ctx, dup)
	assert.True(t, errors.Is(err, market.ErrDuplicateAssignment))

	other := a
	other.ID = "a3"
	other.BuyerID = "b2"
	require.NoError(t, s.CreateAssignment(ctx, other))

	yesterday := a
	yesterday.ID = "a4"
	yesterday.LeadID = "l2"
	yesterday.AssignedAt = start.Add(-time.Minute)
	require.NoError(t, s.CreateAssignment(ctx, yesterday))

	has, err := s.HasAssignment(ctx, "l1", "b1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.HasAssignment(ctx, "l1", "b3")
	require.NoError(t, err)
	assert.False(t, has)

	count, err := s.CountAssignmentsForDay(ctx, "s1", day)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "yesterday's assignment is outside the window")

	byLead, err := s.AssignmentsByLead(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, byLead, 2)
}

func TestSQLite_CampaignRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	want := market.Campaign{
		ID:             "c1",
		SellerID:       "seller-1",
		Name:           "roof repair",
		PricePerLead:   market.NewMoney(42.50),
		Strategy:       market.Waterfall,
		AllowGeoFilter: true,
		Status:         market.CampaignActive,
	}
	require.NoError(t, s.PutCampaign(ctx, want))

	got, err := s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.True(t, got.PricePerLead.Equal(want.PricePerLead))
	assert.Equal(t, market.Waterfall, got.Strategy)
	assert.True(t, got.AllowGeoFilter)

	// Upsert changes price in place.
	want.PricePerLead = market.NewMoney(50)
	require.NoError(t, s.PutCampaign(ctx, want))
	got, err = s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.PricePerLead.Equal(market.NewMoney(50)))

	_, err = s.GetCampaign(ctx, "ghost")
	assert.True(t, market.IsNotFound(err))
}
