package market_test

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

type filterFixture struct {
	store   *store.Memory
	gateway *fakeGateway
	filter  *market.Filter
}

func newFilterFixture(t *testing.T) *filterFixture {
	t.Helper()
	mem := store.NewMemory()
	wallet := market.NewWallet(mem, mem)
	gateway := &fakeGateway{}
	recharger := market.NewRecharger(mem, wallet, gateway, testLogger())
	return &filterFixture{
		store:   mem,
		gateway: gateway,
		filter:  market.NewFilter(mem, recharger, testLogger()),
	}
}

func (fx *filterFixture) put(t *testing.T, campaign market.Campaign, buyers []market.Buyer, subs []market.Subscription) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.store.PutCampaign(ctx, campaign))
	for _, b := range buyers {
		require.NoError(t, fx.store.PutBuyer(ctx, b))
	}
	for _, s := range subs {
		require.NoError(t, fx.store.PutSubscription(ctx, s))
	}
}

func geoCampaign(id string, price float64) market.Campaign {
	return market.Campaign{
		ID:             market.CampaignID(id),
		Name:           id,
		PricePerLead:   market.NewMoney(price),
		Strategy:       market.RoundRobin,
		AllowGeoFilter: true,
		Status:         market.CampaignActive,
	}
}

func activeSub(id, campaignID, buyerID string) market.Subscription {
	return market.Subscription{
		ID:         market.SubscriptionID(id),
		CampaignID: market.CampaignID(campaignID),
		BuyerID:    market.BuyerID(buyerID),
		Status:     market.SubscriptionActive,
	}
}

func regionLead(id, campaignID, region string) market.Lead {
	return market.Lead{
		ID:         market.LeadID(id),
		CampaignID: market.CampaignID(campaignID),
		Region:     region,
		Tier:       market.TierWarm,
		Status:     market.LeadPending,
		ReceivedAt: time.Now(),
	}
}

func subIDs(subs []market.Subscription) []market.SubscriptionID {
	out := make([]market.SubscriptionID, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ID)
	}
	return out
}

// =============================================================================
// REGION AND STATUS
// =============================================================================

func TestFilter_RegionMembership(t *testing.T) {
	fx := newFilterFixture(t)
	sub := activeSub("s1", "c1", "b1")
	sub.Regions = []string{"CA", "TX"}
	fx.put(t, geoCampaign("c1", 10),
		[]market.Buyer{activeBuyer("b1", 100)},
		[]market.Subscription{sub})

	cases := []struct {
		name     string
		region   string
		eligible bool
	}{
		{"member region admitted", "TX", true},
		{"non-member excluded", "NY", false},
		{"lead without region bypasses check", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eligible, err := fx.filter.Filter(context.Background(), regionLead("l1", "c1", tc.region), []market.Subscription{sub})
			require.NoError(t, err)
			assert.Equal(t, tc.eligible, len(eligible) == 1)
		})
	}
}

func TestFilter_GeoFilterDisabled_IgnoresRegions(t *testing.T) {
	fx := newFilterFixture(t)
	campaign := geoCampaign("c1", 10)
	campaign.AllowGeoFilter = false
	sub := activeSub("s1", "c1", "b1")
	sub.Regions = []string{"CA"}
	fx.put(t, campaign, []market.Buyer{activeBuyer("b1", 100)}, []market.Subscription{sub})

	eligible, err := fx.filter.Filter(context.Background(), regionLead("l1", "c1", "NY"), []market.Subscription{sub})
	require.NoError(t, err)
	assert.Len(t, eligible, 1, "region list is inert when the campaign disables geo filtering")
}

func TestFilter_InactiveSubscriptionAndBuyerExcluded(t *testing.T) {
	fx := newFilterFixture(t)
	paused := activeSub("s1", "c1", "b1")
	paused.Status = market.SubscriptionPaused
	frozenBuyerSub := activeSub("s2", "c1", "b2")
	frozen := activeBuyer("b2", 100)
	frozen.Status = market.BuyerInactive
	healthy := activeSub("s3", "c1", "b3")

	fx.put(t, geoCampaign("c1", 10),
		[]market.Buyer{activeBuyer("b1", 100), frozen, activeBuyer("b3", 100)},
		[]market.Subscription{paused, frozenBuyerSub, healthy})

	eligible, err := fx.filter.Filter(context.Background(), regionLead("l1", "c1", ""),
		[]market.Subscription{paused, frozenBuyerSub, healthy})
	require.NoError(t, err)
	require.Equal(t, []market.SubscriptionID{"s3"}, subIDs(eligible))
}

func TestFilter_PreservesInputOrder(t *testing.T) {
	fx := newFilterFixture(t)
	subs := []market.Subscription{
		activeSub("s3", "c1", "b3"),
		activeSub("s1", "c1", "b1"),
		activeSub("s2", "c1", "b2"),
	}
	fx.put(t, geoCampaign("c1", 10),
		[]market.Buyer{activeBuyer("b1", 100), activeBuyer("b2", 100), activeBuyer("b3", 100)},
		subs)

	eligible, err := fx.filter.Filter(context.Background(), regionLead("l1", "c1", ""), subs)
	require.NoError(t, err)
	require.Equal(t, []market.SubscriptionID{"s3", "s1", "s2"}, subIDs(eligible))
}

// =============================================================================
// SOLVENCY AND RECHARGE
// =============================================================================

func TestFilter_RechargeDisabled_ExcludesWithoutGatewayCall(t *testing.T) {
	fx := newFilterFixture(t)
	fx.put(t, geoCampaign("c1", 10),
		[]market.Buyer{activeBuyer("b1", 3)},
		[]market.Subscription{activeSub("s1", "c1", "b1")})

	eligible, err := fx.filter.Filter(context.Background(), regionLead("l1", "c1", ""),
		[]market.Subscription{activeSub("s1", "c1", "b1")})
	require.NoError(t, err)
	assert.Empty(t, eligible)
	assert.Equal(t, 0, fx.gateway.chargeCount())
}

func TestFilter_RechargeFailure_ExcludesButDoesNotAbort(t *testing.T) {
	// GIVEN: An underfunded buyer whose gateway charge declines, and a
	//        solvent buyer behind it
	// WHEN:  Filtering
	// THEN:  Only the solvent buyer survives and no error escapes

	fx := newFilterFixture(t)
	fx.gateway.succeed = false
	broke := activeBuyer("b1", 3)
	broke.AutoRecharge = true
	broke.RechargeThreshold = market.NewMoney(10)
	broke.RechargeAmount = market.NewMoney(100)
	broke.PaymentMethodRef = "pm_x"
	broke.PaymentCustomerRef = "cus_x"

	fx.put(t, geoCampaign("c1", 10),
		[]market.Buyer{broke, activeBuyer("b2", 100)},
		[]market.Subscription{activeSub("s1", "c1", "b1"), activeSub("s2", "c1", "b2")})

	eligible, err := fx.filter.Filter(context.Background(), regionLead("l1", "c1", ""),
		[]market.Subscription{activeSub("s1", "c1", "b1"), activeSub("s2", "c1", "b2")})
	require.NoError(t, err)
	require.Equal(t, []market.SubscriptionID{"s2"}, subIDs(eligible))
	assert.Equal(t, 1, fx.gateway.chargeCount())
}

func TestFilter_RechargeOncePerBuyerPerPass(t *testing.T) {
	// GIVEN: One underfunded buyer holding two subscriptions in the pass
	// WHEN:  Filtering once
	// THEN:  The gateway is charged a single time and both subscriptions
	//        become eligible off the same top-up

	fx := newFilterFixture(t)
	fx.gateway.succeed = true
	buyer := activeBuyer("b1", 3)
	buyer.AutoRecharge = true
	buyer.RechargeThreshold = market.NewMoney(10)
	buyer.RechargeAmount = market.NewMoney(100)
	buyer.PaymentMethodRef = "pm_x"
	buyer.PaymentCustomerRef = "cus_x"

	subA := activeSub("s1", "c1", "b1")
	subB := activeSub("s2", "c1", "b1")
	fx.put(t, geoCampaign("c1", 10), []market.Buyer{buyer}, []market.Subscription{subA, subB})

	eligible, err := fx.filter.Filter(context.Background(), regionLead("l1", "c1", ""),
		[]market.Subscription{subA, subB})
	require.NoError(t, err)
	assert.Equal(t, []market.SubscriptionID{"s1", "s2"}, subIDs(eligible))
	assert.Equal(t, 1, fx.gateway.chargeCount())
}

func TestFilter_RechargeTooSmall_StillExcluded(t *testing.T) {
	// A recharge that lands below the campaign price does not admit.
	fx := newFilterFixture(t)
	fx.gateway.succeed = true
	buyer := activeBuyer("b1", 1)
	buyer.AutoRecharge = true
	buyer.RechargeThreshold = market.NewMoney(10)
	buyer.RechargeAmount = market.NewMoney(2)
	buyer.PaymentMethodRef = "pm_x"
	buyer.PaymentCustomerRef = "cus_x"

	fx.put(t, geoCampaign("c1", 50), []market.Buyer{buyer},
		[]market.Subscription{activeSub("s1", "c1", "b1")})

	eligible, err := fx.filter.Filter(context.Background(), regionLead("l1", "c1", ""),
		[]market.Subscription{activeSub("s1", "c1", "b1")})
	require.NoError(t, err)
	assert.Empty(t, eligible)

	// The charge still happened and is on the ledger.
	got, err := fx.store.GetBuyer(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(market.NewMoney(3)))
}

func TestFilter_MissingCampaignReference_Aborts(t *testing.T) {
	fx := newFilterFixture(t)
	require.NoError(t, fx.store.PutBuyer(context.Background(), activeBuyer("b1", 100)))
	sub := activeSub("s1", "ghost", "b1")

	_, err := fx.filter.Filter(context.Background(), regionLead("l1", "ghost", ""), []market.Subscription{sub})
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrCampaignNotFound))
}
