/*
seed.go - Demo data for local runs

PURPOSE:
  Seeds a small marketplace behind the server's -seed flag: one campaign
  per strategy, a handful of funded buyers, and subscriptions exercising
  caps, regions, and auto-recharge. Strictly a dev convenience.
*/
package api

import (
	"context"

	"github.com/warp/lead-engine/market"
)

// SeedDemo inserts demo buyers, campaigns, and subscriptions. Existing
// rows with the same IDs are overwritten.
func SeedDemo(ctx context.Context, store market.Store) error {
	buyers := []market.Buyer{
		{ID: "buyer-acme", Name: "Acme Roofing", Balance: market.NewMoney(500), Priority: 3, Status: market.BuyerActive},
		{ID: "buyer-beta", Name: "Beta Solar", Balance: market.NewMoney(120), Priority: 1, Status: market.BuyerActive},
		{
			ID: "buyer-gamma", Name: "Gamma Movers", Balance: market.NewMoney(5), Priority: 2,
			AutoRecharge: true, RechargeThreshold: market.NewMoney(10), RechargeAmount: market.NewMoney(100),
			PaymentMethodRef: "pm_demo", PaymentCustomerRef: "cus_demo", Status: market.BuyerActive,
		},
	}
	for _, b := range buyers {
		if err := store.PutBuyer(ctx, b); err != nil {
			return err
		}
	}

	campaigns := []market.Campaign{
		{ID: "camp-roofing", SellerID: "seller-1", Name: "Roofing Leads", PricePerLead: market.NewMoney(10), Strategy: market.RoundRobin, AllowGeoFilter: true, Status: market.CampaignActive},
		{ID: "camp-solar", SellerID: "seller-1", Name: "Solar Leads", PricePerLead: market.NewMoney(25), Strategy: market.Waterfall, AllowGeoFilter: true, Status: market.CampaignActive},
		{ID: "camp-moving", SellerID: "seller-2", Name: "Moving Leads", PricePerLead: market.NewMoney(5), Strategy: market.Broadcast, Status: market.CampaignActive},
	}
	for _, c := range campaigns {
		if err := store.PutCampaign(ctx, c); err != nil {
			return err
		}
	}

	cap20 := 20
	prio5 := 5
	subs := []market.Subscription{
		{ID: "sub-roof-acme", CampaignID: "camp-roofing", BuyerID: "buyer-acme", Regions: []string{"NY", "NJ"}, Status: market.SubscriptionActive},
		{ID: "sub-roof-beta", CampaignID: "camp-roofing", BuyerID: "buyer-beta", DailyCap: &cap20, Status: market.SubscriptionActive},
		{ID: "sub-solar-acme", CampaignID: "camp-solar", BuyerID: "buyer-acme", WaterfallPriority: &prio5, Status: market.SubscriptionActive},
		{ID: "sub-solar-gamma", CampaignID: "camp-solar", BuyerID: "buyer-gamma", Status: market.SubscriptionActive},
		{ID: "sub-move-acme", CampaignID: "camp-moving", BuyerID: "buyer-acme", Status: market.SubscriptionActive},
		{ID: "sub-move-beta", CampaignID: "camp-moving", BuyerID: "buyer-beta", Status: market.SubscriptionActive},
		{ID: "sub-move-gamma", CampaignID: "camp-moving", BuyerID: "buyer-gamma", Status: market.SubscriptionActive},
	}
	for _, s := range subs {
		if err := store.PutSubscription(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
