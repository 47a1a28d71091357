/*
eligibility.go - Which subscriptions may receive a lead right now

PURPOSE:
  Given a lead and the candidate subscriptions for its campaign, narrow
  to the subset that may legally receive this lead at evaluation time.
  Input order is preserved; strategies re-sort as they need.

ADMISSION CONDITIONS (all must hold):
  1. Subscription ACTIVE and buyer account ACTIVE (the store query
     pre-filters this; re-checked here as a formal precondition).
  2. Region: if the subscription declares regions and the lead carries a
     region code, the lead's region must be a member. An empty region set
     admits every region; a lead with no region bypasses the check.
  3. Daily cap: today's assignment count for the subscription must be
     strictly below the cap.
  4. Solvency: wallet balance >= campaign price. If short, auto-recharge
     is attempted synchronously, the balance is RE-READ, and the check
     repeats. A subscription is never admitted on stale balance data.

SIDE EFFECTS:
  Auto-recharge fires at most once per buyer per filter pass, evaluated
  sequentially across subscriptions so a buyer with several subscriptions
  in the same pass isn't charged twice. Cross-pass duplication is handled
  by the recharger's per-buyer singleflight.

FAILURES:
  A missing campaign for a subscription's campaign reference violates
  referential integrity and aborts the whole distribution attempt.
  Recharge failure or missing auto-recharge config merely excludes the
  subscription.
*/
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Filter struct {
	Campaigns   CampaignStore
	Buyers      BuyerStore
	Assignments AssignmentStore
	Recharger   *Recharger
	Log         zerolog.Logger

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time
}

func NewFilter(store Store, recharger *Recharger, log zerolog.Logger) *Filter {
	return &Filter{
		Campaigns:   store,
		Buyers:      store,
		Assignments: store,
		Recharger:   recharger,
		Log:         log,
		Clock:       time.Now,
	}
}

func (f *Filter) now() time.Time {
	if f.Clock != nil {
		return f.Clock()
	}
	return time.Now()
}

// Filter returns the subscriptions currently permitted to receive lead,
// preserving input order.
func (f *Filter) Filter(ctx context.Context, lead Lead, subs []Subscription) ([]Subscription, error) {
	campaigns := make(map[CampaignID]Campaign)
	rechargeTried := make(map[BuyerID]bool)

	var eligible []Subscription
	for _, sub := range subs {
		campaign, ok := campaigns[sub.CampaignID]
		if !ok {
			var err error
			campaign, err = f.Campaigns.GetCampaign(ctx, sub.CampaignID)
			if err != nil {
				return nil, fmt.Errorf("subscription %s references campaign %s: %w",
					sub.ID, sub.CampaignID, err)
			}
			campaigns[sub.CampaignID] = campaign
		}

		ok, err := f.admit(ctx, lead, sub, campaign, rechargeTried)
		if err != nil {
			return nil, err
		}
		if ok {
			eligible = append(eligible, sub)
		}
	}
	return eligible, nil
}

func (f *Filter) admit(ctx context.Context, lead Lead, sub Subscription, campaign Campaign, rechargeTried map[BuyerID]bool) (bool, error) {
	if sub.Status != SubscriptionActive {
		return false, nil
	}

	if campaign.AllowGeoFilter && !sub.AcceptsRegion(lead.Region) {
		f.Log.Debug().Str("lead", string(lead.ID)).Str("subscription", string(sub.ID)).
			Str("region", lead.Region).Msg("excluded: region mismatch")
		return false, nil
	}

	if sub.DailyCap != nil {
		count, err := f.Assignments.CountAssignmentsForDay(ctx, sub.ID, f.now())
		if err != nil {
			return false, err
		}
		if count >= *sub.DailyCap {
			f.Log.Debug().Str("lead", string(lead.ID)).Str("subscription", string(sub.ID)).
				Int("cap", *sub.DailyCap).Msg("excluded: daily cap reached")
			return false, nil
		}
	}

	buyer, err := f.Buyers.GetBuyer(ctx, sub.BuyerID)
	if err != nil {
		return false, err
	}
	if buyer.Status != BuyerActive {
		return false, nil
	}

	price := campaign.PricePerLead
	if buyer.Balance.GreaterOrEqual(price) {
		return true, nil
	}

	// Short on funds: try one recharge per buyer per pass, then re-read
	// the balance before admitting. Never admit on stale balance data.
	if rechargeTried[buyer.ID] {
		return false, nil
	}
	rechargeTried[buyer.ID] = true

	if _, err := f.Recharger.Recharge(ctx, buyer.ID); err != nil {
		if IsCandidateError(err) {
			f.Log.Debug().Err(err).Str("lead", string(lead.ID)).Str("buyer", string(buyer.ID)).
				Msg("excluded: recharge unavailable")
			return false, nil
		}
		return false, err
	}

	buyer, err = f.Buyers.GetBuyer(ctx, sub.BuyerID)
	if err != nil {
		return false, err
	}
	if buyer.Balance.GreaterOrEqual(price) {
		return true, nil
	}
	f.Log.Debug().Str("lead", string(lead.ID)).Str("buyer", string(buyer.ID)).
		Msg("excluded: insufficient funds after recharge")
	return false, nil
}
