/*
engine.go - Distribution orchestrator

PURPOSE:
  The entry point invoked per ingested lead. Loads the candidate
  subscriptions, runs the eligibility filter, dispatches to the campaign's
  allocation strategy, commits assignments (ledger debit + lead state
  update), and hands delivery notification to the background dispatcher.

PROPAGATION POLICY:
  Errors local to one candidate (insufficient funds, recharge failure,
  conflict after retries, duplicate assignment) never abort processing of
  other candidates in BROADCAST or WATERFALL fallthrough; single-winner
  strategies return an empty result instead. Errors about the lead or
  campaign itself (not found) abort the whole call. The ingestion caller
  always receives a result slice for per-buyer-level issues.

ASSIGNMENT COMMIT (per candidate):
  1. Re-fetch the campaign for the current price (captured at assignment
     time, immutable afterwards).
  2. Reject if a (lead, buyer) assignment already exists.
  3. Debit the wallet. The solvency check and balance write share one
     authoritative read inside the wallet's CAS loop; no pre-suspension
     balance is ever reused after a suspension point.
  4. Record the assignment (status DELIVERED).
  5. Advance the lead to DISTRIBUTED (idempotent; re-applied harmlessly
     for broadcast's later winners).
  6. Enqueue fire-and-forget notification.

SEE ALSO:
  - eligibility.go, strategy.go, ledger.go, notify.go
*/
package market

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/lead-engine/metrics"
)

type Engine struct {
	Store  Store
	Wallet *Wallet
	Filter *Filter
	Notify *Dispatcher
	Log    zerolog.Logger

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	// Draw picks the weighted-round-robin draw in [0, total).
	// Defaults to rand.Int63n; injectable for deterministic tests.
	Draw func(total int64) int64
}

func NewEngine(store Store, wallet *Wallet, filter *Filter, notify *Dispatcher, log zerolog.Logger) *Engine {
	return &Engine{
		Store:  store,
		Wallet: wallet,
		Filter: filter,
		Notify: notify,
		Log:    log,
		Clock:  time.Now,
		Draw:   rand.Int63n,
	}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// Distribute assigns a newly ingested lead to the subscribed buyer(s)
// selected by the given strategy and returns the buyer IDs that received
// an assignment. An empty result with a nil error means no eligible
// buyer; the lead stays PENDING for a potential external re-invocation.
func (e *Engine) Distribute(ctx context.Context, leadID LeadID, campaignID CampaignID, strategy Strategy) ([]BuyerID, error) {
	winners, err := e.distribute(ctx, leadID, campaignID, strategy)
	switch {
	case err != nil:
		metrics.Distributions.WithLabelValues(string(strategy), "error").Inc()
	case len(winners) == 0:
		metrics.Distributions.WithLabelValues(string(strategy), "empty").Inc()
	default:
		metrics.Distributions.WithLabelValues(string(strategy), "assigned").Inc()
	}
	return winners, err
}

func (e *Engine) distribute(ctx context.Context, leadID LeadID, campaignID CampaignID, strategy Strategy) ([]BuyerID, error) {
	subs, err := e.Store.ActiveSubscriptions(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return []BuyerID{}, nil
	}

	lead, err := e.Store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	// A single-winner lead is sold at most once. Only broadcast may add
	// buyers to a lead that already went out (and its per-pair uniqueness
	// keeps repeat calls from double-charging anyone).
	if strategy != Broadcast && lead.Status == LeadDistributed {
		e.Log.Debug().Str("lead", string(leadID)).Msg("already distributed")
		return []BuyerID{}, nil
	}

	eligible, err := e.Filter.Filter(ctx, lead, subs)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		e.Log.Debug().Str("lead", string(leadID)).Str("campaign", string(campaignID)).
			Msg("no eligible subscription")
		return []BuyerID{}, nil
	}

	switch strategy {
	case RoundRobin:
		return e.assignSingle(ctx, lead, eligible[pickRoundRobin(eligible)], true)
	case WeightedRoundRobin:
		priorities, err := e.buyerPriorities(ctx, eligible)
		if err != nil {
			return nil, err
		}
		idx := pickWeighted(eligible, func(s Subscription) int { return priorities[s.BuyerID] }, e.draw)
		return e.assignSingle(ctx, lead, eligible[idx], true)
	case Waterfall:
		return e.assignWaterfall(ctx, lead, eligible)
	case Broadcast:
		return e.assignBroadcast(ctx, lead, eligible)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

func (e *Engine) draw(total int64) int64 {
	if e.Draw != nil {
		return e.Draw(total)
	}
	return rand.Int63n(total)
}

func (e *Engine) buyerPriorities(ctx context.Context, subs []Subscription) (map[BuyerID]int, error) {
	priorities := make(map[BuyerID]int, len(subs))
	for _, s := range subs {
		if _, ok := priorities[s.BuyerID]; ok {
			continue
		}
		buyer, err := e.Store.GetBuyer(ctx, s.BuyerID)
		if err != nil {
			return nil, err
		}
		priorities[s.BuyerID] = buyer.Priority
	}
	return priorities, nil
}

// assignSingle commits one winner. touch updates the winner's
// lastDistributedAt for round-robin fairness ordering.
func (e *Engine) assignSingle(ctx context.Context, lead Lead, winner Subscription, touch bool) ([]BuyerID, error) {
	if _, err := e.assign(ctx, lead, winner); err != nil {
		if IsCandidateError(err) {
			e.Log.Warn().Err(err).Str("lead", string(lead.ID)).Str("buyer", string(winner.BuyerID)).
				Msg("winner could not be assigned")
			return []BuyerID{}, nil
		}
		return nil, err
	}
	if touch {
		// The debit and assignment are already durable. A failed fairness
		// touch must not hide the winner from the caller.
		if err := e.Store.TouchLastDistributed(ctx, winner.ID, e.now()); err != nil {
			e.Log.Error().Err(err).Str("lead", string(lead.ID)).
				Str("subscription", string(winner.ID)).Msg("failed to record distribution time")
		}
	}
	return []BuyerID{winner.BuyerID}, nil
}

// assignWaterfall walks candidates in priority order, re-validating
// eligibility per candidate, and commits the first that is still
// eligible.
func (e *Engine) assignWaterfall(ctx context.Context, lead Lead, eligible []Subscription) ([]BuyerID, error) {
	priorities, err := e.buyerPriorities(ctx, eligible)
	if err != nil {
		return nil, err
	}
	ordered := sortWaterfall(eligible, func(s Subscription) int { return priorities[s.BuyerID] })

	for _, candidate := range ordered {
		// Eligibility may have shifted since the initial pass (funds spent
		// on a concurrent lead, cap reached); first eligible wins.
		still, err := e.Filter.Filter(ctx, lead, []Subscription{candidate})
		if err != nil {
			return nil, err
		}
		if len(still) == 0 {
			continue
		}

		if _, err := e.assign(ctx, lead, candidate); err != nil {
			if IsCandidateError(err) {
				e.Log.Debug().Err(err).Str("lead", string(lead.ID)).
					Str("buyer", string(candidate.BuyerID)).Msg("waterfall candidate skipped")
				continue
			}
			return nil, err
		}
		return []BuyerID{candidate.BuyerID}, nil
	}
	return []BuyerID{}, nil
}

// assignBroadcast commits one assignment per eligible subscription.
// Each buyer's commit is independent; partial success is fine.
func (e *Engine) assignBroadcast(ctx context.Context, lead Lead, eligible []Subscription) ([]BuyerID, error) {
	winners := []BuyerID{}
	for _, candidate := range eligible {
		if _, err := e.assign(ctx, lead, candidate); err != nil {
			if IsCandidateError(err) {
				e.Log.Debug().Err(err).Str("lead", string(lead.ID)).
					Str("buyer", string(candidate.BuyerID)).Msg("broadcast candidate skipped")
				continue
			}
			return winners, err
		}
		winners = append(winners, candidate.BuyerID)
	}
	return winners, nil
}

// assign commits a single (lead, subscription) allocation: debit, record,
// advance lead state, notify.
func (e *Engine) assign(ctx context.Context, lead Lead, sub Subscription) (LeadAssignment, error) {
	campaign, err := e.Store.GetCampaign(ctx, sub.CampaignID)
	if err != nil {
		return LeadAssignment{}, err
	}

	exists, err := e.Store.HasAssignment(ctx, lead.ID, sub.BuyerID)
	if err != nil {
		return LeadAssignment{}, err
	}
	if exists {
		return LeadAssignment{}, ErrDuplicateAssignment
	}

	now := e.now()
	assignment := LeadAssignment{
		ID:             AssignmentID(uuid.NewString()),
		LeadID:         lead.ID,
		BuyerID:        sub.BuyerID,
		SubscriptionID: sub.ID,
		Price:          campaign.PricePerLead,
		Status:         AssignmentDelivered,
		AssignedAt:     now,
		DeliveredAt:    now,
	}

	tx, err := e.Wallet.Debit(ctx, sub.BuyerID, campaign.PricePerLead, assignment.ID,
		fmt.Sprintf("lead %s", lead.ID))
	if err != nil {
		return LeadAssignment{}, err
	}

	if err := e.Store.CreateAssignment(ctx, assignment); err != nil {
		// The debit landed but the assignment didn't. Refund so the ledger
		// stays consistent with the assignments table, then surface.
		if _, crErr := e.Wallet.Credit(ctx, sub.BuyerID, campaign.PricePerLead, TxCredit, "",
			fmt.Sprintf("refund: assignment for lead %s failed", lead.ID)); crErr != nil {
			e.Log.Error().Err(crErr).Str("buyer", string(sub.BuyerID)).
				Str("debit", string(tx.ID)).Msg("refund after failed assignment also failed")
		}
		return LeadAssignment{}, err
	}

	if err := e.Store.MarkDistributed(ctx, lead.ID, now); err != nil {
		return LeadAssignment{}, err
	}

	metrics.Assignments.Inc()
	price, _ := campaign.PricePerLead.Value.Float64()
	metrics.AmountDebited.Add(price)

	e.Log.Info().Str("lead", string(lead.ID)).Str("buyer", string(sub.BuyerID)).
		Str("price", assignment.Price.String()).Msg("lead assigned")

	if e.Notify != nil {
		e.Notify.Enqueue(NotificationJob{Assignment: assignment, Lead: lead})
	}
	return assignment, nil
}
