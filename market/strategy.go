/*
strategy.go - The four allocation policies

PURPOSE:
  Given the eligible subscriptions for a lead, decide who wins. The four
  policies differ in selection rule, tie-break, and fallback:

  ROUND_ROBIN          Oldest lastDistributedAt wins; never-served (nil)
                       sorts older than any timestamp; ties break stably
                       by input order.
  WEIGHTED_ROUND_ROBIN Random draw over [0, totalWeight), weight = buyer
                       priority; zero total weight falls back to the
                       first subscription (documented fallback, not an
                       error).
  WATERFALL            Ranked subscriptions (explicit priority, higher
                       first) outrank unranked ones; unranked order by
                       buyer priority descending. First candidate still
                       eligible at commit time wins.
  BROADCAST            Every eligible subscription receives its own
                       assignment; per-buyer commits are independent.

  Strategy dispatch is a tagged enum switch in engine.go, resolved once
  per campaign. These helpers are pure selection logic so they test
  without stores.
*/
package market

import (
	"sort"
	"time"
)

// pickRoundRobin returns the index of the subscription with the oldest
// lastDistributedAt. nil timestamps (never served) win first. Equal
// timestamps keep input order.
func pickRoundRobin(subs []Subscription) int {
	best := 0
	for i := 1; i < len(subs); i++ {
		if distributedBefore(subs[i].LastDistributedAt, subs[best].LastDistributedAt) {
			best = i
		}
	}
	return best
}

// distributedBefore reports whether a was served strictly earlier than b,
// with nil treated as older than any timestamp.
func distributedBefore(a, b *time.Time) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil:
		return true
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

// pickWeighted returns the index chosen by a weighted random draw, where
// each subscription's weight is its buyer's priority. draw receives the
// total weight and must return a value in [0, total). A non-positive
// total weight, or a draw that falls through the walk, falls back to the
// first subscription.
func pickWeighted(subs []Subscription, weight func(Subscription) int, draw func(total int64) int64) int {
	var total int64
	for _, s := range subs {
		if w := weight(s); w > 0 {
			total += int64(w)
		}
	}
	if total <= 0 {
		return 0
	}

	remaining := draw(total)
	for i, s := range subs {
		w := weight(s)
		if w <= 0 {
			continue
		}
		remaining -= int64(w)
		if remaining < 0 {
			return i
		}
	}
	return 0
}

// sortWaterfall returns a copy of subs in waterfall order: subscriptions
// with an explicit priority first, descending; among the unranked,
// descending buyer priority. The sort is stable so equal candidates keep
// input order.
func sortWaterfall(subs []Subscription, buyerPriority func(Subscription) int) []Subscription {
	ordered := make([]Subscription, len(subs))
	copy(ordered, subs)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.WaterfallPriority != nil && b.WaterfallPriority != nil:
			return *a.WaterfallPriority > *b.WaterfallPriority
		case a.WaterfallPriority != nil:
			return true
		case b.WaterfallPriority != nil:
			return false
		default:
			return buyerPriority(a) > buyerPriority(b)
		}
	})
	return ordered
}
