/*
store.go - Persistence interfaces for the distribution engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  assumes a transactional store exposing conditional writes on buyer
  balance, append-only writes on transactions and assignments, and point
  reads/updates on leads and subscriptions.

CONCURRENCY DISCIPLINE:
  Balance mutations use compare-and-swap: CompareAndSwapBalance only
  applies the write if the stored balance still matches the value the
  caller read. On mismatch it returns ErrConcurrentModification and the
  wallet retries with a fresh read. This serializes per-buyer mutations
  without a process-wide lock.

APPEND-ONLY CONTRACT:
  transactions and lead_assignments have no update or delete operations.
  AppendTransaction and CreateAssignment are the only writes.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - market/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Wallet built on BuyerStore + LedgerStore
  - engine.go: Orchestrator consuming the combined Store
*/
package market

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE - Append-only transaction log
// =============================================================================

type LedgerStore interface {
	// AppendTransaction persists a ledger entry. This is the only write.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// TransactionsByBuyer returns all entries for a buyer in creation order.
	TransactionsByBuyer(ctx context.Context, buyerID BuyerID) ([]Transaction, error)
}

// =============================================================================
// BUYER STORE - Wallet reads and conditional balance writes
// =============================================================================

type BuyerStore interface {
	GetBuyer(ctx context.Context, id BuyerID) (Buyer, error)

	// CompareAndSwapBalance sets the buyer's balance to next only if the
	// stored balance still equals prev. Returns ErrConcurrentModification
	// on mismatch.
	CompareAndSwapBalance(ctx context.Context, id BuyerID, prev, next Money) error

	PutBuyer(ctx context.Context, b Buyer) error
}

// =============================================================================
// CAMPAIGN / SUBSCRIPTION STORES
// =============================================================================

type CampaignStore interface {
	GetCampaign(ctx context.Context, id CampaignID) (Campaign, error)
	PutCampaign(ctx context.Context, c Campaign) error
}

type SubscriptionStore interface {
	// ActiveSubscriptions returns ACTIVE subscriptions for a campaign whose
	// buyer's account is also ACTIVE, in stable creation order.
	ActiveSubscriptions(ctx context.Context, campaignID CampaignID) ([]Subscription, error)

	// TouchLastDistributed records that a subscription just received a lead.
	// Used by round-robin fairness ordering.
	TouchLastDistributed(ctx context.Context, id SubscriptionID, at time.Time) error

	PutSubscription(ctx context.Context, s Subscription) error
}

// =============================================================================
// LEAD STORE
// =============================================================================

type LeadStore interface {
	GetLead(ctx context.Context, id LeadID) (Lead, error)
	CreateLead(ctx context.Context, l Lead) error

	// MarkDistributed advances the lead to DISTRIBUTED. Idempotent and
	// monotonic: a lead already distributed keeps its first distributedAt
	// and never reverts to PENDING.
	MarkDistributed(ctx context.Context, id LeadID, at time.Time) error
}

// =============================================================================
// ASSIGNMENT STORE - Append-only allocation records
// =============================================================================

type AssignmentStore interface {
	// CreateAssignment persists an assignment. Unique per (lead, buyer);
	// a duplicate returns ErrDuplicateAssignment.
	CreateAssignment(ctx context.Context, a LeadAssignment) error

	// HasAssignment reports whether a (lead, buyer) assignment exists.
	HasAssignment(ctx context.Context, leadID LeadID, buyerID BuyerID) (bool, error)

	// CountAssignmentsForDay counts a subscription's assignments within the
	// calendar day containing `day` (server-local midnight to midnight).
	CountAssignmentsForDay(ctx context.Context, id SubscriptionID, day time.Time) (int, error)

	AssignmentsByLead(ctx context.Context, leadID LeadID) ([]LeadAssignment, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is the full persistence surface the engine and HTTP layer consume.
type Store interface {
	LedgerStore
	BuyerStore
	CampaignStore
	SubscriptionStore
	LeadStore
	AssignmentStore
}

// DayBounds returns the server-local [start, end) of the calendar day
// containing t. Store implementations share this so cap counting agrees
// across backends.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
