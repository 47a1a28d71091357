/*
Package market provides the lead distribution engine.

PURPOSE:
  This package contains the domain types and algorithms for selling inbound
  leads to subscribed buyers: eligibility filtering, allocation strategies,
  wallet debits with an immutable transaction ledger, and fire-and-forget
  delivery notification.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary quantity backed by decimal.Decimal
  - Lead/Campaign/Subscription/Buyer: The marketplace entities
  - Transaction: An immutable ledger entry recording a balance change
  - LeadAssignment: The artifact of a successful allocation

DESIGN PRINCIPLES:
  1. Immutability: Transactions and assignments are never modified
  2. Precision: Uses decimal.Decimal to avoid floating-point errors on money
  3. Type Safety: Strong typing for IDs prevents mixing lead/buyer/campaign IDs
  4. Auditability: Every balance change records before and after snapshots

SEE ALSO:
  - ledger.go: Wallet debit/credit over the transaction ledger
  - eligibility.go: Which subscriptions may receive a lead
  - strategy.go: The four allocation strategies
  - engine.go: The orchestrator invoked per ingested lead
*/
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary quantity (wallet balances, prices)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int) Money {
	return Money{Value: decimal.NewFromInt(int64(value))}
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money          { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money          { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool         { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool   { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool      { return m.Value.LessThan(b.Value) }
func (m Money) GreaterOrEqual(b Money) bool { return !m.Value.LessThan(b.Value) }
func (m Money) String() string             { return m.Value.StringFixed(2) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LeadID string
type CampaignID string
type BuyerID string
type SubscriptionID string
type TransactionID string
type AssignmentID string

// =============================================================================
// LEAD - Inbound opportunity record
// =============================================================================

type LeadStatus string

const (
	LeadPending     LeadStatus = "pending"
	LeadDistributed LeadStatus = "distributed"
)

type LeadTier string

const (
	TierHot  LeadTier = "hot"
	TierWarm LeadTier = "warm"
	TierCold LeadTier = "cold"
)

// Lead is created once by ingestion. The engine mutates only Status and
// DistributedAt; leads are never deleted.
type Lead struct {
	ID         LeadID
	CampaignID CampaignID
	CategoryID string
	SupplierID string

	// Opaque payload; schema is defined by the category.
	Fields map[string]string

	// Region is an optional geographic code. Empty means no region known,
	// which bypasses subscription region filtering entirely.
	Region string

	Tier   LeadTier
	Status LeadStatus

	ReceivedAt    time.Time
	DistributedAt *time.Time // set on first successful assignment
}

// =============================================================================
// CAMPAIGN - Seller-defined lead product
// =============================================================================

type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "active"
	CampaignArchived CampaignStatus = "archived"
)

type Campaign struct {
	ID           CampaignID
	SellerID     string
	Name         string
	PricePerLead Money
	Strategy     Strategy

	// AllowGeoFilter permits buyer-side region restriction on subscriptions.
	AllowGeoFilter bool

	Status CampaignStatus
}

// =============================================================================
// SUBSCRIPTION - A buyer's opt-in to a campaign
// =============================================================================

type SubscriptionStatus string

const (
	SubscriptionActive SubscriptionStatus = "active"
	SubscriptionPaused SubscriptionStatus = "paused"
)

// Subscription is unique per (campaign, buyer). The engine mutates only
// LastDistributedAt; everything else belongs to subscription management.
type Subscription struct {
	ID         SubscriptionID
	CampaignID CampaignID
	BuyerID    BuyerID

	// DailyCap limits assignments per server-local calendar day.
	// nil = unlimited.
	DailyCap *int

	// Regions is the set of region codes this buyer accepts.
	// Empty = all regions.
	Regions []string

	// WaterfallPriority ranks this subscription for WATERFALL allocation.
	// Higher wins. nil = unranked; ranked subscriptions outrank unranked ones.
	WaterfallPriority *int

	Status SubscriptionStatus

	// LastDistributedAt orders round-robin fairness. nil = never served,
	// which sorts older than any timestamp.
	LastDistributedAt *time.Time
}

// AcceptsRegion reports whether the subscription admits a lead with the
// given region code. An empty region set admits every region; a lead with
// no region bypasses the check.
func (s Subscription) AcceptsRegion(region string) bool {
	if region == "" || len(s.Regions) == 0 {
		return true
	}
	for _, r := range s.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// =============================================================================
// BUYER - Wallet and distribution attributes
// =============================================================================

type BuyerStatus string

const (
	BuyerActive   BuyerStatus = "active"
	BuyerInactive BuyerStatus = "inactive"
)

type Buyer struct {
	ID   BuyerID
	Name string

	// Balance is the single source of truth for spend authorization.
	// The engine checks solvency before committing any debit.
	Balance Money

	// Priority is the weight used by WEIGHTED_ROUND_ROBIN and the secondary
	// ordering for unranked WATERFALL candidates.
	Priority int

	// Auto-recharge configuration. When Balance falls below a campaign's
	// price, the eligibility filter may top the wallet up via the payment
	// gateway before excluding the buyer.
	AutoRecharge       bool
	RechargeThreshold  Money
	RechargeAmount     Money
	PaymentMethodRef   string
	PaymentCustomerRef string

	Status BuyerStatus
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxDebit        TransactionType = "debit"
	TxCredit       TransactionType = "credit"
	TxAutoRecharge TransactionType = "auto_recharge"
)

// Transaction records a single wallet mutation. Append-only; never updated
// or deleted. For any buyer, BalanceAfter of entry N equals BalanceBefore
// of entry N+1 (mutations are serialized per buyer).
type Transaction struct {
	ID      TransactionID
	BuyerID BuyerID

	// Amount is signed: negative for debits, positive for credits.
	Amount        Money
	BalanceBefore Money
	BalanceAfter  Money

	Type TransactionType

	// AssignmentID links a debit to the lead assignment that caused it.
	AssignmentID AssignmentID

	// GatewayRef holds the payment gateway charge id for auto-recharges.
	GatewayRef string

	Reason    string
	CreatedAt time.Time
}

// =============================================================================
// LEAD ASSIGNMENT - Artifact of a successful allocation
// =============================================================================

type AssignmentStatus string

const (
	AssignmentDelivered AssignmentStatus = "delivered"
)

// LeadAssignment is created exactly once per (lead, buyer) pair. Price is
// captured at assignment time and stays immutable even if the campaign
// price later changes.
type LeadAssignment struct {
	ID             AssignmentID
	LeadID         LeadID
	BuyerID        BuyerID
	SubscriptionID SubscriptionID

	Price  Money
	Status AssignmentStatus

	AssignedAt  time.Time
	DeliveredAt time.Time
}

// =============================================================================
// STRATEGY - Allocation policy tag
// =============================================================================

type Strategy string

const (
	RoundRobin         Strategy = "round_robin"
	WeightedRoundRobin Strategy = "weighted_round_robin"
	Waterfall          Strategy = "waterfall"
	Broadcast          Strategy = "broadcast"
)

// ParseStrategy validates a strategy name. Unknown names return
// ErrUnknownStrategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case RoundRobin, WeightedRoundRobin, Waterfall, Broadcast:
		return Strategy(s), nil
	default:
		return "", ErrUnknownStrategy
	}
}
