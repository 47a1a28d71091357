/*
dto.go - Request/response shapes for the HTTP layer

PURPOSE:
  JSON contracts between the ingestion endpoint, the wallet views, and
  their clients. Kept separate from domain types so the wire format can
  evolve without touching the engine.
*/
package api

import (
	"time"

	"github.com/warp/lead-engine/market"
)

// =============================================================================
// REQUESTS
// =============================================================================

// IngestLeadRequest is the payload posted by suppliers (or the seller's
// upstream forms) to hand a lead to the marketplace.
type IngestLeadRequest struct {
	CampaignID string            `json:"campaign_id"`
	CategoryID string            `json:"category_id,omitempty"`
	SupplierID string            `json:"supplier_id,omitempty"`
	Region     string            `json:"region,omitempty"`
	Tier       string            `json:"tier,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// CreditRequest tops up a buyer's wallet manually (ops path).
type CreditRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// IngestLeadResponse reports lead receipt. Distribution failure shows up
// as a warning; the lead itself is always accepted once persisted.
type IngestLeadResponse struct {
	LeadID         string   `json:"lead_id"`
	Status         string   `json:"status"`
	AssignedBuyers []string `json:"assigned_buyers"`
	Warning        string   `json:"warning,omitempty"`
}

type LeadResponse struct {
	LeadID        string           `json:"lead_id"`
	CampaignID    string           `json:"campaign_id"`
	Region        string           `json:"region,omitempty"`
	Tier          string           `json:"tier"`
	Status        string           `json:"status"`
	ReceivedAt    time.Time        `json:"received_at"`
	DistributedAt *time.Time       `json:"distributed_at,omitempty"`
	Assignments   []AssignmentView `json:"assignments"`
}

type AssignmentView struct {
	AssignmentID string    `json:"assignment_id"`
	BuyerID      string    `json:"buyer_id"`
	Price        string    `json:"price"`
	Status       string    `json:"status"`
	AssignedAt   time.Time `json:"assigned_at"`
}

type BalanceResponse struct {
	BuyerID string `json:"buyer_id"`
	Balance string `json:"balance"`
}

// TransactionView exposes ledger entries with their before/after
// snapshots so the balance chain is externally auditable.
type TransactionView struct {
	TransactionID string    `json:"transaction_id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	BalanceBefore string    `json:"balance_before"`
	BalanceAfter  string    `json:"balance_after"`
	AssignmentID  string    `json:"assignment_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toAssignmentView(a market.LeadAssignment) AssignmentView {
	return AssignmentView{
		AssignmentID: string(a.ID),
		BuyerID:      string(a.BuyerID),
		Price:        a.Price.String(),
		Status:       string(a.Status),
		AssignedAt:   a.AssignedAt,
	}
}

func toTransactionView(tx market.Transaction) TransactionView {
	return TransactionView{
		TransactionID: string(tx.ID),
		Type:          string(tx.Type),
		Amount:        tx.Amount.String(),
		BalanceBefore: tx.BalanceBefore.String(),
		BalanceAfter:  tx.BalanceAfter.String(),
		AssignmentID:  string(tx.AssignmentID),
		Reason:        tx.Reason,
		CreatedAt:     tx.CreatedAt,
	}
}

func parseTier(s string) market.LeadTier {
	switch market.LeadTier(s) {
	case market.TierHot, market.TierWarm, market.TierCold:
		return market.LeadTier(s)
	default:
		return market.TierWarm
	}
}
