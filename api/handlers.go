/*
handlers.go - HTTP handlers for ingestion and wallet views

PURPOSE:
  The thin HTTP surface in front of the distribution engine:

  POST /api/leads                    persist a lead, distribute, report
  POST /api/leads/{id}/distribute    re-invoke distribution for a PENDING lead
  GET  /api/leads/{id}               lead state + assignments
  GET  /api/buyers/{id}/balance      current wallet balance
  GET  /api/buyers/{id}/transactions ledger history with snapshots
  POST /api/buyers/{id}/credits      manual wallet top-up

INGESTION CONTRACT:
  Once the lead row is persisted, the supplier gets "lead received" no
  matter what distribution does. A distribution error is demoted to a
  warning in the 202 response; the lead stays PENDING for re-invocation.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/lead-engine/market"
)

type Handler struct {
	Store  market.Store
	Engine *market.Engine
	Wallet *market.Wallet
	Log    zerolog.Logger
}

func NewHandler(store market.Store, engine *market.Engine, wallet *market.Wallet, log zerolog.Logger) *Handler {
	return &Handler{Store: store, Engine: engine, Wallet: wallet, Log: log}
}

// =============================================================================
// LEADS
// =============================================================================

// IngestLead persists the lead and runs distribution synchronously. The
// response never fails on distribution problems, only on a bad request
// or a persistence failure of the lead itself.
func (h *Handler) IngestLead(w http.ResponseWriter, r *http.Request) {
	var req IngestLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "campaign_id is required")
		return
	}

	ctx := r.Context()
	campaign, err := h.Store.GetCampaign(ctx, market.CampaignID(req.CampaignID))
	if err != nil {
		if market.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if campaign.Status != market.CampaignActive {
		writeError(w, http.StatusConflict, "campaign is not active")
		return
	}

	lead := market.Lead{
		ID:         market.LeadID(uuid.NewString()),
		CampaignID: campaign.ID,
		CategoryID: req.CategoryID,
		SupplierID: req.SupplierID,
		Fields:     req.Fields,
		Region:     req.Region,
		Tier:       parseTier(req.Tier),
		Status:     market.LeadPending,
		ReceivedAt: time.Now(),
	}
	if err := h.Store.CreateLead(ctx, lead); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := IngestLeadResponse{
		LeadID:         string(lead.ID),
		Status:         string(market.LeadPending),
		AssignedBuyers: []string{},
	}

	buyers, err := h.Engine.Distribute(ctx, lead.ID, campaign.ID, campaign.Strategy)
	if err != nil {
		// Lead received either way; distribution failure is a recoverable
		// warning, never an ingestion failure.
		h.Log.Warn().Err(err).Str("lead", string(lead.ID)).Msg("distribution failed after ingestion")
		resp.Warning = "lead received but distribution failed"
	} else {
		for _, b := range buyers {
			resp.AssignedBuyers = append(resp.AssignedBuyers, string(b))
		}
		if len(buyers) > 0 {
			resp.Status = string(market.LeadDistributed)
		}
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// RedistributeLead re-invokes the engine for a PENDING lead after buyer
// funds or subscriptions changed. A lead that already went out cannot be
// sold again.
func (h *Handler) RedistributeLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID := market.LeadID(chi.URLParam(r, "id"))

	lead, err := h.Store.GetLead(ctx, leadID)
	if err != nil {
		if market.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if lead.Status != market.LeadPending {
		writeError(w, http.StatusConflict, "lead already distributed")
		return
	}

	campaign, err := h.Store.GetCampaign(ctx, lead.CampaignID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	buyers, err := h.Engine.Distribute(ctx, lead.ID, campaign.ID, campaign.Strategy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := IngestLeadResponse{
		LeadID:         string(lead.ID),
		Status:         string(market.LeadPending),
		AssignedBuyers: []string{},
	}
	for _, b := range buyers {
		resp.AssignedBuyers = append(resp.AssignedBuyers, string(b))
	}
	if len(buyers) > 0 {
		resp.Status = string(market.LeadDistributed)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID := market.LeadID(chi.URLParam(r, "id"))

	lead, err := h.Store.GetLead(ctx, leadID)
	if err != nil {
		if market.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	assignments, err := h.Store.AssignmentsByLead(ctx, leadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := LeadResponse{
		LeadID:        string(lead.ID),
		CampaignID:    string(lead.CampaignID),
		Region:        lead.Region,
		Tier:          string(lead.Tier),
		Status:        string(lead.Status),
		ReceivedAt:    lead.ReceivedAt,
		DistributedAt: lead.DistributedAt,
		Assignments:   []AssignmentView{},
	}
	for _, a := range assignments {
		resp.Assignments = append(resp.Assignments, toAssignmentView(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// BUYERS / WALLET
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	buyerID := market.BuyerID(chi.URLParam(r, "id"))
	balance, err := h.Wallet.Balance(r.Context(), buyerID)
	if err != nil {
		if market.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "buyer not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{BuyerID: string(buyerID), Balance: balance.String()})
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	buyerID := market.BuyerID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetBuyer(r.Context(), buyerID); err != nil {
		if market.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "buyer not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	txs, err := h.Store.TransactionsByBuyer(r.Context(), buyerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := []TransactionView{}
	for _, tx := range txs {
		views = append(views, toTransactionView(tx))
	}
	writeJSON(w, http.StatusOK, views)
}

// CreditBuyer appends a manual CREDIT ledger entry (ops top-up).
func (h *Handler) CreditBuyer(w http.ResponseWriter, r *http.Request) {
	buyerID := market.BuyerID(chi.URLParam(r, "id"))

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual credit"
	}
	tx, err := h.Wallet.Credit(r.Context(), buyerID, market.Money{Value: amount}, market.TxCredit, "", reason)
	if err != nil {
		if market.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "buyer not found")
			return
		}
		if errors.Is(err, market.ErrConcurrentModification) {
			writeError(w, http.StatusConflict, "wallet busy, retry")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionView(tx))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
