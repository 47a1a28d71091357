/*
recharge.go - Auto-recharge trigger against the payment gateway

PURPOSE:
  When the eligibility filter finds a buyer's wallet short of a campaign's
  price, it may top the wallet up before excluding the buyer: charge the
  configured amount through the payment gateway and credit the wallet on
  success.

DE-DUPLICATION:
  Two concurrent eligibility passes observing the same under-threshold
  buyer must not both charge the payment method. Recharges are keyed per
  buyer through singleflight: at most one charge is in flight per buyer,
  and a second caller shares the first result instead of charging again.

FAILURE SEMANTICS:
  A declined or errored charge is not a distribution failure. It excludes
  the buyer's subscription from the current lead only, surfaced as
  ErrRechargeFailed so the filter can branch with errors.Is.

SEE ALSO:
  - eligibility.go: The only caller in the distribution path
  - ledger.go: The credit lands as a TxAutoRecharge entry
*/
package market

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/warp/lead-engine/metrics"
)

// =============================================================================
// PAYMENT GATEWAY - External collaborator (black box)
// =============================================================================

type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
)

type ChargeResult struct {
	ID     string
	Status ChargeStatus
}

// PaymentGateway is the black-box charge capability. The engine only
// branches on Status == ChargeSucceeded.
type PaymentGateway interface {
	Charge(ctx context.Context, customerRef string, amount Money, description, paymentMethodRef string) (ChargeResult, error)
}

// =============================================================================
// RECHARGER - Per-buyer deduplicated top-up
// =============================================================================

type Recharger struct {
	Buyers  BuyerStore
	Wallet  *Wallet
	Gateway PaymentGateway
	Log     zerolog.Logger

	group singleflight.Group
}

func NewRecharger(buyers BuyerStore, wallet *Wallet, gateway PaymentGateway, log zerolog.Logger) *Recharger {
	return &Recharger{Buyers: buyers, Wallet: wallet, Gateway: gateway, Log: log}
}

// Recharge tops up the buyer's wallet by its configured recharge amount
// and returns the balance after the credit. Calls for the same buyer
// collapse into one in-flight charge. The shared execution runs on a
// detached context: cancelling one caller's request must not fail the
// flight for the callers sharing it.
func (r *Recharger) Recharge(ctx context.Context, buyerID BuyerID) (Money, error) {
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(string(buyerID), func() (any, error) {
		return r.recharge(flightCtx, buyerID)
	})
	if err != nil {
		return Money{}, err
	}
	return v.(Money), nil
}

func (r *Recharger) recharge(ctx context.Context, buyerID BuyerID) (Money, error) {
	buyer, err := r.Buyers.GetBuyer(ctx, buyerID)
	if err != nil {
		return Money{}, err
	}

	if !buyer.AutoRecharge || !buyer.RechargeAmount.IsPositive() {
		return Money{}, ErrRechargeDisabled
	}
	// Only trigger below the buyer's configured threshold. A wallet at or
	// above threshold that still can't afford a given campaign is a plain
	// insufficient-funds exclusion, not a recharge case.
	if buyer.RechargeThreshold.IsPositive() && buyer.Balance.GreaterOrEqual(buyer.RechargeThreshold) {
		return Money{}, ErrRechargeDisabled
	}

	desc := fmt.Sprintf("auto-recharge for buyer %s", buyerID)
	result, err := r.Gateway.Charge(ctx, buyer.PaymentCustomerRef, buyer.RechargeAmount, desc, buyer.PaymentMethodRef)
	if err != nil {
		metrics.RechargeAttempts.WithLabelValues("error").Inc()
		return Money{}, &RechargeError{BuyerID: buyerID, Amount: buyer.RechargeAmount, Cause: err}
	}
	if result.Status != ChargeSucceeded {
		metrics.RechargeAttempts.WithLabelValues("declined").Inc()
		return Money{}, &RechargeError{BuyerID: buyerID, Amount: buyer.RechargeAmount, Cause: fmt.Errorf("gateway status %q", result.Status)}
	}

	tx, err := r.Wallet.Credit(ctx, buyerID, buyer.RechargeAmount, TxAutoRecharge, result.ID, "auto recharge")
	if err != nil {
		// The charge went through but the credit didn't land. Surface it
		// loudly; reconciliation against the gateway is an ops concern.
		r.Log.Error().Err(err).Str("buyer", string(buyerID)).Str("charge", result.ID).
			Msg("recharge charged but wallet credit failed")
		return Money{}, &RechargeError{BuyerID: buyerID, Amount: buyer.RechargeAmount, Cause: err}
	}

	metrics.RechargeAttempts.WithLabelValues("succeeded").Inc()
	r.Log.Info().Str("buyer", string(buyerID)).Str("amount", buyer.RechargeAmount.String()).
		Str("charge", result.ID).Msg("wallet auto-recharged")
	return tx.BalanceAfter, nil
}
