/*
errors.go - Centralized error types for the distribution engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is; structured errors carry context and
  unwrap to the sentinels.

ERROR CATEGORIES:
  1. Structural errors - missing lead/campaign/buyer where referential
     integrity should have guaranteed presence (abort the distribution)
  2. Candidate errors  - insufficient funds, recharge failure, conflict
     after retries (exclude one candidate, never abort siblings)
  3. Store errors      - persistence failures

SEE ALSO:
  - engine.go: Propagation policy (candidate vs structural)
  - ledger.go: Uses ErrConcurrentModification for CAS conflicts
*/
package market

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLeadNotFound is returned when a referenced lead doesn't exist.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrCampaignNotFound is returned when a subscription references a
	// campaign that doesn't exist. Referential integrity should prevent
	// this; it aborts the whole distribution attempt.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrBuyerNotFound is returned when a referenced buyer doesn't exist.
	ErrBuyerNotFound = errors.New("buyer not found")

	// ErrSubscriptionNotFound is returned when a referenced subscription
	// doesn't exist.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInsufficientFunds is returned when a debit would drive the wallet
	// negative. During eligibility this is a normal exclusion branch, not
	// a failure.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRechargeFailed is returned when the payment gateway declines or
	// errors. Treated identically to ErrInsufficientFunds: exclusion of
	// that subscription only.
	ErrRechargeFailed = errors.New("auto-recharge failed")

	// ErrRechargeDisabled is returned when a buyer has no auto-recharge
	// configured.
	ErrRechargeDisabled = errors.New("auto-recharge not configured")

	// ErrConcurrentModification is returned when the conditional balance
	// update detects a conflict. Retried a bounded number of times before
	// surfacing.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateAssignment is returned when an assignment already exists
	// for a (lead, buyer) pair. Broadcast idempotence relies on this.
	ErrDuplicateAssignment = errors.New("lead already assigned to buyer")

	// ErrUnknownStrategy is returned for a strategy name outside the four
	// supported policies.
	ErrUnknownStrategy = errors.New("unknown allocation strategy")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError provides details about a wallet shortage.
type InsufficientFundsError struct {
	BuyerID   BuyerID
	Available Money
	Required  Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for buyer %s: available %s, required %s",
		e.BuyerID, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// RechargeError provides details about a failed auto-recharge.
type RechargeError struct {
	BuyerID BuyerID
	Amount  Money
	Cause   error
}

func (e *RechargeError) Error() string {
	return fmt.Sprintf("auto-recharge of %s for buyer %s failed: %v",
		e.Amount, e.BuyerID, e.Cause)
}

func (e *RechargeError) Unwrap() error {
	return ErrRechargeFailed
}

// ConflictError reports a balance write conflict that exhausted retries.
type ConflictError struct {
	BuyerID  BuyerID
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("balance update for buyer %s conflicted after %d attempts",
		e.BuyerID, e.Attempts)
}

func (e *ConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsCandidateError returns true if the error excludes a single candidate
// subscription without aborting siblings (broadcast, waterfall fallthrough).
func IsCandidateError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrRechargeFailed) ||
		errors.Is(err, ErrRechargeDisabled) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateAssignment)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLeadNotFound) ||
		errors.Is(err, ErrCampaignNotFound) ||
		errors.Is(err, ErrBuyerNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}
