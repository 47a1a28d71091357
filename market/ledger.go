/*
ledger.go - Wallet debits and credits over the append-only ledger

PURPOSE:
  The ledger is the immutable source of truth for all wallet changes.
  Every debit, manual credit, and auto-recharge is recorded here with a
  before/after balance snapshot. Replaying a buyer's entries in order
  reproduces the current balance exactly.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. SERIALIZED PER BUYER: BalanceAfter of entry N equals BalanceBefore
     of entry N+1 for the same buyer.
  3. NO NEGATIVE FROM DEBIT: A debit never drives the balance negative;
     solvency is enforced against the balance read inside the same
     compare-and-swap attempt, never a cached value.

CONCURRENCY:
  Two concurrent assignments to the same buyer must not interleave their
  read-modify-write, and their ledger entries must land in the same order
  as their balance swaps. A per-buyer mutex serializes the whole
  read -> swap -> append span in-process. The store's conditional balance
  update (read balance, compute next, swap-if-unchanged) guards against
  writers in other processes sharing the database; a conflict triggers a
  bounded retry with a fresh read, and exhaustion surfaces
  ErrConcurrentModification for that candidate only.

SEE ALSO:
  - store.go: CompareAndSwapBalance contract
  - recharge.go: Auto-recharge credits through this wallet
  - engine.go: Assignment commit debits through this wallet
*/
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// debitRetries bounds the CAS retry loop before a conflict surfaces.
const debitRetries = 5

// =============================================================================
// WALLET - Debit/credit with before/after snapshots
// =============================================================================

type Wallet struct {
	Buyers BuyerStore
	Ledger LedgerStore

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	// locks holds one mutex per buyer so the balance swap and the ledger
	// append commit as a single ordered unit within this process.
	locks sync.Map
}

func NewWallet(buyers BuyerStore, ledger LedgerStore) *Wallet {
	return &Wallet{Buyers: buyers, Ledger: ledger, Clock: time.Now}
}

func (w *Wallet) lock(buyerID BuyerID) *sync.Mutex {
	mu, _ := w.locks.LoadOrStore(buyerID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (w *Wallet) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

// Debit charges amount against the buyer's wallet and appends a DEBIT
// entry linked to the assignment that caused it. The solvency check and
// the balance write use the same read: a stale balance fails the swap
// and the attempt restarts. The ledger append happens under the same
// per-buyer lock as the swap so entries land in swap order.
func (w *Wallet) Debit(ctx context.Context, buyerID BuyerID, amount Money, assignmentID AssignmentID, reason string) (Transaction, error) {
	mu := w.lock(buyerID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 1; attempt <= debitRetries; attempt++ {
		buyer, err := w.Buyers.GetBuyer(ctx, buyerID)
		if err != nil {
			return Transaction{}, err
		}

		before := buyer.Balance
		if before.LessThan(amount) {
			return Transaction{}, &InsufficientFundsError{
				BuyerID:   buyerID,
				Available: before,
				Required:  amount,
			}
		}
		after := before.Sub(amount)

		err = w.Buyers.CompareAndSwapBalance(ctx, buyerID, before, after)
		if IsRetryable(err) {
			continue
		}
		if err != nil {
			return Transaction{}, err
		}

		tx := Transaction{
			ID:            TransactionID(uuid.NewString()),
			BuyerID:       buyerID,
			Amount:        amount.Neg(),
			BalanceBefore: before,
			BalanceAfter:  after,
			Type:          TxDebit,
			AssignmentID:  assignmentID,
			Reason:        reason,
			CreatedAt:     w.now(),
		}
		if err := w.Ledger.AppendTransaction(ctx, tx); err != nil {
			return Transaction{}, fmt.Errorf("append debit entry: %w", err)
		}
		return tx, nil
	}
	return Transaction{}, &ConflictError{BuyerID: buyerID, Attempts: debitRetries}
}

// Credit adds amount to the buyer's wallet and appends a ledger entry of
// the given type (TxCredit for manual top-ups, TxAutoRecharge for gateway
// recharges). gatewayRef carries the payment-processor charge id when one
// exists.
func (w *Wallet) Credit(ctx context.Context, buyerID BuyerID, amount Money, txType TransactionType, gatewayRef, reason string) (Transaction, error) {
	mu := w.lock(buyerID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 1; attempt <= debitRetries; attempt++ {
		buyer, err := w.Buyers.GetBuyer(ctx, buyerID)
		if err != nil {
			return Transaction{}, err
		}

		before := buyer.Balance
		after := before.Add(amount)

		err = w.Buyers.CompareAndSwapBalance(ctx, buyerID, before, after)
		if IsRetryable(err) {
			continue
		}
		if err != nil {
			return Transaction{}, err
		}

		tx := Transaction{
			ID:            TransactionID(uuid.NewString()),
			BuyerID:       buyerID,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Type:          txType,
			GatewayRef:    gatewayRef,
			Reason:        reason,
			CreatedAt:     w.now(),
		}
		if err := w.Ledger.AppendTransaction(ctx, tx); err != nil {
			return Transaction{}, fmt.Errorf("append credit entry: %w", err)
		}
		return tx, nil
	}
	return Transaction{}, &ConflictError{BuyerID: buyerID, Attempts: debitRetries}
}

// Balance reads the buyer's current wallet balance.
func (w *Wallet) Balance(ctx context.Context, buyerID BuyerID) (Money, error) {
	buyer, err := w.Buyers.GetBuyer(ctx, buyerID)
	if err != nil {
		return Money{}, err
	}
	return buyer.Balance, nil
}

// Replay recomputes a buyer's balance from the ledger and verifies the
// snapshot chain: BalanceAfter of entry N must equal BalanceBefore of
// entry N+1. Used by audits and tests.
func (w *Wallet) Replay(ctx context.Context, buyerID BuyerID) (Money, error) {
	txs, err := w.Ledger.TransactionsByBuyer(ctx, buyerID)
	if err != nil {
		return Money{}, err
	}
	if len(txs) == 0 {
		return w.Balance(ctx, buyerID)
	}
	balance := txs[0].BalanceBefore
	for i, tx := range txs {
		if i > 0 && !txs[i-1].BalanceAfter.Equal(tx.BalanceBefore) {
			return Money{}, fmt.Errorf("ledger chain broken for buyer %s at entry %s: after %s != before %s",
				buyerID, tx.ID, txs[i-1].BalanceAfter, tx.BalanceBefore)
		}
		if !tx.BalanceBefore.Add(tx.Amount).Equal(tx.BalanceAfter) {
			return Money{}, fmt.Errorf("ledger entry %s inconsistent: %s + %s != %s",
				tx.ID, tx.BalanceBefore, tx.Amount, tx.BalanceAfter)
		}
		balance = tx.BalanceAfter
	}
	return balance, nil
}
