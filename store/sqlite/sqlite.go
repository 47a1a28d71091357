/*
Package sqlite provides a SQLite-backed implementation of market.Store.

PURPOSE:
  Implements the engine's persistence boundary using SQLite. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  buyers:            Wallet balance, priority, auto-recharge config
  campaigns:         Price-per-lead, allocation strategy
  subscriptions:     Buyer opt-ins with cap/regions/priority
  leads:             Inbound opportunity records
  transactions:      Immutable wallet ledger (append-only)
  lead_assignments:  Allocation artifacts, unique per (lead, buyer)

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for transactions or
  lead_assignments. Ledger ordering rides on SQLite's rowid.

BALANCE CONCURRENCY:
  CompareAndSwapBalance issues
    UPDATE buyers SET balance = ? WHERE id = ? AND balance = ?
  and reads the affected row count. Zero rows with an existing buyer
  means another writer got there first; the wallet retries with a fresh
  read. This serializes per-buyer mutations at the storage layer.

WAL MODE:
  SQLite is opened with WAL for better read concurrency and crash
  recovery.

MONEY ENCODING:
  Balances, prices, and ledger amounts are stored as canonical decimal
  strings and parsed with shopspring/decimal; no floats touch money.

SEE ALSO:
  - market/store.go: Interface contracts
  - market/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/lead-engine/market"
)

// Store implements market.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS buyers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		balance TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		auto_recharge INTEGER NOT NULL DEFAULT 0,
		recharge_threshold TEXT NOT NULL DEFAULT '0',
		recharge_amount TEXT NOT NULL DEFAULT '0',
		payment_method_ref TEXT NOT NULL DEFAULT '',
		payment_customer_ref TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		price_per_lead TEXT NOT NULL,
		strategy TEXT NOT NULL,
		allow_geo_filter INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		daily_cap INTEGER,
		regions TEXT NOT NULL DEFAULT '',
		waterfall_priority INTEGER,
		status TEXT NOT NULL,
		last_distributed_at TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(campaign_id, buyer_id)
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_campaign
		ON subscriptions(campaign_id, status);

	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		supplier_id TEXT NOT NULL DEFAULT '',
		fields_json TEXT NOT NULL DEFAULT '{}',
		region TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT 'warm',
		status TEXT NOT NULL,
		received_at TEXT NOT NULL,
		distributed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_leads_campaign ON leads(campaign_id);

	-- Transactions (append-only wallet ledger); ordered by rowid
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		assignment_id TEXT NOT NULL DEFAULT '',
		gateway_ref TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_buyer
		ON transactions(buyer_id);

	-- Assignments (append-only, unique per lead+buyer)
	CREATE TABLE IF NOT EXISTS lead_assignments (
		id TEXT PRIMARY KEY,
		lead_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		price TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_at TEXT NOT NULL,
		delivered_at TEXT NOT NULL,
		UNIQUE(lead_id, buyer_id)
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_subscription_day
		ON lead_assignments(subscription_id, assigned_at);
	CREATE INDEX IF NOT EXISTS idx_assignments_lead
		ON lead_assignments(lead_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

const timeLayout = time.RFC3339Nano

func encodeMoney(m market.Money) string { return m.Value.String() }

func decodeMoney(s string) (market.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return market.Money{}, fmt.Errorf("decode money %q: %w", s, err)
	}
	return market.Money{Value: d}, nil
}

func encodeTime(t time.Time) string { return t.Format(timeLayout) }

func decodeTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func encodeRegions(regions []string) string { return strings.Join(regions, ",") }

func decodeRegions(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx market.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, buyer_id, amount, balance_before, balance_after,
			tx_type, assignment_id, gateway_ref, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID), string(tx.BuyerID), encodeMoney(tx.Amount),
		encodeMoney(tx.BalanceBefore), encodeMoney(tx.BalanceAfter),
		string(tx.Type), string(tx.AssignmentID), tx.GatewayRef, tx.Reason,
		encodeTime(tx.CreatedAt))
	return err
}

func (s *Store) TransactionsByBuyer(ctx context.Context, buyerID market.BuyerID) ([]market.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer_id, amount, balance_before, balance_after,
			tx_type, assignment_id, gateway_ref, reason, created_at
		FROM transactions WHERE buyer_id = ? ORDER BY rowid`,
		string(buyerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []market.Transaction
	for rows.Next() {
		var tx market.Transaction
		var amount, before, after, createdAt string
		if err := rows.Scan(&tx.ID, &tx.BuyerID, &amount, &before, &after,
			&tx.Type, &tx.AssignmentID, &tx.GatewayRef, &tx.Reason, &createdAt); err != nil {
			return nil, err
		}
		if tx.Amount, err = decodeMoney(amount); err != nil {
			return nil, err
		}
		if tx.BalanceBefore, err = decodeMoney(before); err != nil {
			return nil, err
		}
		if tx.BalanceAfter, err = decodeMoney(after); err != nil {
			return nil, err
		}
		if tx.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// BUYERS
// =============================================================================

func (s *Store) GetBuyer(ctx context.Context, id market.BuyerID) (market.Buyer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, balance, priority, auto_recharge, recharge_threshold,
			recharge_amount, payment_method_ref, payment_customer_ref, status
		FROM buyers WHERE id = ?`, string(id))

	var b market.Buyer
	var balance, threshold, amount string
	var autoRecharge int
	err := row.Scan(&b.ID, &b.Name, &balance, &b.Priority, &autoRecharge,
		&threshold, &amount, &b.PaymentMethodRef, &b.PaymentCustomerRef, &b.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Buyer{}, market.ErrBuyerNotFound
	}
	if err != nil {
		return market.Buyer{}, err
	}
	b.AutoRecharge = autoRecharge != 0
	if b.Balance, err = decodeMoney(balance); err != nil {
		return market.Buyer{}, err
	}
	if b.RechargeThreshold, err = decodeMoney(threshold); err != nil {
		return market.Buyer{}, err
	}
	if b.RechargeAmount, err = decodeMoney(amount); err != nil {
		return market.Buyer{}, err
	}
	return b, nil
}

func (s *Store) CompareAndSwapBalance(ctx context.Context, id market.BuyerID, prev, next market.Money) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE buyers SET balance = ? WHERE id = ? AND balance = ?`,
		encodeMoney(next), string(id), encodeMoney(prev))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Distinguish "buyer gone" from "balance moved underneath us".
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM buyers WHERE id = ?`, string(id)).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return market.ErrBuyerNotFound
	}
	return market.ErrConcurrentModification
}

func (s *Store) PutBuyer(ctx context.Context, b market.Buyer) error {
	autoRecharge := 0
	if b.AutoRecharge {
		autoRecharge = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buyers (id, name, balance, priority, auto_recharge,
			recharge_threshold, recharge_amount, payment_method_ref,
			payment_customer_ref, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			balance = excluded.balance,
			priority = excluded.priority,
			auto_recharge = excluded.auto_recharge,
			recharge_threshold = excluded.recharge_threshold,
			recharge_amount = excluded.recharge_amount,
			payment_method_ref = excluded.payment_method_ref,
			payment_customer_ref = excluded.payment_customer_ref,
			status = excluded.status`,
		string(b.ID), b.Name, encodeMoney(b.Balance), b.Priority, autoRecharge,
		encodeMoney(b.RechargeThreshold), encodeMoney(b.RechargeAmount),
		b.PaymentMethodRef, b.PaymentCustomerRef, string(b.Status))
	return err
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

func (s *Store) GetCampaign(ctx context.Context, id market.CampaignID) (market.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, name, price_per_lead, strategy, allow_geo_filter, status
		FROM campaigns WHERE id = ?`, string(id))

	var c market.Campaign
	var price string
	var geo int
	err := row.Scan(&c.ID, &c.SellerID, &c.Name, &price, &c.Strategy, &geo, &c.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Campaign{}, market.ErrCampaignNotFound
	}
	if err != nil {
		return market.Campaign{}, err
	}
	c.AllowGeoFilter = geo != 0
	if c.PricePerLead, err = decodeMoney(price); err != nil {
		return market.Campaign{}, err
	}
	return c, nil
}

func (s *Store) PutCampaign(ctx context.Context, c market.Campaign) error {
	geo := 0
	if c.AllowGeoFilter {
		geo = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, seller_id, name, price_per_lead, strategy, allow_geo_filter, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seller_id = excluded.seller_id,
			name = excluded.name,
			price_per_lead = excluded.price_per_lead,
			strategy = excluded.strategy,
			allow_geo_filter = excluded.allow_geo_filter,
			status = excluded.status`,
		string(c.ID), c.SellerID, c.Name, encodeMoney(c.PricePerLead),
		string(c.Strategy), geo, string(c.Status))
	return err
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (s *Store) ActiveSubscriptions(ctx context.Context, campaignID market.CampaignID) ([]market.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.campaign_id, s.buyer_id, s.daily_cap, s.regions,
			s.waterfall_priority, s.status, s.last_distributed_at
		FROM subscriptions s
		JOIN buyers b ON b.id = s.buyer_id
		WHERE s.campaign_id = ? AND s.status = ? AND b.status = ?
		ORDER BY s.created_at, s.id`,
		string(campaignID), string(market.SubscriptionActive), string(market.BuyerActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []market.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(rows *sql.Rows) (market.Subscription, error) {
	var sub market.Subscription
	var dailyCap sql.NullInt64
	var prio sql.NullInt64
	var regions string
	var lastDistributed sql.NullString

	err := rows.Scan(&sub.ID, &sub.CampaignID, &sub.BuyerID, &dailyCap, &regions,
		&prio, &sub.Status, &lastDistributed)
	if err != nil {
		return market.Subscription{}, err
	}
	if dailyCap.Valid {
		v := int(dailyCap.Int64)
		sub.DailyCap = &v
	}
	if prio.Valid {
		v := int(prio.Int64)
		sub.WaterfallPriority = &v
	}
	sub.Regions = decodeRegions(regions)
	if lastDistributed.Valid {
		t, err := decodeTime(lastDistributed.String)
		if err != nil {
			return market.Subscription{}, err
		}
		sub.LastDistributedAt = &t
	}
	return sub, nil
}

func (s *Store) TouchLastDistributed(ctx context.Context, id market.SubscriptionID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_distributed_at = ? WHERE id = ?`,
		encodeTime(at), string(id))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return market.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) PutSubscription(ctx context.Context, sub market.Subscription) error {
	var dailyCap any
	if sub.DailyCap != nil {
		dailyCap = *sub.DailyCap
	}
	var prio any
	if sub.WaterfallPriority != nil {
		prio = *sub.WaterfallPriority
	}
	var lastDistributed any
	if sub.LastDistributedAt != nil {
		lastDistributed = encodeTime(*sub.LastDistributedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, campaign_id, buyer_id, daily_cap, regions,
			waterfall_priority, status, last_distributed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			daily_cap = excluded.daily_cap,
			regions = excluded.regions,
			waterfall_priority = excluded.waterfall_priority,
			status = excluded.status,
			last_distributed_at = excluded.last_distributed_at`,
		string(sub.ID), string(sub.CampaignID), string(sub.BuyerID), dailyCap,
		encodeRegions(sub.Regions), prio, string(sub.Status), lastDistributed,
		encodeTime(time.Now()))
	return err
}

// =============================================================================
// LEADS
// =============================================================================

func (s *Store) GetLead(ctx context.Context, id market.LeadID) (market.Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, category_id, supplier_id, fields_json, region,
			tier, status, received_at, distributed_at
		FROM leads WHERE id = ?`, string(id))

	var l market.Lead
	var fieldsJSON, receivedAt string
	var distributedAt sql.NullString
	err := row.Scan(&l.ID, &l.CampaignID, &l.CategoryID, &l.SupplierID,
		&fieldsJSON, &l.Region, &l.Tier, &l.Status, &receivedAt, &distributedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Lead{}, market.ErrLeadNotFound
	}
	if err != nil {
		return market.Lead{}, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &l.Fields); err != nil {
		return market.Lead{}, fmt.Errorf("decode lead fields: %w", err)
	}
	if l.ReceivedAt, err = decodeTime(receivedAt); err != nil {
		return market.Lead{}, err
	}
	if distributedAt.Valid {
		t, err := decodeTime(distributedAt.String)
		if err != nil {
			return market.Lead{}, err
		}
		l.DistributedAt = &t
	}
	return l, nil
}

func (s *Store) CreateLead(ctx context.Context, l market.Lead) error {
	fields := l.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode lead fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO leads (id, campaign_id, category_id, supplier_id, fields_json,
			region, tier, status, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(l.ID), string(l.CampaignID), l.CategoryID, l.SupplierID,
		string(fieldsJSON), l.Region, string(l.Tier), string(l.Status),
		encodeTime(l.ReceivedAt))
	return err
}

func (s *Store) MarkDistributed(ctx context.Context, id market.LeadID, at time.Time) error {
	// Monotonic: only PENDING advances; a distributed lead keeps its first
	// distributedAt.
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET status = ?, distributed_at = ?
		WHERE id = ? AND status = ?`,
		string(market.LeadDistributed), encodeTime(at),
		string(id), string(market.LeadPending))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM leads WHERE id = ?`, string(id)).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return market.ErrLeadNotFound
	}
	return nil // already distributed
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (s *Store) CreateAssignment(ctx context.Context, a market.LeadAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lead_assignments (id, lead_id, buyer_id, subscription_id,
			price, status, assigned_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), string(a.LeadID), string(a.BuyerID), string(a.SubscriptionID),
		encodeMoney(a.Price), string(a.Status), encodeTime(a.AssignedAt),
		encodeTime(a.DeliveredAt))
	if isUniqueViolation(err) {
		return market.ErrDuplicateAssignment
	}
	return err
}

func (s *Store) HasAssignment(ctx context.Context, leadID market.LeadID, buyerID market.BuyerID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM lead_assignments WHERE lead_id = ? AND buyer_id = ?`,
		string(leadID), string(buyerID)).Scan(&count)
	return count > 0, err
}

func (s *Store) CountAssignmentsForDay(ctx context.Context, id market.SubscriptionID, day time.Time) (int, error) {
	start, end := market.DayBounds(day)
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM lead_assignments
		WHERE subscription_id = ? AND assigned_at >= ? AND assigned_at < ?`,
		string(id), encodeTime(start), encodeTime(end)).Scan(&count)
	return count, err
}

func (s *Store) AssignmentsByLead(ctx context.Context, leadID market.LeadID) ([]market.LeadAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, buyer_id, subscription_id, price, status, assigned_at, delivered_at
		FROM lead_assignments WHERE lead_id = ? ORDER BY rowid`, string(leadID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []market.LeadAssignment
	for rows.Next() {
		var a market.LeadAssignment
		var price, assignedAt, deliveredAt string
		if err := rows.Scan(&a.ID, &a.LeadID, &a.BuyerID, &a.SubscriptionID,
			&price, &a.Status, &assignedAt, &deliveredAt); err != nil {
			return nil, err
		}
		if a.Price, err = decodeMoney(price); err != nil {
			return nil, err
		}
		if a.AssignedAt, err = decodeTime(assignedAt); err != nil {
			return nil, err
		}
		if a.DeliveredAt, err = decodeTime(deliveredAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
