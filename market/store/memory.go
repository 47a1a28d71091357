// Package store provides an in-memory market.Store for testing and dev.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/lead-engine/market"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	buyers        map[market.BuyerID]market.Buyer
	campaigns     map[market.CampaignID]market.Campaign
	subscriptions map[market.SubscriptionID]market.Subscription
	subOrder      []market.SubscriptionID
	leads         map[market.LeadID]market.Lead
	transactions  map[market.BuyerID][]market.Transaction
	assignments   []market.LeadAssignment
	assignedPairs map[pairKey]bool
}

type pairKey struct {
	Lead  market.LeadID
	Buyer market.BuyerID
}

func NewMemory() *Memory {
	return &Memory{
		buyers:        make(map[market.BuyerID]market.Buyer),
		campaigns:     make(map[market.CampaignID]market.Campaign),
		subscriptions: make(map[market.SubscriptionID]market.Subscription),
		leads:         make(map[market.LeadID]market.Lead),
		transactions:  make(map[market.BuyerID][]market.Transaction),
		assignedPairs: make(map[pairKey]bool),
	}
}

// =============================================================================
// LEDGER
// =============================================================================

// AppendTransaction is the only ledger write. Append-only.
func (m *Memory) AppendTransaction(_ context.Context, tx market.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.BuyerID] = append(m.transactions[tx.BuyerID], tx)
	return nil
}

func (m *Memory) TransactionsByBuyer(_ context.Context, buyerID market.BuyerID) ([]market.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]market.Transaction, len(m.transactions[buyerID]))
	copy(result, m.transactions[buyerID])
	return result, nil
}

// =============================================================================
// BUYERS
// =============================================================================

func (m *Memory) GetBuyer(_ context.Context, id market.BuyerID) (market.Buyer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buyers[id]
	if !ok {
		return market.Buyer{}, market.ErrBuyerNotFound
	}
	return b, nil
}

func (m *Memory) CompareAndSwapBalance(_ context.Context, id market.BuyerID, prev, next market.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buyers[id]
	if !ok {
		return market.ErrBuyerNotFound
	}
	if !b.Balance.Equal(prev) {
		return market.ErrConcurrentModification
	}
	b.Balance = next
	m.buyers[id] = b
	return nil
}

func (m *Memory) PutBuyer(_ context.Context, b market.Buyer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buyers[b.ID] = b
	return nil
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

func (m *Memory) GetCampaign(_ context.Context, id market.CampaignID) (market.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return market.Campaign{}, market.ErrCampaignNotFound
	}
	return c, nil
}

func (m *Memory) PutCampaign(_ context.Context, c market.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c
	return nil
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// ActiveSubscriptions returns ACTIVE subscriptions with ACTIVE buyers in
// creation order, matching the engine's query-boundary precondition.
func (m *Memory) ActiveSubscriptions(_ context.Context, campaignID market.CampaignID) ([]market.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []market.Subscription
	for _, id := range m.subOrder {
		s := m.subscriptions[id]
		if s.CampaignID != campaignID || s.Status != market.SubscriptionActive {
			continue
		}
		if b, ok := m.buyers[s.BuyerID]; !ok || b.Status != market.BuyerActive {
			continue
		}
		result = append(result, s)
	}
	return result, nil
}

func (m *Memory) TouchLastDistributed(_ context.Context, id market.SubscriptionID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return market.ErrSubscriptionNotFound
	}
	t := at
	s.LastDistributedAt = &t
	m.subscriptions[id] = s
	return nil
}

func (m *Memory) PutSubscription(_ context.Context, s market.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[s.ID]; !ok {
		m.subOrder = append(m.subOrder, s.ID)
	}
	m.subscriptions[s.ID] = s
	return nil
}

// =============================================================================
// LEADS
// =============================================================================

func (m *Memory) GetLead(_ context.Context, id market.LeadID) (market.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[id]
	if !ok {
		return market.Lead{}, market.ErrLeadNotFound
	}
	return l, nil
}

func (m *Memory) CreateLead(_ context.Context, l market.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[l.ID] = l
	return nil
}

// MarkDistributed only ever advances PENDING -> DISTRIBUTED and keeps the
// first distributedAt.
func (m *Memory) MarkDistributed(_ context.Context, id market.LeadID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return market.ErrLeadNotFound
	}
	if l.Status == market.LeadDistributed {
		return nil
	}
	t := at
	l.Status = market.LeadDistributed
	l.DistributedAt = &t
	m.leads[id] = l
	return nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (m *Memory) CreateAssignment(_ context.Context, a market.LeadAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{Lead: a.LeadID, Buyer: a.BuyerID}
	if m.assignedPairs[k] {
		return market.ErrDuplicateAssignment
	}
	m.assignedPairs[k] = true
	m.assignments = append(m.assignments, a)
	return nil
}

func (m *Memory) HasAssignment(_ context.Context, leadID market.LeadID, buyerID market.BuyerID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assignedPairs[pairKey{Lead: leadID, Buyer: buyerID}], nil
}

func (m *Memory) CountAssignmentsForDay(_ context.Context, id market.SubscriptionID, day time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start, end := market.DayBounds(day)
	count := 0
	for _, a := range m.assignments {
		if a.SubscriptionID != id {
			continue
		}
		if !a.AssignedAt.Before(start) && a.AssignedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) AssignmentsByLead(_ context.Context, leadID market.LeadID) ([]market.LeadAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []market.LeadAssignment
	for _, a := range m.assignments {
		if a.LeadID == leadID {
			result = append(result, a)
		}
	}
	return result, nil
}
