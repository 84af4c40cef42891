package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/money"
)

// MemoryStore keeps referrals and commissions in process. It follows the same
// contract as Store, including the optimistic version checks, and backs the
// tests and local runs without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	referrals   map[string]domain.Referral
	commissions map[string]domain.Commission
	// source referral id + level -> commission id
	byLevel map[levelKey]string
}

type levelKey struct {
	source string
	level  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		referrals:   make(map[string]domain.Referral),
		commissions: make(map[string]domain.Commission),
		byLevel:     make(map[levelKey]string),
	}
}

func (m *MemoryStore) InsertReferral(_ context.Context, r *domain.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.referrals[r.ID]; ok {
		return domain.Validationf("referral %s already exists", r.ID)
	}
	if r.Status.Open() {
		for _, existing := range m.referrals {
			if existing.ReferrerID == r.ReferrerID && existing.LeadID == r.LeadID && existing.Status.Open() {
				return domain.Validationf("referrer %s already has an open referral for lead %s", r.ReferrerID, r.LeadID)
			}
		}
	}
	m.referrals[r.ID] = cloneReferral(*r)
	return nil
}

func (m *MemoryStore) GetReferral(_ context.Context, id string) (*domain.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.referrals[id]
	if !ok {
		return nil, domain.NotFoundf("referral %s", id)
	}
	out := cloneReferral(r)
	return &out, nil
}

func (m *MemoryStore) FindParentReferral(_ context.Context, leadID, referredUserID string, before time.Time) (*domain.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *domain.Referral
	for _, r := range m.referrals {
		if r.LeadID != leadID || r.ReferredUserID == nil || *r.ReferredUserID != referredUserID {
			continue
		}
		if r.Status == domain.ReferralCancelled || r.CreatedAt.After(before) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			c := cloneReferral(r)
			best = &c
		}
	}
	if best == nil {
		return nil, domain.NotFoundf("no referral brought %s to lead %s", referredUserID, leadID)
	}
	return best, nil
}

func (m *MemoryStore) ListReferralsByUser(_ context.Context, userID string, status *domain.ReferralStatus, limit, offset int) ([]domain.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []domain.Referral
	for _, r := range m.referrals {
		if !r.IsParty(userID) {
			continue
		}
		if status != nil && r.Status != *status {
			continue
		}
		matched = append(matched, cloneReferral(r))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return page(matched, limit, offset), nil
}

func (m *MemoryStore) UpdateReferralStatus(_ context.Context, id string, to domain.ReferralStatus, expectedVersion int64, at time.Time) (*domain.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.referrals[id]
	if !ok {
		return nil, domain.NotFoundf("referral %s", id)
	}
	if r.Version != expectedVersion {
		return nil, fmt.Errorf("%w: referral %s changed since version %d", domain.ErrConflict, id, expectedVersion)
	}
	r.Status = to
	r.UpdatedAt = at
	r.Version++
	m.referrals[id] = r
	out := cloneReferral(r)
	return &out, nil
}

func (m *MemoryStore) CountReferralsByStatus(_ context.Context, userID string, start, end time.Time) (map[domain.ReferralStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[domain.ReferralStatus]int)
	for _, r := range m.referrals {
		if !r.IsParty(userID) || r.CreatedAt.Before(start) || r.CreatedAt.After(end) {
			continue
		}
		out[r.Status]++
	}
	return out, nil
}

func (m *MemoryStore) GetCommission(_ context.Context, id string) (*domain.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.commissions[id]
	if !ok {
		return nil, domain.NotFoundf("commission %s", id)
	}
	out := cloneCommission(c)
	return &out, nil
}

func (m *MemoryStore) UpsertCommission(ctx context.Context, c *domain.Commission) (*domain.Commission, error) {
	out, err := m.UpsertCommissions(ctx, []*domain.Commission{c})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// UpsertCommissions writes every commission or none of them.
func (m *MemoryStore) UpsertCommissions(_ context.Context, cs []*domain.Commission) ([]domain.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range cs {
		id, ok := m.byLevel[levelKey{source: c.SourceReferralID, level: c.ChainLevel}]
		if ok && m.commissions[id].Status != domain.CommissionPending {
			return nil, fmt.Errorf("%w: referral %s level %d", domain.ErrImmutableState, c.SourceReferralID, c.ChainLevel)
		}
	}

	out := make([]domain.Commission, 0, len(cs))
	for _, c := range cs {
		key := levelKey{source: c.SourceReferralID, level: c.ChainLevel}
		next := cloneCommission(*c)
		if id, ok := m.byLevel[key]; ok {
			next.ID = id
			next.Version = m.commissions[id].Version + 1
		} else {
			next.Version = 1
		}
		next.PaymentMethod, next.TransactionID, next.ProcessedBy, next.PaidAt = "", "", "", nil
		m.commissions[next.ID] = next
		m.byLevel[key] = next.ID
		out = append(out, cloneCommission(next))
	}
	return out, nil
}

func (m *MemoryStore) UpdateCommission(_ context.Context, c *domain.Commission, expectedVersion int64) (*domain.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.commissions[c.ID]
	if !ok {
		return nil, domain.NotFoundf("commission %s", c.ID)
	}
	if existing.Version != expectedVersion {
		return nil, fmt.Errorf("%w: commission %s changed since version %d", domain.ErrConflict, c.ID, expectedVersion)
	}
	existing.Status = c.Status
	existing.PaymentMethod = c.PaymentMethod
	existing.TransactionID = c.TransactionID
	existing.ProcessedBy = c.ProcessedBy
	existing.PaidAt = c.PaidAt
	existing.Version++
	m.commissions[c.ID] = cloneCommission(existing)

	out := cloneCommission(existing)
	return &out, nil
}

func (m *MemoryStore) ListCommissionsByStatus(_ context.Context, status domain.CommissionStatus, limit, offset int) ([]domain.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []domain.Commission
	for _, c := range m.commissions {
		if c.Status == status {
			matched = append(matched, cloneCommission(c))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CalculatedAt.Equal(matched[j].CalculatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CalculatedAt.Before(matched[j].CalculatedAt)
	})
	return page(matched, limit, offset), nil
}

func (m *MemoryStore) CommissionTotals(_ context.Context, beneficiaryID string, start, end time.Time) (map[domain.CommissionStatus]money.Money, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[domain.CommissionStatus]money.Money)
	count := 0
	for _, c := range m.commissions {
		if c.BeneficiaryID != beneficiaryID || c.CalculatedAt.Before(start) || c.CalculatedAt.After(end) {
			continue
		}
		sum, ok := totals[c.Status]
		if !ok {
			sum = money.Zero
		}
		totals[c.Status] = sum.Add(c.ReferrerCommission)
		count++
	}
	return totals, count, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneReferral(r domain.Referral) domain.Referral {
	if r.ReferredUserID != nil {
		v := *r.ReferredUserID
		r.ReferredUserID = &v
	}
	if r.ProposalID != nil {
		v := *r.ProposalID
		r.ProposalID = &v
	}
	return r
}

func cloneCommission(c domain.Commission) domain.Commission {
	if c.PaidAt != nil {
		v := *c.PaidAt
		c.PaidAt = &v
	}
	return c
}
