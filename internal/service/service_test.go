package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ofair/referrals/internal/config"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/leads"
	"github.com/ofair/referrals/internal/logging"
	"github.com/ofair/referrals/internal/money"
	"github.com/ofair/referrals/internal/notify"
	"github.com/ofair/referrals/internal/queue"
	"github.com/ofair/referrals/internal/rules"
	"github.com/ofair/referrals/internal/service"
	"github.com/ofair/referrals/internal/store"
	"github.com/stretchr/testify/require"
)

var (
	june  = time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	april = time.Date(2026, time.April, 10, 12, 0, 0, 0, time.UTC)

	admin   = domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin, IsVerified: true}
	finance = domain.Principal{UserID: "finance-1", Role: domain.RoleFinance, IsVerified: true}
	support = domain.Principal{UserID: "support-1", Role: domain.RoleSupport, IsVerified: true}
)

func customer(id string, verified bool) domain.Principal {
	return domain.Principal{UserID: id, Role: domain.RoleCustomer, IsVerified: verified}
}

type taskRecorder struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *taskRecorder) Enqueue(_ context.Context, task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *taskRecorder) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type harness struct {
	store     *store.MemoryStore
	leads     *leads.Static
	tasks     *taskRecorder
	notes     *notify.Recorder
	graph     *service.ReferralGraph
	referrals *service.ReferralService
	calc      *service.CommissionCalculator
	payments  *service.PaymentProcessor
	stats     *service.StatsAggregator
	worker    *service.ChainWorker
}

func newHarness(cfg config.CommissionConfig, now time.Time) *harness {
	log := logging.NewTestLogger()
	h := &harness{
		store: store.NewMemoryStore(),
		leads: leads.NewStatic(),
		tasks: &taskRecorder{},
		notes: notify.NewRecorder(256),
	}
	table := rules.Default()
	clock := func() time.Time { return now }

	h.graph = service.NewReferralGraph(h.store)
	h.referrals = service.NewReferralService(log, h.store, h.graph, h.leads, table, h.tasks, h.notes,
		service.NewBasicContentGate(), cfg.MaxChainDepth, 3)
	h.referrals.SetClock(clock)
	h.calc = service.NewCommissionCalculator(log, h.store, h.store, h.graph, h.leads, table, h.notes, cfg)
	h.calc.SetClock(clock)
	h.payments = service.NewPaymentProcessor(log, h.store, h.notes, 3)
	h.payments.SetClock(clock)
	h.stats = service.NewStatsAggregator(h.store, h.store)
	h.worker = service.NewChainWorker(log, h.calc)
	return h
}

func defaultHarness() *harness {
	return newHarness(config.DefaultCommissionConfig(), june)
}

func (h *harness) lead(id, category, value string) {
	h.leads.Put(domain.Lead{ID: id, Category: category, Value: money.MustParse(value)})
}

// seedChain inserts depth referrals u0->u1->...->u{depth} on one lead, one
// minute apart, and completes the last one.
func (h *harness) seedChain(t *testing.T, leadID, rate string, depth int) []*domain.Referral {
	t.Helper()
	ctx := context.Background()
	out := make([]*domain.Referral, 0, depth)
	for i := 0; i < depth; i++ {
		referred := fmt.Sprintf("u%d", i+1)
		created := june.Add(time.Duration(i-depth) * time.Minute)
		r := &domain.Referral{
			ID:             fmt.Sprintf("%s-r%d", leadID, i),
			ReferrerID:     fmt.Sprintf("u%d", i),
			ReferredUserID: &referred,
			LeadID:         leadID,
			CommissionRate: money.MustParseRate(rate),
			Status:         domain.ReferralActive,
			CreatedAt:      created,
			UpdatedAt:      created,
			Version:        1,
		}
		if i == depth-1 {
			r.Status = domain.ReferralCompleted
		}
		require.NoError(t, h.store.InsertReferral(ctx, r))
		out = append(out, r)
	}
	return out
}

func (h *harness) pending(t *testing.T) []domain.Commission {
	t.Helper()
	out, err := h.store.ListCommissionsByStatus(context.Background(), domain.CommissionPending, 100, 0)
	require.NoError(t, err)
	return out
}
