package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/ofair/referrals/internal/config"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/money"
	"github.com/ofair/referrals/internal/queue"
	"github.com/ofair/referrals/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionCalculator(t *testing.T) {
	t.Run("Renovation lead splits into referrer and platform shares", testRenovationSplit)
	t.Run("Seasonal multiplier raises the referrer share only", testSeasonalMultiplier)
	t.Run("Unknown categories use general rates", testUnknownCategory)
	t.Run("Shares are capped at the maximum allowed rate", testCeiling)
	t.Run("Platform share alone is capped at the maximum allowed rate", testPlatformCeiling)
	t.Run("Only commission staff can calculate", testCalculatePermission)
	t.Run("Confirmed payments are stored as approved", testPaymentConfirmed)
	t.Run("Lead value must be positive", testLeadValuePositive)
	t.Run("Chain deeper than the level limit stops at the limit", testChainLevelLimit)
	t.Run("Short chains get one record per level", testShortChain)
	t.Run("Level decay reduces upstream rates", testLevelDecay)
	t.Run("Recalculation replaces pending records", testChainIdempotent)
	t.Run("Settled levels block recalculation", testChainImmutable)
	t.Run("Chain calculation needs a completed referral", testChainRequiresCompleted)
	t.Run("Strict totals keep the chain within budget", testStrictBudget)
	t.Run("Cycles in the referral graph are reported", testCycleDetected)
}

func completedReferral(t *testing.T, h *harness, leadID, category, value, rate string) *domain.Referral {
	t.Helper()
	h.lead(leadID, category, value)
	return h.seedChain(t, leadID, rate, 1)[0]
}

func testRenovationSplit(t *testing.T) {
	h := newHarness(config.DefaultCommissionConfig(), april)
	r := completedReferral(t, h, "lead-1", "renovation", "5000", "0.08")

	c, err := h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("5000"), false, finance)
	require.NoError(t, err)
	assert.Equal(t, "400.00", c.ReferrerCommission.String())
	assert.Equal(t, "500.00", c.PlatformCommission.String())
	assert.Equal(t, "900.00", c.Total().String())
	assert.Equal(t, domain.CommissionPending, c.Status)
	assert.Equal(t, 0, c.ChainLevel)
	assert.Equal(t, r.ID, c.ReferralID)
	assert.Equal(t, r.ID, c.SourceReferralID)
	assert.Equal(t, r.ReferrerID, c.BeneficiaryID)
	assert.Equal(t, "1.0000", c.SeasonalMultiplier.String())
}

func testSeasonalMultiplier(t *testing.T) {
	cfg := config.DefaultCommissionConfig()
	cfg.Seasonal = true
	h := newHarness(cfg, april)
	r := completedReferral(t, h, "lead-1", "renovation", "3000", "0.10")

	c, err := h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("3000"), false, finance)
	require.NoError(t, err)
	assert.Equal(t, "390.00", c.ReferrerCommission.String())
	assert.Equal(t, "300.00", c.PlatformCommission.String())
	assert.Equal(t, "1.3000", c.SeasonalMultiplier.String())

	h = newHarness(config.DefaultCommissionConfig(), april)
	r = completedReferral(t, h, "lead-1", "renovation", "3000", "0.10")
	c, err = h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("3000"), false, finance)
	require.NoError(t, err)
	assert.Equal(t, "300.00", c.ReferrerCommission.String())
}

func testUnknownCategory(t *testing.T) {
	h := defaultHarness()
	r := completedReferral(t, h, "lead-1", "astrology", "1000", "0.05")

	c, err := h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("1000"), false, finance)
	require.NoError(t, err)
	assert.Equal(t, "50.00", c.ReferrerCommission.String())
	assert.Equal(t, "50.00", c.PlatformCommission.String())
}

func testCeiling(t *testing.T) {
	cfg := config.DefaultCommissionConfig()
	cfg.MaxAllowedRate = money.MustParseRate("0.15")
	h := newHarness(cfg, june)
	r := completedReferral(t, h, "lead-1", "renovation", "1000", "0.10")

	c, err := h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("1000"), false, finance)
	require.NoError(t, err)
	assert.Equal(t, "50.00", c.ReferrerCommission.String())
	assert.Equal(t, "100.00", c.PlatformCommission.String())
}

func testPlatformCeiling(t *testing.T) {
	cfg := config.DefaultCommissionConfig()
	cfg.MaxAllowedRate = money.MustParseRate("0.05")
	h := newHarness(cfg, june)
	r := completedReferral(t, h, "lead-1", "renovation", "1000", "0.08")

	c, err := h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("1000"), false, finance)
	require.NoError(t, err)
	assert.Equal(t, "0.00", c.ReferrerCommission.String())
	assert.Equal(t, "50.00", c.PlatformCommission.String())
	assert.True(t, c.Total().Cmp(money.MustParse("50")) <= 0, c.Total().String())
}

func testCalculatePermission(t *testing.T) {
	h := defaultHarness()
	r := completedReferral(t, h, "lead-1", "plumbing", "1000", "0.08")

	for _, p := range []domain.Principal{support, customer(r.ReferrerID, true)} {
		_, err := h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("1000"), false, p)
		assert.ErrorIs(t, err, domain.ErrPermission, string(p.Role))
	}
	assert.Empty(t, h.pending(t))

	_, err := h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("1000"), false, admin)
	require.NoError(t, err)
}

func testPaymentConfirmed(t *testing.T) {
	h := defaultHarness()
	r := completedReferral(t, h, "lead-1", "plumbing", "1000", "0.08")

	c, err := h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("1000"), true, finance)
	require.NoError(t, err)
	assert.Equal(t, domain.CommissionApproved, c.Status)

	_, err = h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse("1200"), false, finance)
	assert.ErrorIs(t, err, domain.ErrImmutableState)
}

func testLeadValuePositive(t *testing.T) {
	h := defaultHarness()
	r := completedReferral(t, h, "lead-1", "plumbing", "1000", "0.08")

	for _, v := range []string{"0", "-10"} {
		_, err := h.calc.CalculateCommission(context.Background(), r.ID, money.MustParse(v), false, finance)
		assert.ErrorIs(t, err, domain.ErrValidation, v)
	}
	_, err := h.calc.CalculateCommission(context.Background(), "missing", money.MustParse("10"), false, finance)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func deepConfig() config.CommissionConfig {
	cfg := config.DefaultCommissionConfig()
	cfg.MaxChainDepth = 10
	return cfg
}

func testChainLevelLimit(t *testing.T) {
	h := newHarness(deepConfig(), june)
	h.lead("lead-1", "renovation", "1000")
	chain := h.seedChain(t, "lead-1", "0.10", 6)
	last := chain[len(chain)-1]

	records, err := h.calc.CalculateReferralChainCommissions(context.Background(), last.ID)
	require.NoError(t, err)
	require.Len(t, records, 4)

	for level, c := range records {
		earner := chain[len(chain)-1-level]
		assert.Equal(t, level, c.ChainLevel)
		assert.Equal(t, earner.ID, c.ReferralID)
		assert.Equal(t, earner.ReferrerID, c.BeneficiaryID)
		assert.Equal(t, last.ID, c.SourceReferralID)
		assert.Equal(t, "100.00", c.ReferrerCommission.String())
		assert.Equal(t, "100.00", c.PlatformCommission.String())
		assert.Equal(t, domain.CommissionPending, c.Status)
	}
	assert.Equal(t, "u5", records[0].BeneficiaryID)
	assert.Equal(t, "u2", records[3].BeneficiaryID)
	assert.Len(t, h.pending(t), 4)
}

func testShortChain(t *testing.T) {
	h := newHarness(deepConfig(), june)
	h.lead("lead-1", "cleaning", "500")
	chain := h.seedChain(t, "lead-1", "0.06", 3)

	records, err := h.calc.CalculateReferralChainCommissions(context.Background(), chain[2].ID)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	got, err := h.graph.GetChain(context.Background(), chain[2].ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, chain[0].ID, got[0].ID)
	assert.Equal(t, chain[2].ID, got[2].ID)
}

func testLevelDecay(t *testing.T) {
	cfg := deepConfig()
	cfg.LevelDecay = money.MustParseRate("0.5")
	h := newHarness(cfg, june)
	h.lead("lead-1", "general", "1000")
	chain := h.seedChain(t, "lead-1", "0.10", 3)

	records, err := h.calc.CalculateReferralChainCommissions(context.Background(), chain[2].ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "100.00", records[0].ReferrerCommission.String())
	assert.Equal(t, "50.00", records[1].ReferrerCommission.String())
	assert.Equal(t, "25.00", records[2].ReferrerCommission.String())
	assert.Equal(t, "0.0250", records[2].CommissionRate.String())
}

func testChainIdempotent(t *testing.T) {
	h := newHarness(deepConfig(), june)
	h.lead("lead-1", "plumbing", "2000")
	chain := h.seedChain(t, "lead-1", "0.08", 3)
	ctx := context.Background()

	first, err := h.calc.CalculateReferralChainCommissions(ctx, chain[2].ID)
	require.NoError(t, err)
	second, err := h.calc.CalculateReferralChainCommissions(ctx, chain[2].ID)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.True(t, first[i].ReferrerCommission.Equal(second[i].ReferrerCommission))
	}
	assert.Len(t, h.pending(t), 3)

	require.NoError(t, h.worker.Handle(ctx, queue.Task{Kind: queue.KindCommissionChain, ReferralID: chain[2].ID}))
	assert.Len(t, h.pending(t), 3)
}

func testChainImmutable(t *testing.T) {
	h := newHarness(deepConfig(), june)
	h.lead("lead-1", "plumbing", "2000")
	chain := h.seedChain(t, "lead-1", "0.08", 3)
	ctx := context.Background()

	records, err := h.calc.CalculateReferralChainCommissions(ctx, chain[2].ID)
	require.NoError(t, err)
	_, err = h.payments.ProcessCommissionPayment(ctx, records[1].ID, service.PaymentInput{
		PaymentMethod: "bank_transfer",
		TransactionID: "txn-1",
	}, finance)
	require.NoError(t, err)

	h.leads.Put(domain.Lead{ID: "lead-1", Category: "plumbing", Value: money.MustParse("9000")})
	_, err = h.calc.CalculateReferralChainCommissions(ctx, chain[2].ID)
	require.ErrorIs(t, err, domain.ErrImmutableState)

	level0, err := h.store.GetCommission(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, records[0].Version, level0.Version)
	assert.Equal(t, "160.00", level0.ReferrerCommission.String())

	require.NoError(t, h.worker.Handle(ctx, queue.Task{Kind: queue.KindCommissionChain, ReferralID: chain[2].ID}))
}

func testChainRequiresCompleted(t *testing.T) {
	h := newHarness(deepConfig(), june)
	h.lead("lead-1", "plumbing", "2000")
	chain := h.seedChain(t, "lead-1", "0.08", 2)

	_, err := h.calc.CalculateReferralChainCommissions(context.Background(), chain[0].ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	require.NoError(t, h.worker.Handle(context.Background(), queue.Task{Kind: queue.KindCommissionChain, ReferralID: chain[0].ID}))
	assert.Empty(t, h.pending(t))
}

func testStrictBudget(t *testing.T) {
	cfg := deepConfig()
	cfg.StrictTotals = true
	cfg.MaxAllowedRate = money.MustParseRate("0.5")
	h := newHarness(cfg, june)
	h.lead("lead-1", "renovation", "1000")
	chain := h.seedChain(t, "lead-1", "0.10", 4)

	records, err := h.calc.CalculateReferralChainCommissions(context.Background(), chain[3].ID)
	require.NoError(t, err)
	require.Len(t, records, 4)

	total := money.Zero
	for _, c := range records {
		assert.False(t, c.ReferrerCommission.IsNegative())
		assert.False(t, c.PlatformCommission.IsNegative())
		total = total.Add(c.Total())
	}
	assert.Equal(t, "500.00", total.String())
	assert.Equal(t, "100.00", records[0].ReferrerCommission.String())
	assert.Equal(t, "0.00", records[3].Total().String())
}

func testCycleDetected(t *testing.T) {
	h := newHarness(deepConfig(), june)
	h.lead("lead-1", "general", "100")
	ctx := context.Background()
	at := june.Add(-time.Hour)

	for _, e := range []struct{ id, from, to string }{{"r1", "a", "b"}, {"r2", "b", "a"}} {
		to := e.to
		require.NoError(t, h.store.InsertReferral(ctx, &domain.Referral{
			ID:             e.id,
			ReferrerID:     e.from,
			ReferredUserID: &to,
			LeadID:         "lead-1",
			CommissionRate: money.MustParseRate("0.05"),
			Status:         domain.ReferralCompleted,
			CreatedAt:      at,
			UpdatedAt:      at,
			Version:        1,
		}))
	}

	_, err := h.graph.GetChain(ctx, "r1", 10)
	require.ErrorIs(t, err, domain.ErrCycleDetected)

	_, err = h.calc.CalculateReferralChainCommissions(ctx, "r1")
	require.ErrorIs(t, err, domain.ErrCycleDetected)
	require.NoError(t, h.worker.Handle(ctx, queue.Task{Kind: queue.KindCommissionChain, ReferralID: "r1"}))
}
