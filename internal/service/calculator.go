package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ofair/referrals/internal/config"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/leads"
	"github.com/ofair/referrals/internal/logging"
	"github.com/ofair/referrals/internal/money"
	"github.com/ofair/referrals/internal/notify"
	"github.com/ofair/referrals/internal/rules"
	"go.uber.org/zap"
)

const (
	modeSingle = "single"
	modeChain  = "chain"
)

// strictTolerance bounds how far the reconciled platform share may move away
// from independently rounded shares.
var strictTolerance = money.MustParse("0.01")

// CommissionCalculator turns completed referrals into commission records.
type CommissionCalculator struct {
	log         *logging.Logger
	referrals   ReferralStore
	commissions CommissionStore
	graph       *ReferralGraph
	leads       leads.Provider
	rules       *rules.Table
	notifier    notify.Notifier
	cfg         config.CommissionConfig
	now         func() time.Time
}

func NewCommissionCalculator(
	log *logging.Logger,
	referrals ReferralStore,
	commissions CommissionStore,
	graph *ReferralGraph,
	leadProvider leads.Provider,
	table *rules.Table,
	notifier notify.Notifier,
	cfg config.CommissionConfig,
) *CommissionCalculator {
	return &CommissionCalculator{
		log:         log.Named("calculator"),
		referrals:   referrals,
		commissions: commissions,
		graph:       graph,
		leads:       leadProvider,
		rules:       table,
		notifier:    notifier,
		cfg:         cfg,
		now:         time.Now,
	}
}

// SetClock replaces the time source. The month of the clock selects the
// seasonal multiplier.
func (c *CommissionCalculator) SetClock(now func() time.Time) {
	c.now = now
}

// shares is the outcome of splitting one lead value for one level.
type shares struct {
	referrer   money.Money
	platform   money.Money
	multiplier money.Rate
}

// split computes the referrer and platform shares for one level. budget is
// the room left under the ceiling and is reduced by what this level takes.
func (c *CommissionCalculator) split(referralID, category string, leadValue money.Money, rate money.Rate, budget *money.Money) shares {
	rates := c.rules.Rates(category)
	out := shares{
		referrer:   leadValue.MulRate(rate),
		platform:   leadValue.MulRate(rates.Platform),
		multiplier: money.OneRate,
	}

	if c.cfg.StrictTotals {
		reconciled := leadValue.MulRate(rate.Add(rates.Platform)).Sub(out.referrer)
		if diff := reconciled.Sub(out.platform); money.Max(diff, money.Zero.Sub(diff)).Cmp(strictTolerance) <= 0 {
			out.platform = reconciled
		}
	}

	if c.cfg.Seasonal {
		out.multiplier = c.rules.SeasonalMultiplier(category, int(c.now().Month()))
		out.referrer = out.referrer.MulRate(out.multiplier)
	}

	if out.platform.Cmp(*budget) > 0 {
		c.log.Warn("platform share exceeds remaining budget",
			zap.String("referral-id", referralID),
			zap.Stringer("platform", out.platform),
			zap.Stringer("budget", *budget))
		out.platform = money.Max(*budget, money.Zero)
	}
	if out.referrer.Add(out.platform).Cmp(*budget) > 0 {
		room := money.Max(budget.Sub(out.platform), money.Zero)
		c.log.Warn("commission capped at maximum allowed rate",
			zap.String("referral-id", referralID),
			zap.Stringer("referrer", out.referrer),
			zap.Stringer("capped-to", room))
		out.referrer = room
	}
	if c.cfg.StrictTotals {
		*budget = budget.Sub(out.referrer.Add(out.platform))
	}
	return out
}

func (c *CommissionCalculator) ceiling(leadValue money.Money) money.Money {
	return leadValue.MulRate(c.cfg.MaxAllowedRate)
}

// CalculateCommission computes the level 0 commission of a referral for the
// given lead value. A confirmed payment is stored as approved.
func (c *CommissionCalculator) CalculateCommission(ctx context.Context, referralID string, leadValue money.Money, paymentConfirmed bool, p domain.Principal) (*domain.Commission, error) {
	if err := p.Capabilities().Require(domain.CapCalculateCommissions); err != nil {
		return nil, err
	}
	if !leadValue.IsPositive() {
		return nil, domain.Validationf("lead value must be positive, got %s", leadValue)
	}
	r, err := c.referrals.GetReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	lead, err := c.leads.GetLead(ctx, r.LeadID)
	if err != nil {
		return nil, err
	}

	status := domain.CommissionPending
	if paymentConfirmed {
		status = domain.CommissionApproved
	}
	budget := c.ceiling(leadValue)
	s := c.split(r.ID, lead.Category, leadValue, r.CommissionRate, &budget)
	cm := c.newCommission(r, r, 0, lead.Category, leadValue, r.CommissionRate, s, status)

	saved, err := c.commissions.UpsertCommission(ctx, cm)
	if err != nil {
		return nil, err
	}
	c.recordCalculated(ctx, modeSingle, saved)
	return saved, nil
}

// CalculateReferralChainCommissions writes one pending commission for every
// level of the referral's chain, up to the configured number of levels. The
// levels are written together: if any of them is already settled nothing is
// written.
func (c *CommissionCalculator) CalculateReferralChainCommissions(ctx context.Context, referralID string) ([]domain.Commission, error) {
	r, err := c.referrals.GetReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.ReferralCompleted {
		return nil, fmt.Errorf("%w: referral %s is %s, not completed", domain.ErrInvalidState, r.ID, r.Status)
	}
	lead, err := c.leads.GetLead(ctx, r.LeadID)
	if err != nil {
		return nil, err
	}
	if !lead.Value.IsPositive() {
		return nil, domain.Validationf("lead %s has no positive value", lead.ID)
	}

	chain, err := c.graph.GetChain(ctx, r.ID, c.cfg.MaxChainDepth)
	if err != nil {
		return nil, err
	}

	budget := c.ceiling(lead.Value)
	batch := make([]*domain.Commission, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		level := len(chain) - 1 - i
		if level >= c.cfg.MaxCommissionLevels {
			break
		}
		earner := chain[i]
		rate := earner.CommissionRate.Mul(c.cfg.LevelDecay.Pow(level))

		// Without strict totals every level is capped on its own.
		levelBudget := &budget
		if !c.cfg.StrictTotals {
			own := budget
			levelBudget = &own
		}
		s := c.split(r.ID, lead.Category, lead.Value, rate, levelBudget)
		batch = append(batch, c.newCommission(r, &earner, level, lead.Category, lead.Value, rate, s, domain.CommissionPending))
	}

	out, err := c.commissions.UpsertCommissions(ctx, batch)
	if err != nil {
		return nil, err
	}
	for i := range out {
		c.recordCalculated(ctx, modeChain, &out[i])
	}

	c.log.Info("chain commissions calculated",
		zap.String("referral-id", r.ID),
		zap.Int("levels", len(out)),
		zap.Int("chain-length", len(chain)),
		zap.Bool("strict", c.cfg.StrictTotals))
	return out, nil
}

func (c *CommissionCalculator) newCommission(source, earner *domain.Referral, level int, category string, leadValue money.Money, rate money.Rate, s shares, status domain.CommissionStatus) *domain.Commission {
	return &domain.Commission{
		ID:                 uuid.NewString(),
		ReferralID:         earner.ID,
		SourceReferralID:   source.ID,
		BeneficiaryID:      earner.ReferrerID,
		ChainLevel:         level,
		Category:           category,
		LeadValue:          leadValue,
		CommissionRate:     rate,
		SeasonalMultiplier: s.multiplier,
		ReferrerCommission: s.referrer,
		PlatformCommission: s.platform,
		Status:             status,
		CalculatedAt:       c.now().UTC(),
	}
}

func (c *CommissionCalculator) recordCalculated(ctx context.Context, mode string, cm *domain.Commission) {
	commissionsCalculated.WithLabelValues(mode, levelLabel(cm.ChainLevel)).Inc()
	c.log.Debug("commission written",
		zap.String("commission-id", cm.ID),
		zap.String("source-referral-id", cm.SourceReferralID),
		zap.Int("level", cm.ChainLevel),
		zap.Stringer("referrer", cm.ReferrerCommission),
		zap.Stringer("platform", cm.PlatformCommission))
	c.notifier.Notify(ctx, cm.BeneficiaryID, notify.EventCommissionCalculated, map[string]interface{}{
		"commission_id": cm.ID,
		"referral_id":   cm.ReferralID,
		"level":         cm.ChainLevel,
		"amount":        cm.ReferrerCommission.String(),
		"status":        string(cm.Status),
	})
}
