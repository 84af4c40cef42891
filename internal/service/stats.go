package service

import (
	"context"
	"time"

	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/money"
	"golang.org/x/sync/errgroup"
)

type StatsAggregator struct {
	referrals   ReferralStore
	commissions CommissionStore
}

func NewStatsAggregator(referrals ReferralStore, commissions CommissionStore) *StatsAggregator {
	return &StatsAggregator{referrals: referrals, commissions: commissions}
}

// GetUserStats summarizes a user's referrals and earned commissions between
// start and end, both inclusive.
func (s *StatsAggregator) GetUserStats(ctx context.Context, userID string, start, end time.Time, principal domain.Principal) (*domain.StatsSummary, error) {
	if userID == "" {
		return nil, domain.Validationf("user id is required")
	}
	if end.Before(start) {
		return nil, domain.Validationf("end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if principal.UserID != userID {
		if err := principal.Capabilities().Require(domain.CapViewAllStats); err != nil {
			return nil, err
		}
	}

	var (
		byStatus map[domain.ReferralStatus]int
		totals   map[domain.CommissionStatus]money.Money
		count    int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byStatus, err = s.referrals.CountReferralsByStatus(gctx, userID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		totals, count, err = s.commissions.CommissionTotals(gctx, userID, start, end)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &domain.StatsSummary{
		UserID:            userID,
		StartDate:         start,
		EndDate:           end,
		ReferralsByStatus: byStatus,
		CommissionCount:   count,
		PaidTotal:         totalFor(totals, domain.CommissionPaid),
		PendingTotal:      totalFor(totals, domain.CommissionPending),
		ApprovedTotal:     totalFor(totals, domain.CommissionApproved),
	}
	for _, n := range byStatus {
		summary.TotalReferrals += n
	}
	return summary, nil
}

func totalFor(totals map[domain.CommissionStatus]money.Money, status domain.CommissionStatus) money.Money {
	if m, ok := totals[status]; ok {
		return m
	}
	return money.Zero
}
