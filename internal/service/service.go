// Package service implements the referral lifecycle and the commission
// engine on top of the referral and commission stores.
package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/money"
	"github.com/ofair/referrals/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ReferralStore is the persistence contract for referrals. Status updates
// are conditional on the version the caller read and fail with
// domain.ErrConflict otherwise.
type ReferralStore interface {
	InsertReferral(ctx context.Context, r *domain.Referral) error
	GetReferral(ctx context.Context, id string) (*domain.Referral, error)
	FindParentReferral(ctx context.Context, leadID, referredUserID string, before time.Time) (*domain.Referral, error)
	ListReferralsByUser(ctx context.Context, userID string, status *domain.ReferralStatus, limit, offset int) ([]domain.Referral, error)
	UpdateReferralStatus(ctx context.Context, id string, to domain.ReferralStatus, expectedVersion int64, at time.Time) (*domain.Referral, error)
	CountReferralsByStatus(ctx context.Context, userID string, start, end time.Time) (map[domain.ReferralStatus]int, error)
}

// CommissionStore is the persistence contract for commissions.
// UpsertCommission replaces a pending record for the same source referral
// and level and fails with domain.ErrImmutableState for any other status.
// UpsertCommissions does the same for a batch and writes all of it or none.
type CommissionStore interface {
	GetCommission(ctx context.Context, id string) (*domain.Commission, error)
	UpsertCommission(ctx context.Context, c *domain.Commission) (*domain.Commission, error)
	UpsertCommissions(ctx context.Context, cs []*domain.Commission) ([]domain.Commission, error)
	UpdateCommission(ctx context.Context, c *domain.Commission, expectedVersion int64) (*domain.Commission, error)
	ListCommissionsByStatus(ctx context.Context, status domain.CommissionStatus, limit, offset int) ([]domain.Commission, error)
	CommissionTotals(ctx context.Context, beneficiaryID string, start, end time.Time) (map[domain.CommissionStatus]money.Money, int, error)
}

// TaskQueue is the producer side of queue.Queue.
type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

var (
	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referrals_status_transitions_total",
		Help: "Referral status transitions, labeled by source and target status",
	}, []string{"from", "to"})

	commissionsCalculated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referrals_commissions_calculated_total",
		Help: "Commission records written, labeled by calculation mode and chain level",
	}, []string{"mode", "level"})

	commissionPayments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referrals_commission_payments_total",
		Help: "Commission payment attempts, labeled by outcome",
	}, []string{"outcome"})
)

var validate = validator.New()

func validateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return domain.Validationf("%s failed on %q", f.Field(), f.Tag())
		}
		return domain.Validationf("%v", err)
	}
	return nil
}

// retryOnConflict runs op up to attempts times while it keeps failing with
// domain.ErrConflict. Any other error stops the loop immediately.
func retryOnConflict(ctx context.Context, attempts uint64, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 0

	retries := uint64(0)
	if attempts > 1 {
		retries = attempts - 1
	}
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, domain.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
}

func pageBounds(limit, offset int) (int, int, error) {
	if offset < 0 {
		return 0, 0, domain.Validationf("offset must not be negative")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, nil
}

func levelLabel(level int) string {
	return strconv.Itoa(level)
}
