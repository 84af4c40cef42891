package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/logging"
	"github.com/ofair/referrals/internal/notify"
	"go.uber.org/zap"
)

type PaymentInput struct {
	PaymentMethod string `json:"payment_method" validate:"required,max=32"`
	TransactionID string `json:"transaction_id" validate:"required,max=128"`
}

// PaymentProcessor settles commissions. Payment is irreversible.
type PaymentProcessor struct {
	log      *logging.Logger
	store    CommissionStore
	notifier notify.Notifier
	retries  uint64
	now      func() time.Time
}

func NewPaymentProcessor(log *logging.Logger, store CommissionStore, notifier notify.Notifier, retries uint64) *PaymentProcessor {
	return &PaymentProcessor{
		log:      log.Named("payment"),
		store:    store,
		notifier: notifier,
		retries:  retries,
		now:      time.Now,
	}
}

func (p *PaymentProcessor) SetClock(now func() time.Time) {
	p.now = now
}

// ProcessCommissionPayment marks a pending or approved commission as paid.
// When two callers race, the loser re-reads the paid record and gets
// domain.ErrInvalidState.
func (p *PaymentProcessor) ProcessCommissionPayment(ctx context.Context, commissionID string, in PaymentInput, principal domain.Principal) (*domain.PaymentResult, error) {
	if err := principal.Capabilities().Require(domain.CapProcessPayments); err != nil {
		commissionPayments.WithLabelValues("forbidden").Inc()
		return nil, err
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	var paid *domain.Commission
	err := retryOnConflict(ctx, p.retries, func() error {
		c, err := p.store.GetCommission(ctx, commissionID)
		if err != nil {
			return err
		}
		if !c.Status.Payable() {
			return fmt.Errorf("%w: commission %s is %s", domain.ErrInvalidState, c.ID, c.Status)
		}
		at := p.now().UTC()
		c.Status = domain.CommissionPaid
		c.PaymentMethod = in.PaymentMethod
		c.TransactionID = in.TransactionID
		c.ProcessedBy = principal.UserID
		c.PaidAt = &at
		paid, err = p.store.UpdateCommission(ctx, c, c.Version)
		return err
	})
	if err != nil {
		commissionPayments.WithLabelValues(paymentOutcome(err)).Inc()
		return nil, err
	}
	commissionPayments.WithLabelValues("paid").Inc()

	p.log.Info("commission paid",
		zap.String("commission-id", paid.ID),
		zap.String("beneficiary-id", paid.BeneficiaryID),
		zap.Stringer("amount", paid.ReferrerCommission),
		zap.String("transaction-id", paid.TransactionID),
		zap.String("processed-by", paid.ProcessedBy))

	p.notifier.Notify(ctx, paid.BeneficiaryID, notify.EventCommissionPaid, map[string]interface{}{
		"commission_id":  paid.ID,
		"amount":         paid.ReferrerCommission.String(),
		"transaction_id": paid.TransactionID,
	})

	return &domain.PaymentResult{
		CommissionID:  paid.ID,
		BeneficiaryID: paid.BeneficiaryID,
		Amount:        paid.ReferrerCommission,
		PaymentMethod: paid.PaymentMethod,
		TransactionID: paid.TransactionID,
		ProcessedBy:   paid.ProcessedBy,
		PaidAt:        *paid.PaidAt,
	}, nil
}

// ApproveCommission moves a pending commission to approved.
func (p *PaymentProcessor) ApproveCommission(ctx context.Context, commissionID string, principal domain.Principal) (*domain.Commission, error) {
	if err := principal.Capabilities().Require(domain.CapApproveCommissions); err != nil {
		return nil, err
	}

	var approved *domain.Commission
	err := retryOnConflict(ctx, p.retries, func() error {
		c, err := p.store.GetCommission(ctx, commissionID)
		if err != nil {
			return err
		}
		if c.Status != domain.CommissionPending {
			return fmt.Errorf("%w: commission %s is %s", domain.ErrInvalidState, c.ID, c.Status)
		}
		c.Status = domain.CommissionApproved
		c.ProcessedBy = principal.UserID
		approved, err = p.store.UpdateCommission(ctx, c, c.Version)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.log.Info("commission approved",
		zap.String("commission-id", approved.ID),
		zap.String("by", principal.UserID))
	return approved, nil
}

// ListPendingCommissions returns pending commissions, oldest first.
func (p *PaymentProcessor) ListPendingCommissions(ctx context.Context, limit, offset int, principal domain.Principal) ([]domain.Commission, error) {
	if err := principal.Capabilities().Require(domain.CapListCommissions); err != nil {
		return nil, err
	}
	limit, offset, err := pageBounds(limit, offset)
	if err != nil {
		return nil, err
	}
	return p.store.ListCommissionsByStatus(ctx, domain.CommissionPending, limit, offset)
}

func paymentOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	}
	return "error"
}
