package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/logging"
	"github.com/ofair/referrals/internal/queue"
	"go.uber.org/zap"
)

// ChainWorker consumes chain calculation tasks. Errors that another attempt
// cannot fix are logged and acknowledged, everything else goes back to the
// queue.
type ChainWorker struct {
	log        *logging.Logger
	calculator *CommissionCalculator
}

func NewChainWorker(log *logging.Logger, calculator *CommissionCalculator) *ChainWorker {
	return &ChainWorker{log: log.Named("worker"), calculator: calculator}
}

func (w *ChainWorker) Handle(ctx context.Context, task queue.Task) error {
	if task.Kind != queue.KindCommissionChain {
		w.log.Error("dropping task of unknown kind", zap.String("kind", task.Kind))
		return nil
	}

	records, err := w.calculator.CalculateReferralChainCommissions(ctx, task.ReferralID)
	switch {
	case err == nil:
		w.log.Debug("chain task done",
			zap.String("referral-id", task.ReferralID),
			zap.Int("records", len(records)),
			zap.Int("attempt", task.Attempt))
		return nil
	case errors.Is(err, domain.ErrImmutableState):
		w.log.Info("chain already settled", zap.String("referral-id", task.ReferralID), zap.Error(err))
		return nil
	case errors.Is(err, domain.ErrCycleDetected):
		w.log.Error("referral graph integrity failure", zap.String("referral-id", task.ReferralID), zap.Error(err))
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidState):
		w.log.Warn("chain task rejected", zap.String("referral-id", task.ReferralID), zap.Error(err))
		return nil
	}
	return fmt.Errorf("chain calculation for referral %s: %w", task.ReferralID, err)
}
