package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/leads"
	"github.com/ofair/referrals/internal/logging"
	"github.com/ofair/referrals/internal/money"
	"github.com/ofair/referrals/internal/notify"
	"github.com/ofair/referrals/internal/queue"
	"github.com/ofair/referrals/internal/rules"
	"go.uber.org/zap"
)

type CreateReferralInput struct {
	LeadID         string      `json:"lead_id" validate:"required,max=64"`
	ReferredUserID *string     `json:"referred_user_id,omitempty" validate:"omitempty,min=1,max=64"`
	ProposalID     *string     `json:"proposal_id,omitempty" validate:"omitempty,min=1,max=64"`
	CommissionRate *money.Rate `json:"commission_rate,omitempty"`
	Context        string      `json:"context,omitempty"`
}

// ReferralService is the referral lifecycle manager. Every status change
// goes through UpdateReferralStatus.
type ReferralService struct {
	log      *logging.Logger
	store    ReferralStore
	graph    *ReferralGraph
	leads    leads.Provider
	rules    *rules.Table
	tasks    TaskQueue
	notifier notify.Notifier
	gate     ContentGate

	maxChainDepth int
	retries       uint64
	now           func() time.Time
}

func NewReferralService(
	log *logging.Logger,
	store ReferralStore,
	graph *ReferralGraph,
	leadProvider leads.Provider,
	table *rules.Table,
	tasks TaskQueue,
	notifier notify.Notifier,
	gate ContentGate,
	maxChainDepth int,
	retries uint64,
) *ReferralService {
	return &ReferralService{
		log:           log.Named("referral"),
		store:         store,
		graph:         graph,
		leads:         leadProvider,
		rules:         table,
		tasks:         tasks,
		notifier:      notifier,
		gate:          gate,
		maxChainDepth: maxChainDepth,
		retries:       retries,
		now:           time.Now,
	}
}

// SetClock replaces the time source.
func (s *ReferralService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *ReferralService) CreateReferral(ctx context.Context, p domain.Principal, in CreateReferralInput) (*domain.Referral, error) {
	if err := p.Capabilities().Require(domain.CapRefer); err != nil {
		return nil, fmt.Errorf("user %s cannot refer: %w", p.UserID, err)
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if in.Context != "" {
		if err := s.gate.Check(in.Context); err != nil {
			return nil, err
		}
	}

	var rate money.Rate
	if in.CommissionRate != nil {
		rate = *in.CommissionRate
	} else {
		lead, err := s.leads.GetLead(ctx, in.LeadID)
		if err != nil {
			return nil, err
		}
		rate = s.rules.Rates(lead.Category).Base
	}
	if !rate.InUnitInterval() {
		return nil, domain.Validationf("commission rate %s outside (0,1]", rate)
	}

	now := s.now().UTC()
	r := &domain.Referral{
		ID:             uuid.NewString(),
		ReferrerID:     p.UserID,
		ReferredUserID: in.ReferredUserID,
		LeadID:         in.LeadID,
		ProposalID:     in.ProposalID,
		CommissionRate: rate,
		Status:         domain.ReferralPending,
		Context:        in.Context,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	if err := s.graph.Create(ctx, r); err != nil {
		return nil, err
	}

	s.log.Debug("referral created",
		zap.String("referral-id", r.ID),
		zap.String("referrer-id", r.ReferrerID),
		zap.String("lead-id", r.LeadID),
		zap.Stringer("rate", r.CommissionRate))

	if r.ReferredUserID != nil {
		s.notifier.Notify(ctx, *r.ReferredUserID, notify.EventReferralCreated, map[string]interface{}{
			"referral_id": r.ID,
			"referrer_id": r.ReferrerID,
			"lead_id":     r.LeadID,
		})
	}
	return r, nil
}

func (s *ReferralService) GetReferral(ctx context.Context, id string) (*domain.Referral, error) {
	return s.store.GetReferral(ctx, id)
}

func (s *ReferralService) GetReferralChain(ctx context.Context, id string) ([]domain.Referral, error) {
	return s.graph.GetChain(ctx, id, s.maxChainDepth)
}

// ListUserReferrals is open to the user themselves and to staff who can see
// everyone's stats.
func (s *ReferralService) ListUserReferrals(ctx context.Context, p domain.Principal, userID string, status *domain.ReferralStatus, limit, offset int) ([]domain.Referral, error) {
	if p.UserID != userID {
		if err := p.Capabilities().Require(domain.CapViewAllStats); err != nil {
			return nil, err
		}
	}
	return s.graph.ListByUser(ctx, userID, status, limit, offset)
}

// UpdateReferralStatus moves a referral through its state machine. Updating
// to the current status is a no-op for the parties and for anyone allowed to
// make that transition. A write into completed schedules exactly
// one commission chain calculation.
func (s *ReferralService) UpdateReferralStatus(ctx context.Context, id string, to domain.ReferralStatus, p domain.Principal) (*domain.Referral, error) {
	if !to.Valid() {
		return nil, domain.Validationf("unknown status %q", to)
	}

	var (
		updated *domain.Referral
		from    domain.ReferralStatus
	)
	err := retryOnConflict(ctx, s.retries, func() error {
		r, err := s.store.GetReferral(ctx, id)
		if err != nil {
			return err
		}
		from = r.Status
		if from == to {
			if !r.IsParty(p.UserID) {
				if err := authorizeTransition(p, r, from, to); err != nil {
					return err
				}
			}
			updated = r
			return nil
		}
		if !domain.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
		}
		if err := authorizeTransition(p, r, from, to); err != nil {
			return err
		}
		updated, err = s.store.UpdateReferralStatus(ctx, id, to, r.Version, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	if from == to {
		return updated, nil
	}

	statusTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.log.Info("referral status changed",
		zap.String("referral-id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("by", p.UserID))

	if to == domain.ReferralCompleted {
		s.scheduleChainCalculation(ctx, updated.ID)
	}
	s.notifyParties(ctx, updated, from)
	return updated, nil
}

// RecalculateChain queues a new chain calculation for a completed referral,
// typically after an earlier background run failed.
func (s *ReferralService) RecalculateChain(ctx context.Context, id string, p domain.Principal) error {
	if err := p.Capabilities().Require(domain.CapCalculateCommissions); err != nil {
		return err
	}
	r, err := s.store.GetReferral(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != domain.ReferralCompleted {
		return fmt.Errorf("%w: referral %s is %s, not completed", domain.ErrInvalidState, id, r.Status)
	}
	return s.tasks.Enqueue(ctx, queue.Task{Kind: queue.KindCommissionChain, ReferralID: id})
}

// scheduleChainCalculation never fails the caller: the referral is valid even
// if its commissions have to be recalculated later.
func (s *ReferralService) scheduleChainCalculation(ctx context.Context, referralID string) {
	err := s.tasks.Enqueue(context.WithoutCancel(ctx), queue.Task{
		Kind:       queue.KindCommissionChain,
		ReferralID: referralID,
		EnqueuedAt: s.now().UTC(),
	})
	if err != nil {
		s.log.Error("could not schedule commission calculation",
			zap.String("referral-id", referralID),
			zap.Error(err))
	}
}

func (s *ReferralService) notifyParties(ctx context.Context, r *domain.Referral, from domain.ReferralStatus) {
	payload := map[string]interface{}{
		"referral_id": r.ID,
		"from":        string(from),
		"to":          string(r.Status),
	}
	s.notifier.Notify(ctx, r.ReferrerID, notify.EventReferralStatusChanged, payload)
	if r.ReferredUserID != nil {
		s.notifier.Notify(ctx, *r.ReferredUserID, notify.EventReferralStatusChanged, payload)
	}
}

func authorizeTransition(p domain.Principal, r *domain.Referral, from, to domain.ReferralStatus) error {
	caps := p.Capabilities()
	party := caps.Has(domain.CapActOnOwnReferrals) && r.IsParty(p.UserID)
	referred := party && r.ReferredUserID != nil && *r.ReferredUserID == p.UserID

	var allowed bool
	switch {
	case from == domain.ReferralDisputed:
		allowed = caps.Has(domain.CapResolveDisputes)
	case to == domain.ReferralActive:
		allowed = caps.Has(domain.CapActivateAny) || referred
	case to == domain.ReferralCancelled:
		allowed = caps.Has(domain.CapCancelAny) || party
	case to == domain.ReferralCompleted:
		allowed = caps.Has(domain.CapCompleteReferrals)
	case to == domain.ReferralDisputed:
		allowed = caps.Has(domain.CapOpenDisputes) && (party || caps.Has(domain.CapResolveDisputes))
	}
	if !allowed {
		return domain.Permissionf("user %s may not move referral %s from %s to %s", p.UserID, r.ID, from, to)
	}
	return nil
}
