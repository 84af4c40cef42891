package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ofair/referrals/internal/domain"
)

// ReferralGraph validates referral edges on the way in and walks them back
// towards the root of a lead's referral tree.
type ReferralGraph struct {
	store ReferralStore
}

func NewReferralGraph(store ReferralStore) *ReferralGraph {
	return &ReferralGraph{store: store}
}

func (g *ReferralGraph) Create(ctx context.Context, r *domain.Referral) error {
	if r.ReferrerID == "" || r.LeadID == "" {
		return domain.Validationf("referrer and lead are required")
	}
	if r.ReferredUserID != nil && *r.ReferredUserID == r.ReferrerID {
		return domain.Validationf("a user cannot refer themselves")
	}
	if !r.CommissionRate.InUnitInterval() {
		return domain.Validationf("commission rate %s outside (0,1]", r.CommissionRate)
	}
	return g.store.InsertReferral(ctx, r)
}

// GetChain returns up to maxDepth referrals ending with referralID, oldest
// first. The parent of a referral is the one that brought its referrer to
// the same lead.
func (g *ReferralGraph) GetChain(ctx context.Context, referralID string, maxDepth int) ([]domain.Referral, error) {
	if maxDepth < 1 {
		return nil, domain.Validationf("max depth must be at least 1")
	}
	cur, err := g.store.GetReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}

	visited := map[string]struct{}{cur.ID: {}}
	chain := []domain.Referral{*cur}
	for len(chain) < maxDepth {
		parent, err := g.store.FindParentReferral(ctx, cur.LeadID, cur.ReferrerID, cur.CreatedAt)
		if errors.Is(err, domain.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if _, seen := visited[parent.ID]; seen {
			return nil, fmt.Errorf("%w: referral %s revisited while walking from %s", domain.ErrCycleDetected, parent.ID, referralID)
		}
		visited[parent.ID] = struct{}{}
		chain = append(chain, *parent)
		cur = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (g *ReferralGraph) ListByUser(ctx context.Context, userID string, status *domain.ReferralStatus, limit, offset int) ([]domain.Referral, error) {
	if userID == "" {
		return nil, domain.Validationf("user id is required")
	}
	if status != nil && !status.Valid() {
		return nil, domain.Validationf("unknown status %q", *status)
	}
	limit, offset, err := pageBounds(limit, offset)
	if err != nil {
		return nil, err
	}
	return g.store.ListReferralsByUser(ctx, userID, status, limit, offset)
}
