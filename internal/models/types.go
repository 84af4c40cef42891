// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/money"
)

// CreateReferralRequest is the payload from the client. The referrer is the
// authenticated caller.
type CreateReferralRequest struct {
	LeadID         string      `json:"lead_id" validate:"required"`
	ReferredUserID *string     `json:"referred_user_id,omitempty"`
	ProposalID     *string     `json:"proposal_id,omitempty"`
	CommissionRate *money.Rate `json:"commission_rate,omitempty"`
	Context        string      `json:"context,omitempty"`
}

type UpdateStatusRequest struct {
	Status domain.ReferralStatus `json:"status" validate:"required"`
}

type CalculateCommissionRequest struct {
	LeadValue        money.Money `json:"lead_value"`
	PaymentConfirmed bool        `json:"payment_confirmed"`
}

type PaymentRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
	TransactionID string `json:"transaction_id" validate:"required"`
}

// ChainResponse lists a referral's chain, oldest first. The last element is
// the requested referral.
type ChainResponse struct {
	ReferralID string            `json:"referral_id"`
	Depth      int               `json:"depth"`
	Chain      []domain.Referral `json:"chain"`
}

type ReferralListResponse struct {
	Referrals []domain.Referral `json:"referrals"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

type CommissionListResponse struct {
	Commissions []domain.Commission `json:"commissions"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

// TaskAccepted acknowledges work handed to the background queue.
type TaskAccepted struct {
	ReferralID string `json:"referral_id"`
	Status     string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
