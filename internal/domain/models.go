package domain

import (
	"time"

	"github.com/ofair/referrals/internal/money"
)

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralActive    ReferralStatus = "active"
	ReferralCompleted ReferralStatus = "completed"
	ReferralCancelled ReferralStatus = "cancelled"
	ReferralDisputed  ReferralStatus = "disputed"
)

func (s ReferralStatus) Valid() bool {
	switch s {
	case ReferralPending, ReferralActive, ReferralCompleted, ReferralCancelled, ReferralDisputed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ReferralStatus) Terminal() bool {
	return s == ReferralCompleted || s == ReferralCancelled
}

// Open reports whether the referral still blocks a new referral for the
// same referrer and lead.
func (s ReferralStatus) Open() bool {
	return s == ReferralPending || s == ReferralActive || s == ReferralDisputed
}

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionApproved  CommissionStatus = "approved"
	CommissionPaid      CommissionStatus = "paid"
	CommissionDisputed  CommissionStatus = "disputed"
	CommissionCancelled CommissionStatus = "cancelled"
)

// Payable reports whether the payment processor may settle the commission.
func (s CommissionStatus) Payable() bool {
	return s == CommissionPending || s == CommissionApproved
}

// Referral is one edge: Referrer introduced ReferredUser to a lead.
// CommissionRate never changes after creation.
type Referral struct {
	ID             string         `json:"id"`
	ReferrerID     string         `json:"referrer_id"`
	ReferredUserID *string        `json:"referred_user_id,omitempty"`
	LeadID         string         `json:"lead_id"`
	ProposalID     *string        `json:"proposal_id,omitempty"`
	CommissionRate money.Rate     `json:"commission_rate"`
	Status         ReferralStatus `json:"status"`
	Context        string         `json:"context,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Version        int64          `json:"-"`
}

// IsParty reports whether the user is the referrer or the referred user.
func (r *Referral) IsParty(userID string) bool {
	if r.ReferrerID == userID {
		return true
	}
	return r.ReferredUserID != nil && *r.ReferredUserID == userID
}

// Commission is one computed obligation for one chain level of a
// calculation triggered by SourceReferralID. ReferralID is the referral whose
// referrer earns it; for level 0 both ids are equal.
type Commission struct {
	ID                 string           `json:"id"`
	ReferralID         string           `json:"referral_id"`
	SourceReferralID   string           `json:"source_referral_id"`
	BeneficiaryID      string           `json:"beneficiary_id"`
	ChainLevel         int              `json:"chain_level"`
	Category           string           `json:"category"`
	LeadValue          money.Money      `json:"lead_value"`
	CommissionRate     money.Rate       `json:"commission_rate"`
	SeasonalMultiplier money.Rate       `json:"seasonal_multiplier"`
	ReferrerCommission money.Money      `json:"referrer_commission"`
	PlatformCommission money.Money      `json:"platform_commission"`
	Status             CommissionStatus `json:"status"`
	PaymentMethod      string           `json:"payment_method,omitempty"`
	TransactionID      string           `json:"transaction_id,omitempty"`
	ProcessedBy        string           `json:"processed_by,omitempty"`
	CalculatedAt       time.Time        `json:"calculated_at"`
	PaidAt             *time.Time       `json:"paid_at,omitempty"`
	Version            int64            `json:"-"`
}

// Total is the referrer and platform shares combined.
func (c *Commission) Total() money.Money {
	return c.ReferrerCommission.Add(c.PlatformCommission)
}

// Lead is the part of a customer's service request the engine needs.
type Lead struct {
	ID       string      `json:"id"`
	Category string      `json:"category"`
	Value    money.Money `json:"value"`
}

// PaymentResult confirms a settled commission.
type PaymentResult struct {
	CommissionID  string      `json:"commission_id"`
	BeneficiaryID string      `json:"beneficiary_id"`
	Amount        money.Money `json:"amount"`
	PaymentMethod string      `json:"payment_method"`
	TransactionID string      `json:"transaction_id"`
	ProcessedBy   string      `json:"processed_by"`
	PaidAt        time.Time   `json:"paid_at"`
}

// StatsSummary is a read-only rollup of a user's activity in a date range.
type StatsSummary struct {
	UserID            string                 `json:"user_id"`
	StartDate         time.Time              `json:"start_date"`
	EndDate           time.Time              `json:"end_date"`
	ReferralsByStatus map[ReferralStatus]int `json:"referrals_by_status"`
	TotalReferrals    int                    `json:"total_referrals"`
	CommissionCount   int                    `json:"commission_count"`
	PaidTotal         money.Money            `json:"paid_total"`
	PendingTotal      money.Money            `json:"pending_total"`
	ApprovedTotal     money.Money            `json:"approved_total"`
}
