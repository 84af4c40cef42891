package domain

var referralTransitions = map[ReferralStatus][]ReferralStatus{
	ReferralPending:  {ReferralActive, ReferralCancelled},
	ReferralActive:   {ReferralCompleted, ReferralCancelled, ReferralDisputed},
	ReferralDisputed: {ReferralActive, ReferralCancelled},
}

// CanTransition reports whether from -> to is in the referral state machine.
// Staying in the same state is not a transition.
func CanTransition(from, to ReferralStatus) bool {
	for _, s := range referralTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
