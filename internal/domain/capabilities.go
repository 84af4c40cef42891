package domain

type Role string

const (
	RoleCustomer     Role = "customer"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
	RoleFinance      Role = "finance"
	RoleSupport      Role = "support"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleProfessional, RoleAdmin, RoleFinance, RoleSupport:
		return true
	}
	return false
}

// Principal is the authenticated caller as handed over by the gateway.
type Principal struct {
	UserID     string
	Role       Role
	IsVerified bool
}

func (p Principal) IsProfessional() bool {
	return p.Role == RoleProfessional
}

// Capability is one permission bit.
type Capability uint16

const (
	CapRefer Capability = 1 << iota
	CapActOnOwnReferrals
	CapActivateAny
	CapCompleteReferrals
	CapCancelAny
	CapOpenDisputes
	CapResolveDisputes
	CapCalculateCommissions
	CapApproveCommissions
	CapProcessPayments
	CapListCommissions
	CapViewAllStats
)

var capabilityNames = map[Capability]string{
	CapRefer:                "refer",
	CapActOnOwnReferrals:    "act_on_own_referrals",
	CapActivateAny:          "activate_any",
	CapCompleteReferrals:    "complete_referrals",
	CapCancelAny:            "cancel_any",
	CapOpenDisputes:         "open_disputes",
	CapResolveDisputes:      "resolve_disputes",
	CapCalculateCommissions: "calculate_commissions",
	CapApproveCommissions:   "approve_commissions",
	CapProcessPayments:      "process_payments",
	CapListCommissions:      "list_commissions",
	CapViewAllStats:         "view_all_stats",
}

func (c Capability) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}
	return "unknown"
}

// Capabilities is the fixed permission set of a principal.
type Capabilities Capability

func (cs Capabilities) Has(c Capability) bool {
	return Capability(cs)&c == c
}

// Require returns a permission error naming the missing capability.
func (cs Capabilities) Require(c Capability) error {
	if cs.Has(c) {
		return nil
	}
	return Permissionf("missing capability %s", c)
}

// ResolveCapabilities is the single place where roles and verification turn
// into permissions.
func ResolveCapabilities(role Role, isVerified, isProfessional bool) Capabilities {
	var c Capability
	switch role {
	case RoleAdmin:
		c = CapActOnOwnReferrals | CapActivateAny | CapCompleteReferrals | CapCancelAny |
			CapOpenDisputes | CapResolveDisputes | CapCalculateCommissions | CapApproveCommissions |
			CapProcessPayments | CapListCommissions | CapViewAllStats
	case RoleFinance:
		c = CapCalculateCommissions | CapApproveCommissions | CapProcessPayments | CapListCommissions | CapViewAllStats
	case RoleSupport:
		c = CapOpenDisputes | CapResolveDisputes | CapListCommissions | CapViewAllStats
	case RoleCustomer, RoleProfessional:
		c = CapActOnOwnReferrals | CapOpenDisputes
	default:
		return 0
	}
	if isVerified && (role == RoleCustomer || role == RoleAdmin || isProfessional) {
		c |= CapRefer
	}
	return Capabilities(c)
}

// Capabilities resolves the principal's permission set.
func (p Principal) Capabilities() Capabilities {
	return ResolveCapabilities(p.Role, p.IsVerified, p.IsProfessional())
}
