package types

import (
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// PlanTier is the commercial tier a tenant is subscribed to.
// Tiers are ordered, see Rank.
type PlanTier string

const (
	PlanTierFreemium     PlanTier = "freemium"
	PlanTierBasic        PlanTier = "basic"
	PlanTierProfessional PlanTier = "professional"
	PlanTierEnterprise   PlanTier = "enterprise"
)

// UnlimitedTickets is the monthly limit sentinel for plans without a ticket quota
const UnlimitedTickets int64 = -1

// UnlimitedRemaining is reported as the remaining quota of unlimited plans
const UnlimitedRemaining int64 = 1<<63 - 1

// planTierOrder lists tiers from lowest to highest
var planTierOrder = []PlanTier{
	PlanTierFreemium,
	PlanTierBasic,
	PlanTierProfessional,
	PlanTierEnterprise,
}

func (t PlanTier) String() string {
	return string(t)
}

func (t PlanTier) Validate() error {
	if !lo.Contains(planTierOrder, t) {
		return ierr.NewError("invalid plan tier").
			WithHint("Please provide a valid plan tier").
			WithReportableDetails(map[string]any{
				"allowed": planTierOrder,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Rank returns the position of the tier in the upgrade order, -1 when unknown
func (t PlanTier) Rank() int {
	return lo.IndexOf(planTierOrder, t)
}

// IsTop reports whether there is no tier above t
func (t PlanTier) IsTop() bool {
	return t.Rank() == len(planTierOrder)-1
}

// Next returns the tier directly above t
func (t PlanTier) Next() (PlanTier, bool) {
	rank := t.Rank()
	if rank < 0 || t.IsTop() {
		return "", false
	}
	return planTierOrder[rank+1], true
}

// Less reports whether t is ranked below other
func (t PlanTier) Less(other PlanTier) bool {
	return t.Rank() < other.Rank()
}

// PlanDefinition is the catalog entry of a tier
type PlanDefinition struct {
	Tier         PlanTier        `json:"tier"`
	DisplayName  string          `json:"display_name"`
	MonthlyLimit int64           `json:"monthly_limit"`
	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	Benefits     []string        `json:"benefits"`
}

// IsUnlimited reports whether the plan has no ticket quota
func (p PlanDefinition) IsUnlimited() bool {
	return p.MonthlyLimit == UnlimitedTickets
}

// PlanCatalog is the lookup table of every tier and its presentation copy
var PlanCatalog = map[PlanTier]PlanDefinition{
	PlanTierFreemium: {
		Tier:         PlanTierFreemium,
		DisplayName:  "Freemium",
		MonthlyLimit: 50,
		MonthlyPrice: decimal.Zero,
		Benefits: []string{
			"50 tickets per month",
			"Single team inbox",
			"Community support",
		},
	},
	PlanTierBasic: {
		Tier:         PlanTierBasic,
		DisplayName:  "Basic",
		MonthlyLimit: 500,
		MonthlyPrice: decimal.NewFromInt(29),
		Benefits: []string{
			"500 tickets per month",
			"Up to 5 teams",
			"Email support",
			"Canned responses",
		},
	},
	PlanTierProfessional: {
		Tier:         PlanTierProfessional,
		DisplayName:  "Professional",
		MonthlyLimit: 2000,
		MonthlyPrice: decimal.NewFromInt(99),
		Benefits: []string{
			"2,000 tickets per month",
			"Unlimited teams",
			"SLA policies and escalation rules",
			"Usage analytics",
			"Priority email support",
		},
	},
	PlanTierEnterprise: {
		Tier:         PlanTierEnterprise,
		DisplayName:  "Enterprise",
		MonthlyLimit: UnlimitedTickets,
		MonthlyPrice: decimal.NewFromInt(299),
		Benefits: []string{
			"Unlimited tickets",
			"Dedicated account manager",
			"Custom integrations",
			"Single sign-on",
			"24/7 phone support",
		},
	},
}

// GetPlanDefinition returns the catalog entry for the tier
func GetPlanDefinition(tier PlanTier) (PlanDefinition, error) {
	def, ok := PlanCatalog[tier]
	if !ok {
		return PlanDefinition{}, ierr.NewError("plan not found in catalog").
			WithHintf("Plan tier %q is not offered", tier).
			Mark(ierr.ErrNotFound)
	}
	return def, nil
}
