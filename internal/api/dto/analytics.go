package dto

import (
	"time"

	"github.com/deskflow/billing/internal/types"
)

// UsageAnalytics is the read only usage projection of a tenant subscription
type UsageAnalytics struct {
	TenantID         string             `json:"tenant_id"`
	SubscriptionID   string             `json:"subscription_id"`
	PlanTier         types.PlanTier     `json:"plan_tier"`
	MonthlyLimit     int64              `json:"monthly_limit"`
	CurrentCount     int64              `json:"current_count"`
	Unlimited        bool               `json:"unlimited"`
	UsagePercentage  float64            `json:"usage_percentage"`
	RemainingTickets int64              `json:"remaining_tickets"`
	TicketsInRange   int64              `json:"tickets_in_range"`
	DaysRemaining    *int               `json:"days_remaining,omitempty"`
	HealthStatus     types.HealthStatus `json:"health_status"`
	PeriodStart      time.Time          `json:"period_start"`
	PeriodEnd        time.Time          `json:"period_end"`
	EndDate          *time.Time         `json:"end_date,omitempty"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

type PlanRecommendation struct {
	Action          types.RecommendationAction `json:"action"`
	CurrentTier     types.PlanTier             `json:"current_tier"`
	RecommendedTier types.PlanTier             `json:"recommended_tier,omitempty"`
	UsagePercentage float64                    `json:"usage_percentage"`
	Reason          string                     `json:"reason"`
	Benefits        []string                   `json:"benefits,omitempty"`
}
