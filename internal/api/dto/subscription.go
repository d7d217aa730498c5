package dto

import (
	"context"
	"time"

	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/types"
	"github.com/deskflow/billing/internal/validator"
)

type CreateSubscriptionRequest struct {
	// tenant_id is the tenant the subscription is activated for
	TenantID string `json:"tenant_id" validate:"required"`

	// plan_tier is one of freemium, basic, professional or enterprise
	PlanTier types.PlanTier `json:"plan_tier" validate:"required"`

	// cycle_days is the billing cycle length, the configured default applies when empty
	CycleDays int `json:"cycle_days,omitempty" validate:"omitempty,min=1,max=366"`

	// start_date is the start of the first billing cycle, now when empty
	StartDate *time.Time `json:"start_date,omitempty"`

	// end_date is when the subscription lapses, open ended when empty
	EndDate *time.Time `json:"end_date,omitempty"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if err := r.PlanTier.Validate(); err != nil {
		return err
	}
	if r.StartDate != nil && r.EndDate != nil && !r.EndDate.After(*r.StartDate) {
		return ierr.NewError("end_date must be after start_date").
			WithHint("Subscription end date must be after its start date").
			WithReportableDetails(map[string]any{
				"start_date": r.StartDate,
				"end_date":   r.EndDate,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ToSubscription builds a new active subscription from the request and the plan catalog
func (r *CreateSubscriptionRequest) ToSubscription(ctx context.Context, now time.Time, defaultCycleDays int) (*subscription.Subscription, error) {
	plan, err := types.GetPlanDefinition(r.PlanTier)
	if err != nil {
		return nil, err
	}

	start := now
	if r.StartDate != nil {
		start = r.StartDate.UTC()
	}
	cycleDays := r.CycleDays
	if cycleDays == 0 {
		cycleDays = defaultCycleDays
	}

	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		TenantID:           r.TenantID,
		PlanTier:           r.PlanTier,
		MonthlyLimit:       plan.MonthlyLimit,
		PeriodStart:        start,
		CycleDays:          cycleDays,
		SubscriptionStatus: types.SubscriptionStatusActive,
		StartDate:          start,
		EndDate:            r.EndDate,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}
	return sub, nil
}

type ChangePlanRequest struct {
	PlanTier types.PlanTier `json:"plan_tier" validate:"required"`
}

func (r *ChangePlanRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return r.PlanTier.Validate()
}

type ExtendSubscriptionRequest struct {
	// days is added to the current end date, or to now when the end date already passed
	Days int `json:"days" validate:"required,min=1,max=3660"`
}

func (r *ExtendSubscriptionRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type RenewSubscriptionRequest struct {
	// plan_tier defaults to the tier of the latest subscription
	PlanTier types.PlanTier `json:"plan_tier,omitempty"`

	// end_date of the renewed subscription, open ended when empty
	EndDate *time.Time `json:"end_date,omitempty"`
}

func (r *RenewSubscriptionRequest) Validate() error {
	if r.PlanTier != "" {
		return r.PlanTier.Validate()
	}
	return nil
}

type SubscriptionResponse struct {
	*subscription.Subscription

	// period_end is the exclusive end of the current billing cycle
	PeriodEnd time.Time `json:"period_end"`

	// remaining_tickets is the quota left in the current cycle
	RemainingTickets int64 `json:"remaining_tickets"`
}

func NewSubscriptionResponse(sub *subscription.Subscription) *SubscriptionResponse {
	return &SubscriptionResponse{
		Subscription:     sub,
		PeriodEnd:        sub.PeriodEnd(),
		RemainingTickets: sub.Remaining(),
	}
}

type ListSubscriptionsResponse = types.ListResponse[*SubscriptionResponse]

// ExpireSubscriptionsResponse summarises one expiry sweep
type ExpireSubscriptionsResponse struct {
	Expired []string `json:"expired"`
	Failed  []string `json:"failed,omitempty"`
}
