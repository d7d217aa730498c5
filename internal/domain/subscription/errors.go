package subscription

import (
	ierr "github.com/deskflow/billing/internal/errors"
)

// NewNotSubscribedError is returned when a tenant has no active subscription
func NewNotSubscribedError(tenantID string) error {
	return ierr.NewError("tenant has no active subscription").
		WithHint("An active subscription is required to create tickets").
		WithReportableDetails(map[string]any{
			"tenant_id": tenantID,
		}).
		Mark(ierr.ErrNotSubscribed)
}

// NewLimitReachedError is returned when the tenant has used its whole quota for the cycle
func NewLimitReachedError(sub *Subscription) error {
	return ierr.NewError("monthly ticket limit reached").
		WithHintf("Your %s plan allows %d tickets per billing cycle, upgrade to create more", sub.PlanTier, sub.MonthlyLimit).
		WithReportableDetails(map[string]any{
			"tenant_id":     sub.TenantID,
			"plan_tier":     sub.PlanTier,
			"monthly_limit": sub.MonthlyLimit,
			"current_count": sub.CurrentCount,
			"period_end":    sub.PeriodEnd(),
		}).
		Mark(ierr.ErrLimitReached)
}

// NewVersionConflictError is returned by stores when a conditional write lost a race
func NewVersionConflictError(id string, expectedVersion int64) error {
	return ierr.NewError("subscription version conflict").
		WithHint("The subscription was modified concurrently").
		WithReportableDetails(map[string]any{
			"subscription_id":  id,
			"expected_version": expectedVersion,
		}).
		Mark(ierr.ErrVersionConflict)
}

// NewNotFoundError is returned when a subscription id does not exist
func NewNotFoundError(id string) error {
	return ierr.NewError("subscription not found").
		WithHintf("Subscription %s was not found", id).
		WithReportableDetails(map[string]any{
			"subscription_id": id,
		}).
		Mark(ierr.ErrNotFound)
}
