package subscription

import (
	"time"

	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/types"
	"github.com/samber/lo"
)

// Subscription is the per tenant quota record. CurrentCount and PeriodStart are
// only ever written through a version checked compare and swap.
type Subscription struct {
	// ID is the unique identifier for the subscription
	ID string `db:"id" json:"id"`

	// TenantID is the tenant owning the subscription
	TenantID string `db:"tenant_id" json:"tenant_id"`

	// PlanTier is the tier the tenant is subscribed to
	PlanTier types.PlanTier `db:"plan_tier" json:"plan_tier"`

	// MonthlyLimit is the number of tickets allowed per billing cycle,
	// types.UnlimitedTickets for plans without a quota
	MonthlyLimit int64 `db:"monthly_limit" json:"monthly_limit"`

	// CurrentCount is the number of tickets consumed in the current cycle
	CurrentCount int64 `db:"current_count" json:"current_count"`

	// PeriodStart is the start of the current billing cycle
	PeriodStart time.Time `db:"period_start" json:"period_start"`

	// CycleDays is the billing cycle length in days
	CycleDays int `db:"cycle_days" json:"cycle_days"`

	// SubscriptionStatus is the lifecycle status of the subscription
	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	// StartDate is when the subscription was activated
	StartDate time.Time `db:"start_date" json:"start_date"`

	// EndDate is when the subscription lapses, nil for open ended subscriptions
	EndDate *time.Time `db:"end_date" json:"end_date,omitempty"`

	// CancelledAt is the date the subscription was cancelled or replaced
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	// Version is the optimistic concurrency token, bumped on every write
	Version int64 `db:"version" json:"version"`

	types.BaseModel
}

// IsActive reports whether the subscription currently grants quota
func (s *Subscription) IsActive() bool {
	return s.SubscriptionStatus == types.SubscriptionStatusActive
}

// IsUnlimited reports whether the subscription has no ticket quota
func (s *Subscription) IsUnlimited() bool {
	return s.MonthlyLimit == types.UnlimitedTickets
}

// CycleLength returns the billing cycle as a duration
func (s *Subscription) CycleLength() time.Duration {
	return cycleLength(s.CycleDays)
}

// PeriodEnd returns the exclusive end of the current billing cycle
func (s *Subscription) PeriodEnd() time.Time {
	return s.PeriodStart.Add(s.CycleLength())
}

// IsStale reports whether the current cycle has ended at now
func (s *Subscription) IsStale(now time.Time) bool {
	return !now.Before(s.PeriodEnd())
}

// IsExpiredAt reports whether the end date has passed at now
func (s *Subscription) IsExpiredAt(now time.Time) bool {
	return s.EndDate != nil && !now.Before(*s.EndDate)
}

// Rollover resets the counter and moves PeriodStart to the cycle containing now.
// It returns the number of whole cycles skipped, 0 when the record is current.
func (s *Subscription) Rollover(now time.Time) int {
	newStart, cycles := AdvancePeriod(s.PeriodStart, s.CycleDays, now)
	if cycles == 0 {
		return 0
	}
	s.PeriodStart = newStart
	s.CurrentCount = 0
	return cycles
}

// Remaining returns the tickets left in the current cycle
func (s *Subscription) Remaining() int64 {
	if s.IsUnlimited() {
		return types.UnlimitedRemaining
	}
	return max(0, s.MonthlyLimit-s.CurrentCount)
}

// HasCapacity reports whether one more ticket fits in the current cycle
func (s *Subscription) HasCapacity() bool {
	return s.IsUnlimited() || s.CurrentCount < s.MonthlyLimit
}

// Clone returns a deep copy, stores hand out clones so callers never share state
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndDate != nil {
		c.EndDate = lo.ToPtr(*s.EndDate)
	}
	if s.CancelledAt != nil {
		c.CancelledAt = lo.ToPtr(*s.CancelledAt)
	}
	return &c
}

// Validate checks the cycle data the quota engine depends on. A failure here
// means the stored record is corrupt, it is never corrected automatically.
func (s *Subscription) Validate() error {
	details := map[string]any{
		"subscription_id": s.ID,
		"tenant_id":       s.TenantID,
	}
	switch {
	case s.CycleDays <= 0:
		details["cycle_days"] = s.CycleDays
		return ierr.NewError("subscription has a non positive billing cycle").
			WithHint("The subscription billing cycle is corrupted").
			WithReportableDetails(details).
			Mark(ierr.ErrInvalidState)
	case s.PeriodStart.IsZero():
		return ierr.NewError("subscription has no period start").
			WithHint("The subscription billing cycle is corrupted").
			WithReportableDetails(details).
			Mark(ierr.ErrInvalidState)
	case s.CurrentCount < 0:
		details["current_count"] = s.CurrentCount
		return ierr.NewError("subscription has a negative ticket count").
			WithHint("The subscription usage counter is corrupted").
			WithReportableDetails(details).
			Mark(ierr.ErrInvalidState)
	case s.MonthlyLimit < 0 && s.MonthlyLimit != types.UnlimitedTickets:
		details["monthly_limit"] = s.MonthlyLimit
		return ierr.NewError("subscription has an invalid monthly limit").
			WithHint("The subscription ticket limit is corrupted").
			WithReportableDetails(details).
			Mark(ierr.ErrInvalidState)
	}
	return nil
}

// AdvancePeriod moves start forward by whole cycles until now falls inside
// [newStart, newStart+cycle). It returns the new start and the number of
// cycles advanced. A start in the future or a current cycle is returned as is.
func AdvancePeriod(start time.Time, cycleDays int, now time.Time) (time.Time, int) {
	cycle := cycleLength(cycleDays)
	if cycle <= 0 {
		return start, 0
	}
	elapsed := now.Sub(start)
	if elapsed < cycle {
		return start, 0
	}
	cycles := elapsed / cycle
	return start.Add(cycles * cycle), int(cycles)
}

func cycleLength(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
