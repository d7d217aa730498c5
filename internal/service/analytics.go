package service

import (
	"context"
	"math"
	"time"

	"github.com/deskflow/billing/internal/api/dto"
	"github.com/deskflow/billing/internal/cache"
	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/types"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// UsagePercentage returns count as a percentage of limit, 0 for a zero or unlimited limit
func UsagePercentage(count, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(count) * 100 / float64(limit)
}

// RemainingTickets returns max(0, limit-count), types.UnlimitedRemaining for unlimited plans
func RemainingTickets(count, limit int64) int64 {
	if limit == types.UnlimitedTickets {
		return types.UnlimitedRemaining
	}
	return max(0, limit-count)
}

// DaysRemaining returns the whole days left until endDate, truncated and never
// negative. bounded is false when there is no end date.
func DaysRemaining(endDate *time.Time, now time.Time) (days int, bounded bool) {
	if endDate == nil {
		return math.MaxInt, false
	}
	left := endDate.Sub(now)
	if left <= 0 {
		return 0, true
	}
	return int(left / (24 * time.Hour)), true
}

// ComputeHealthStatus maps the time left on a subscription to a health status.
// A passed end date is always expired, an open ended subscription is excellent.
func ComputeHealthStatus(endDate *time.Time, now time.Time) types.HealthStatus {
	if endDate != nil && !now.Before(*endDate) {
		return types.HealthStatusExpired
	}
	days, bounded := DaysRemaining(endDate, now)
	switch {
	case !bounded:
		return types.HealthStatusExcellent
	case days <= types.HealthCriticalDays:
		return types.HealthStatusCritical
	case days <= types.HealthWarningDays:
		return types.HealthStatusWarning
	default:
		return types.HealthStatusExcellent
	}
}

// Project derives the usage report of a subscription snapshot. It does not
// mutate sub, a due rollover is applied to a copy.
func Project(sub *subscription.Subscription, ticketsInRange int64, now time.Time) *dto.UsageAnalytics {
	snapshot := sub.Clone()
	snapshot.Rollover(now)

	report := &dto.UsageAnalytics{
		TenantID:         snapshot.TenantID,
		SubscriptionID:   snapshot.ID,
		PlanTier:         snapshot.PlanTier,
		MonthlyLimit:     snapshot.MonthlyLimit,
		CurrentCount:     snapshot.CurrentCount,
		Unlimited:        snapshot.IsUnlimited(),
		UsagePercentage:  UsagePercentage(snapshot.CurrentCount, snapshot.MonthlyLimit),
		RemainingTickets: RemainingTickets(snapshot.CurrentCount, snapshot.MonthlyLimit),
		TicketsInRange:   ticketsInRange,
		HealthStatus:     ComputeHealthStatus(snapshot.EndDate, now),
		PeriodStart:      snapshot.PeriodStart,
		PeriodEnd:        snapshot.PeriodEnd(),
		EndDate:          snapshot.EndDate,
		GeneratedAt:      now,
	}
	if days, bounded := DaysRemaining(snapshot.EndDate, now); bounded {
		report.DaysRemaining = lo.ToPtr(days)
	}
	return report
}

type AnalyticsService interface {
	// GetUsageAnalytics reports usage of the tenant's active subscription.
	// ticketsInRange is the caller's ticket count for the reporting window,
	// nil uses the current cycle count.
	GetUsageAnalytics(ctx context.Context, tenantID string, ticketsInRange *int64) (*dto.UsageAnalytics, error)
}

type analyticsService struct {
	ServiceParams
	group singleflight.Group
}

func NewAnalyticsService(params ServiceParams) AnalyticsService {
	return &analyticsService{
		ServiceParams: params,
	}
}

func (s *analyticsService) GetUsageAnalytics(ctx context.Context, tenantID string, ticketsInRange *int64) (*dto.UsageAnalytics, error) {
	var rangeKey any = "cycle"
	if ticketsInRange != nil {
		rangeKey = lo.FromPtr(ticketsInRange)
	}
	key := cache.GenerateKey(cache.PrefixUsageStats, tenantID, rangeKey)

	if s.Cache != nil {
		if cached, ok := s.Cache.Get(ctx, key); ok {
			if report, ok := cached.(*dto.UsageAnalytics); ok {
				return report, nil
			}
		}
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		sub, err := s.SubRepo.GetActiveByTenant(ctx, tenantID)
		if err != nil {
			if ierr.IsNotFound(err) {
				return nil, subscription.NewNotSubscribedError(tenantID)
			}
			return nil, err
		}
		if err := sub.Validate(); err != nil {
			s.Logger.Errorw("subscription has corrupted cycle data", "error", err, "tenant_id", tenantID, "subscription_id", sub.ID)
			return nil, err
		}

		now := s.Clock.Now().UTC()
		count := sub.CurrentCount
		if ticketsInRange != nil {
			count = *ticketsInRange
		} else if sub.IsStale(now) {
			count = 0
		}

		report := Project(sub, count, now)
		if s.Cache != nil {
			s.Cache.Set(ctx, key, report, 0)
		}
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*dto.UsageAnalytics), nil
}
