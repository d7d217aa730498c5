package service

import (
	"context"
	"time"

	"github.com/deskflow/billing/internal/cache"
	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
)

// RolloverResult describes the outcome of a rollover check
type RolloverResult struct {
	// RolledOver is true when this call persisted a new billing cycle
	RolledOver bool

	// CyclesElapsed is the number of whole cycles skipped, more than one after dormancy
	CyclesElapsed int

	Subscription *subscription.Subscription
}

type BillingCycleService interface {
	// RolloverIfDue resets the counter of a stale subscription and moves its
	// period start to the cycle containing now. Calling it on a current
	// subscription is a no-op.
	RolloverIfDue(ctx context.Context, tenantID string) (*RolloverResult, error)
}

type billingCycleService struct {
	ServiceParams
}

func NewBillingCycleService(params ServiceParams) BillingCycleService {
	return &billingCycleService{
		ServiceParams: params,
	}
}

func (s *billingCycleService) RolloverIfDue(ctx context.Context, tenantID string) (*RolloverResult, error) {
	var result *RolloverResult

	err := s.retryOnConflict(ctx, "rollover", map[string]any{"tenant_id": tenantID}, func(attempt int) error {
		sub, err := s.loadActive(ctx, tenantID)
		if err != nil {
			return err
		}

		expectedVersion := sub.Version
		previousStart := sub.PeriodStart
		cycles := sub.Rollover(s.Clock.Now().UTC())
		if cycles == 0 {
			result = &RolloverResult{Subscription: sub}
			return nil
		}

		// keyed on the observed version, the loser re-reads the winner's cycle
		if err := s.SubRepo.CompareAndSwap(ctx, sub, expectedVersion); err != nil {
			return err
		}

		s.afterRollover(ctx, sub, previousStart, cycles)
		result = &RolloverResult{
			RolledOver:    true,
			CyclesElapsed: cycles,
			Subscription:  sub,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// loadActive returns the validated active subscription of the tenant
func (p ServiceParams) loadActive(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	sub, err := p.SubRepo.GetActiveByTenant(ctx, tenantID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, subscription.NewNotSubscribedError(tenantID)
		}
		p.Logger.Errorw("failed to load active subscription", "error", err, "tenant_id", tenantID)
		return nil, err
	}

	if sub.IsExpiredAt(p.Clock.Now().UTC()) {
		return nil, subscription.NewNotSubscribedError(tenantID)
	}

	if err := sub.Validate(); err != nil {
		p.Logger.Errorw("subscription has corrupted cycle data",
			"error", err,
			"tenant_id", tenantID,
			"subscription_id", sub.ID,
			"cycle_days", sub.CycleDays,
			"period_start", sub.PeriodStart,
		)
		return nil, err
	}
	return sub, nil
}

// afterRollover runs once per persisted rollover
func (p ServiceParams) afterRollover(ctx context.Context, sub *subscription.Subscription, previousStart time.Time, cycles int) {
	p.Metrics.ObserveRollover()
	p.invalidateTenantCache(ctx, sub.TenantID)
	p.Logger.Infow("rolled over billing cycle",
		"tenant_id", sub.TenantID,
		"subscription_id", sub.ID,
		"previous_period_start", previousStart,
		"period_start", sub.PeriodStart,
		"cycles_elapsed", cycles,
	)
}

func (p ServiceParams) invalidateTenantCache(ctx context.Context, tenantID string) {
	if p.Cache == nil {
		return
	}
	for _, prefix := range cache.TenantKeys(tenantID) {
		p.Cache.DeleteByPrefix(ctx, prefix)
	}
}
