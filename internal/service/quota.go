package service

import (
	"context"

	"github.com/deskflow/billing/internal/api/dto"
	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/types"
	webhookDto "github.com/deskflow/billing/internal/webhook/dto"
)

// ConsumeResult is returned by a successful Consume
type ConsumeResult struct {
	Allowed        bool
	RemainingAfter int64
	CyclesElapsed  int
	Subscription   *subscription.Subscription
}

type QuotaService interface {
	// Consume takes one ticket from the tenant's quota. It fails closed with
	// ierr.ErrNotSubscribed, ierr.ErrLimitReached once the cycle is used up,
	// and ierr.ErrTransient when contention outlasts the retry budget.
	Consume(ctx context.Context, tenantID string) (*ConsumeResult, error)

	// CanCreate reports whether one more ticket would currently be admitted. It never writes.
	CanCreate(ctx context.Context, tenantID string) (bool, error)

	// GetRemaining returns the tickets left this cycle, types.UnlimitedRemaining for unlimited plans
	GetRemaining(ctx context.Context, tenantID string) (int64, error)

	GetQuota(ctx context.Context, tenantID string) (*dto.QuotaResponse, error)
}

type quotaService struct {
	ServiceParams
}

func NewQuotaService(params ServiceParams) QuotaService {
	return &quotaService{
		ServiceParams: params,
	}
}

func (s *quotaService) Consume(ctx context.Context, tenantID string) (*ConsumeResult, error) {
	var (
		result *ConsumeResult
		tier   = "none"
	)

	err := s.retryOnConflict(ctx, "consume", map[string]any{"tenant_id": tenantID}, func(attempt int) error {
		sub, err := s.loadActive(ctx, tenantID)
		if err != nil {
			return err
		}
		tier = string(sub.PlanTier)

		expectedVersion := sub.Version
		previousStart := sub.PeriodStart

		// rollover and increment go out in the same conditional write
		cycles := sub.Rollover(s.Clock.Now().UTC())
		if !sub.HasCapacity() {
			return subscription.NewLimitReachedError(sub)
		}

		previousCount := sub.CurrentCount
		sub.CurrentCount++
		if err := s.SubRepo.CompareAndSwap(ctx, sub, expectedVersion); err != nil {
			return err
		}

		if cycles > 0 {
			s.afterRollover(ctx, sub, previousStart, cycles)
		} else {
			s.invalidateTenantCache(ctx, sub.TenantID)
		}
		s.maybeWarnLimit(ctx, sub, previousCount)

		result = &ConsumeResult{
			Allowed:        true,
			RemainingAfter: sub.Remaining(),
			CyclesElapsed:  cycles,
			Subscription:   sub,
		}
		return nil
	})
	if err != nil {
		outcome := metrics.OutcomeError
		switch {
		case ierr.IsLimitReached(err):
			outcome = metrics.OutcomeLimitReached
		case ierr.IsNotSubscribed(err):
			outcome = metrics.OutcomeNotSubscribed
		}
		s.Metrics.ObserveQuotaDecision(tier, outcome)
		return nil, err
	}

	s.Metrics.ObserveQuotaDecision(string(result.Subscription.PlanTier), metrics.OutcomeAllowed)
	return result, nil
}

// maybeWarnLimit emits the limit warning on the one consume that crosses the
// threshold. Every count value is written once per cycle, so the crossing
// happens exactly once.
func (s *quotaService) maybeWarnLimit(ctx context.Context, sub *subscription.Subscription, previousCount int64) {
	threshold := s.Config.Quota.WarningThresholdPercent
	if sub.IsUnlimited() || threshold <= 0 {
		return
	}

	before := UsagePercentage(previousCount, sub.MonthlyLimit)
	after := UsagePercentage(sub.CurrentCount, sub.MonthlyLimit)
	if before >= threshold || after < threshold {
		return
	}

	s.Logger.Infow("tenant crossed ticket limit warning threshold",
		"tenant_id", sub.TenantID,
		"subscription_id", sub.ID,
		"current_count", sub.CurrentCount,
		"monthly_limit", sub.MonthlyLimit,
	)
	s.publishEvent(ctx, types.WebhookEventSubscriptionLimitWarning, sub.TenantID, webhookDto.LimitWarningPayload{
		SubscriptionID:   sub.ID,
		TenantID:         sub.TenantID,
		PlanTier:         sub.PlanTier,
		MonthlyLimit:     sub.MonthlyLimit,
		CurrentCount:     sub.CurrentCount,
		UsagePercentage:  after,
		ThresholdPercent: threshold,
		PeriodEnd:        sub.PeriodEnd(),
	})
}

// snapshot returns the active subscription with any due rollover applied in memory only
func (s *quotaService) snapshot(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	sub, err := s.loadActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sub.Rollover(s.Clock.Now().UTC())
	return sub, nil
}

func (s *quotaService) CanCreate(ctx context.Context, tenantID string) (bool, error) {
	sub, err := s.snapshot(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return sub.HasCapacity(), nil
}

func (s *quotaService) GetRemaining(ctx context.Context, tenantID string) (int64, error) {
	sub, err := s.snapshot(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return sub.Remaining(), nil
}

func (s *quotaService) GetQuota(ctx context.Context, tenantID string) (*dto.QuotaResponse, error) {
	sub, err := s.snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return newQuotaResponse(sub, sub.HasCapacity()), nil
}

func newQuotaResponse(sub *subscription.Subscription, allowed bool) *dto.QuotaResponse {
	return &dto.QuotaResponse{
		TenantID:       sub.TenantID,
		Allowed:        allowed,
		Remaining:      sub.Remaining(),
		Unlimited:      sub.IsUnlimited(),
		PlanTier:       sub.PlanTier,
		MonthlyLimit:   sub.MonthlyLimit,
		CurrentCount:   sub.CurrentCount,
		PeriodStart:    sub.PeriodStart,
		PeriodEnd:      sub.PeriodEnd(),
		SubscriptionID: sub.ID,
	}
}

// NewConsumeResponse maps a consume result for the API
func NewConsumeResponse(result *ConsumeResult) *dto.QuotaResponse {
	return newQuotaResponse(result.Subscription, result.Allowed)
}
