package service

import (
	"context"
	"sync"
	"time"

	"github.com/deskflow/billing/internal/api/dto"
	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/types"
	webhookDto "github.com/deskflow/billing/internal/webhook/dto"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

type SubscriptionService interface {
	// Subscribe activates a new subscription for the tenant. An existing
	// active subscription is cancelled in the same step.
	Subscribe(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)

	// ChangePlan moves the tenant to another tier keeping the current cycle and its usage
	ChangePlan(ctx context.Context, tenantID string, req dto.ChangePlanRequest) (*dto.SubscriptionResponse, error)

	Cancel(ctx context.Context, tenantID string) (*dto.SubscriptionResponse, error)

	// Renew reactivates a tenant whose subscription lapsed or was cancelled on a fresh cycle
	Renew(ctx context.Context, tenantID string, req dto.RenewSubscriptionRequest) (*dto.SubscriptionResponse, error)

	// Extend pushes the end date of the active subscription by days
	Extend(ctx context.Context, tenantID string, req dto.ExtendSubscriptionRequest) (*dto.SubscriptionResponse, error)

	Get(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	GetActive(ctx context.Context, tenantID string) (*dto.SubscriptionResponse, error)
	List(ctx context.Context, filter *types.SubscriptionFilter) (*dto.ListSubscriptionsResponse, error)

	// ExpireDue marks every active subscription past its end date as expired
	ExpireDue(ctx context.Context) (*dto.ExpireSubscriptionsResponse, error)
}

type subscriptionService struct {
	ServiceParams
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
	}
}

func (s *subscriptionService) Subscribe(ctx context.Context, req dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := req.ToSubscription(ctx, s.Clock.Now().UTC(), s.Config.Quota.DefaultCycleDays)
	if err != nil {
		return nil, err
	}
	return s.activate(ctx, sub)
}

func (s *subscriptionService) activate(ctx context.Context, sub *subscription.Subscription) (*dto.SubscriptionResponse, error) {
	previous, err := s.SubRepo.Activate(ctx, sub, types.SubscriptionStatusCancelled)
	if err != nil {
		s.Logger.Errorw("failed to activate subscription", "error", err, "tenant_id", sub.TenantID, "plan_tier", sub.PlanTier)
		return nil, err
	}
	return s.activated(ctx, sub, previous), nil
}

// activated runs once an activation is stored
func (s *subscriptionService) activated(ctx context.Context, sub, previous *subscription.Subscription) *dto.SubscriptionResponse {
	s.invalidateTenantCache(ctx, sub.TenantID)
	if previous != nil {
		s.Logger.Infow("replaced active subscription",
			"tenant_id", sub.TenantID,
			"previous_subscription_id", previous.ID,
			"previous_plan_tier", previous.PlanTier,
			"subscription_id", sub.ID,
			"plan_tier", sub.PlanTier,
		)
		s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionCancelled, previous)
	} else {
		s.Logger.Infow("activated subscription", "tenant_id", sub.TenantID, "subscription_id", sub.ID, "plan_tier", sub.PlanTier)
	}
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionCreated, sub)

	return dto.NewSubscriptionResponse(sub)
}

func (s *subscriptionService) ChangePlan(ctx context.Context, tenantID string, req dto.ChangePlanRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	plan, err := types.GetPlanDefinition(req.PlanTier)
	if err != nil {
		return nil, err
	}

	var next, previous *subscription.Subscription

	// the carried usage is only written if the active record is still the one
	// it was copied from, consumes in between force a re-read
	err = s.retryOnConflict(ctx, "change_plan", map[string]any{"tenant_id": tenantID}, func(attempt int) error {
		current, err := s.loadActive(ctx, tenantID)
		if err != nil {
			return err
		}
		if current.PlanTier == req.PlanTier {
			return ierr.NewError("tenant is already on this plan").
				WithHintf("Tenant is already subscribed to the %s plan", req.PlanTier).
				WithReportableDetails(map[string]any{
					"tenant_id": tenantID,
					"plan_tier": req.PlanTier,
				}).
				Mark(ierr.ErrInvalidOperation)
		}

		observedVersion := current.Version
		now := s.Clock.Now().UTC()
		current.Rollover(now)

		next = &subscription.Subscription{
			ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
			TenantID:           tenantID,
			PlanTier:           req.PlanTier,
			MonthlyLimit:       plan.MonthlyLimit,
			CurrentCount:       current.CurrentCount,
			PeriodStart:        current.PeriodStart,
			CycleDays:          current.CycleDays,
			SubscriptionStatus: types.SubscriptionStatusActive,
			StartDate:          now,
			EndDate:            current.EndDate,
			BaseModel:          types.GetDefaultBaseModel(ctx),
		}
		previous, err = s.SubRepo.ReplaceActive(ctx, next, types.SubscriptionStatusCancelled, current.ID, observedVersion)
		return err
	})
	if err != nil {
		if !ierr.IsInvalidOperation(err) && !ierr.IsNotSubscribed(err) {
			s.Logger.Errorw("failed to change plan", "error", err, "tenant_id", tenantID, "plan_tier", req.PlanTier)
		}
		return nil, err
	}
	return s.activated(ctx, next, previous), nil
}

func (s *subscriptionService) Cancel(ctx context.Context, tenantID string) (*dto.SubscriptionResponse, error) {
	var sub *subscription.Subscription

	err := s.retryOnConflict(ctx, "cancel_subscription", map[string]any{"tenant_id": tenantID}, func(attempt int) error {
		current, err := s.getActiveRecord(ctx, tenantID)
		if err != nil {
			return err
		}

		expectedVersion := current.Version
		current.SubscriptionStatus = types.SubscriptionStatusCancelled
		current.CancelledAt = lo.ToPtr(s.Clock.Now().UTC())
		if err := s.SubRepo.Update(ctx, current, expectedVersion); err != nil {
			return err
		}
		sub = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTenantCache(ctx, tenantID)
	s.Logger.Infow("cancelled subscription", "tenant_id", tenantID, "subscription_id", sub.ID)
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionCancelled, sub)
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) Renew(ctx context.Context, tenantID string, req dto.RenewSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.Clock.Now().UTC()
	if current, err := s.SubRepo.GetActiveByTenant(ctx, tenantID); err == nil {
		if !current.IsExpiredAt(now) {
			return nil, ierr.NewError("tenant already has an active subscription").
				WithHint("Use extend or change plan for an active subscription").
				WithReportableDetails(map[string]any{
					"tenant_id":       tenantID,
					"subscription_id": current.ID,
				}).
				Mark(ierr.ErrInvalidOperation)
		}
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}

	tier := req.PlanTier
	cycleDays := s.Config.Quota.DefaultCycleDays
	if latest, err := s.latest(ctx, tenantID); err != nil {
		return nil, err
	} else if latest != nil {
		cycleDays = latest.CycleDays
		if tier == "" {
			tier = latest.PlanTier
		}
	}
	if tier == "" {
		return nil, subscription.NewNotSubscribedError(tenantID)
	}
	if req.EndDate != nil && !req.EndDate.After(now) {
		return nil, ierr.NewError("end_date must be in the future").
			WithHint("A renewed subscription must end after today").
			Mark(ierr.ErrValidation)
	}

	plan, err := types.GetPlanDefinition(tier)
	if err != nil {
		return nil, err
	}

	next := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		TenantID:           tenantID,
		PlanTier:           tier,
		MonthlyLimit:       plan.MonthlyLimit,
		PeriodStart:        now,
		CycleDays:          cycleDays,
		SubscriptionStatus: types.SubscriptionStatusActive,
		StartDate:          now,
		EndDate:            req.EndDate,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}

	// a lapsed record that the sweep has not reached yet is closed as expired
	previous, err := s.SubRepo.Activate(ctx, next, types.SubscriptionStatusExpired)
	if err != nil {
		s.Logger.Errorw("failed to renew subscription", "error", err, "tenant_id", tenantID)
		return nil, err
	}
	s.invalidateTenantCache(ctx, tenantID)
	if previous != nil {
		s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionExpired, previous)
	}
	s.Logger.Infow("renewed subscription", "tenant_id", tenantID, "subscription_id", next.ID, "plan_tier", tier)
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionCreated, next)
	return dto.NewSubscriptionResponse(next), nil
}

func (s *subscriptionService) Extend(ctx context.Context, tenantID string, req dto.ExtendSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var sub *subscription.Subscription
	err := s.retryOnConflict(ctx, "extend_subscription", map[string]any{"tenant_id": tenantID}, func(attempt int) error {
		current, err := s.getActiveRecord(ctx, tenantID)
		if err != nil {
			return err
		}
		if current.EndDate == nil {
			return ierr.NewError("subscription has no end date").
				WithHint("Open ended subscriptions cannot be extended").
				WithReportableDetails(map[string]any{
					"subscription_id": current.ID,
				}).
				Mark(ierr.ErrInvalidOperation)
		}

		expectedVersion := current.Version
		base := *current.EndDate
		if now := s.Clock.Now().UTC(); base.Before(now) {
			base = now
		}
		current.EndDate = lo.ToPtr(base.AddDate(0, 0, req.Days))
		if err := s.SubRepo.Update(ctx, current, expectedVersion); err != nil {
			return err
		}
		sub = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTenantCache(ctx, tenantID)
	s.Logger.Infow("extended subscription", "tenant_id", tenantID, "subscription_id", sub.ID, "end_date", sub.EndDate)
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) Get(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	if id == "" {
		return nil, ierr.NewError("subscription_id is required").
			WithHint("Subscription ID is required").
			Mark(ierr.ErrValidation)
	}
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) GetActive(ctx context.Context, tenantID string) (*dto.SubscriptionResponse, error) {
	sub, err := s.loadActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sub.Rollover(s.Clock.Now().UTC())
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) List(ctx context.Context, filter *types.SubscriptionFilter) (*dto.ListSubscriptionsResponse, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.SubRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := lo.Map(subs, func(sub *subscription.Subscription, _ int) *dto.SubscriptionResponse {
		return dto.NewSubscriptionResponse(sub)
	})
	resp := types.NewListResponse(items, total, filter.GetLimit(), filter.GetOffset())
	return &resp, nil
}

func (s *subscriptionService) ExpireDue(ctx context.Context) (*dto.ExpireSubscriptionsResponse, error) {
	now := s.Clock.Now().UTC()
	due, err := s.SubRepo.ListDueForExpiry(ctx, now)
	if err != nil {
		s.Metrics.ObserveSweep("subscription_expiry", metrics.OutcomeError)
		return nil, err
	}

	var (
		mu   sync.Mutex
		resp = &dto.ExpireSubscriptionsResponse{Expired: []string{}}
	)

	p := pool.New().WithMaxGoroutines(max(s.Config.Subscription.SweepWorkers, 1))
	for _, sub := range due {
		sub := sub
		p.Go(func() {
			expired, err := s.expire(ctx, sub.ID, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.Logger.Errorw("failed to expire subscription", "error", err, "tenant_id", sub.TenantID, "subscription_id", sub.ID)
				resp.Failed = append(resp.Failed, sub.ID)
				return
			}
			if expired {
				resp.Expired = append(resp.Expired, sub.ID)
			}
		})
	}
	p.Wait()

	outcome := metrics.OutcomeSuccess
	if len(resp.Failed) > 0 {
		outcome = metrics.OutcomeError
	}
	s.Metrics.ObserveSweep("subscription_expiry", outcome)
	s.Logger.Infow("subscription expiry sweep finished", "due", len(due), "expired", len(resp.Expired), "failed", len(resp.Failed))
	return resp, nil
}

// expire reports false when the subscription changed under the sweep and is no longer due
func (s *subscriptionService) expire(ctx context.Context, id string, now time.Time) (bool, error) {
	var expired *subscription.Subscription

	err := s.retryOnConflict(ctx, "expire_subscription", map[string]any{"subscription_id": id}, func(attempt int) error {
		current, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !current.IsActive() || !current.IsExpiredAt(now) {
			return nil
		}

		expectedVersion := current.Version
		current.SubscriptionStatus = types.SubscriptionStatusExpired
		if err := s.SubRepo.Update(ctx, current, expectedVersion); err != nil {
			return err
		}
		expired = current
		return nil
	})
	if err != nil || expired == nil {
		return false, err
	}

	s.invalidateTenantCache(ctx, expired.TenantID)
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionExpired, expired)
	return true, nil
}

// getActiveRecord returns the stored active subscription even if its end date passed
func (s *subscriptionService) getActiveRecord(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.GetActiveByTenant(ctx, tenantID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, subscription.NewNotSubscribedError(tenantID)
		}
		return nil, err
	}
	return sub, nil
}

// latest returns the most recent subscription of the tenant in any status, nil if none
func (s *subscriptionService) latest(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	filter := types.NewSubscriptionFilter()
	filter.TenantID = tenantID
	filter.QueryFilter.Limit = lo.ToPtr(1)

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return subs[0], nil
}

func (s *subscriptionService) publishSubscriptionEvent(ctx context.Context, eventName string, sub *subscription.Subscription) {
	s.publishEvent(ctx, eventName, sub.TenantID, webhookDto.SubscriptionEventPayload{
		SubscriptionID:     sub.ID,
		TenantID:           sub.TenantID,
		PlanTier:           sub.PlanTier,
		SubscriptionStatus: sub.SubscriptionStatus,
		EndDate:            sub.EndDate,
	})
}
