package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository. Writes are
// serialised on mu so the version check and the write happen as one step,
// the way the single UPDATE does in postgres.
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscription.Subscription]
	mu sync.Mutex

	// injectedConflicts makes the next N conditional writes fail
	injectedConflicts int
	casCalls          int
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*subscription.Subscription](),
	}
}

// subscriptionFilterFn implements filtering logic for subscriptions
func subscriptionFilterFn(ctx context.Context, sub *subscription.Subscription, filter interface{}) bool {
	if sub == nil || sub.Status != types.StatusPublished {
		return false
	}

	f, ok := filter.(*types.SubscriptionFilter)
	if !ok || f == nil {
		return true
	}

	if f.TenantID != "" && sub.TenantID != f.TenantID {
		return false
	}

	if f.PlanTier != "" && sub.PlanTier != f.PlanTier {
		return false
	}

	if len(f.SubscriptionStatuses) > 0 && !lo.Contains(f.SubscriptionStatuses, sub.SubscriptionStatus) {
		return false
	}

	return true
}

// subscriptionSortFn orders newest first
func subscriptionSortFn(i, j *subscription.Subscription) bool {
	return i.CreatedAt.After(j.CreatedAt)
}

// InjectConflicts makes the next n CompareAndSwap or Update calls fail with a version conflict
func (s *InMemorySubscriptionStore) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injectedConflicts = n
}

// CASCalls returns how many conditional writes were attempted
func (s *InMemorySubscriptionStore) CASCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casCalls
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(ctx, sub)
}

func (s *InMemorySubscriptionStore) insert(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}

	if sub.IsActive() {
		if _, err := s.activeFor(ctx, sub.TenantID); err == nil {
			return ierr.NewError("tenant already has an active subscription").
				WithHint("Tenant already has an active subscription").
				WithReportableDetails(map[string]any{
					"tenant_id": sub.TenantID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	if sub.Version == 0 {
		sub.Version = 1
	}
	return s.InMemoryStore.Create(ctx, sub.ID, sub.Clone())
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || sub.Status != types.StatusPublished {
		return nil, subscription.NewNotFoundError(id)
	}
	return sub.Clone(), nil
}

func (s *InMemorySubscriptionStore) GetActiveByTenant(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	sub, err := s.activeFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return sub.Clone(), nil
}

func (s *InMemorySubscriptionStore) activeFor(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	filter := &types.SubscriptionFilter{
		QueryFilter:          types.NewNoLimitQueryFilter(),
		TenantID:             tenantID,
		SubscriptionStatuses: []types.SubscriptionStatus{types.SubscriptionStatusActive},
	}
	subs, err := s.InMemoryStore.List(ctx, filter, subscriptionFilterFn, nil)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ierr.NewError("active subscription not found").
			WithHintf("Tenant %s has no active subscription", tenantID).
			WithReportableDetails(map[string]any{
				"tenant_id": tenantID,
			}).
			Mark(ierr.ErrNotFound)
	}
	return subs[0], nil
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	subs, err := s.InMemoryStore.List(ctx, filter, subscriptionFilterFn, subscriptionSortFn)
	if err != nil {
		return nil, err
	}
	return lo.Map(subs, func(sub *subscription.Subscription, _ int) *subscription.Subscription {
		return sub.Clone()
	}), nil
}

func (s *InMemorySubscriptionStore) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	return s.InMemoryStore.Count(ctx, filter, subscriptionFilterFn)
}

func (s *InMemorySubscriptionStore) CompareAndSwap(ctx context.Context, sub *subscription.Subscription, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.checkVersion(ctx, sub.ID, expectedVersion)
	if err != nil {
		return err
	}
	if !current.IsActive() {
		return subscription.NewVersionConflictError(sub.ID, expectedVersion)
	}
	if !current.IsUnlimited() && sub.CurrentCount > current.MonthlyLimit {
		return subscription.NewVersionConflictError(sub.ID, expectedVersion)
	}

	next := current.Clone()
	next.CurrentCount = sub.CurrentCount
	next.PeriodStart = sub.PeriodStart
	return s.write(ctx, sub, next)
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(ctx, sub, expectedVersion)
}

func (s *InMemorySubscriptionStore) update(ctx context.Context, sub *subscription.Subscription, expectedVersion int64) error {
	current, err := s.checkVersion(ctx, sub.ID, expectedVersion)
	if err != nil {
		return err
	}

	next := sub.Clone()
	next.CreatedAt = current.CreatedAt
	next.CreatedBy = current.CreatedBy
	return s.write(ctx, sub, next)
}

// checkVersion returns the stored record if it is still at expectedVersion
func (s *InMemorySubscriptionStore) checkVersion(ctx context.Context, id string, expectedVersion int64) (*subscription.Subscription, error) {
	s.casCalls++
	current, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || current.Status != types.StatusPublished {
		return nil, subscription.NewNotFoundError(id)
	}
	if s.injectedConflicts > 0 {
		s.injectedConflicts--
		return nil, subscription.NewVersionConflictError(id, expectedVersion)
	}
	if current.Version != expectedVersion {
		return nil, subscription.NewVersionConflictError(id, expectedVersion)
	}
	return current, nil
}

// write stores next with the version advanced and reflects it back into sub
func (s *InMemorySubscriptionStore) write(ctx context.Context, sub, next *subscription.Subscription) error {
	now := time.Now().UTC()
	next.Version++
	next.UpdatedAt = now
	next.UpdatedBy = types.GetUserID(ctx)
	if err := s.InMemoryStore.Update(ctx, next.ID, next); err != nil {
		return err
	}
	sub.Version = next.Version
	sub.UpdatedAt = now
	return nil
}

func (s *InMemorySubscriptionStore) Activate(
	ctx context.Context,
	next *subscription.Subscription,
	replacedStatus types.SubscriptionStatus,
) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activate(ctx, next, replacedStatus, nil)
}

func (s *InMemorySubscriptionStore) ReplaceActive(
	ctx context.Context,
	next *subscription.Subscription,
	replacedStatus types.SubscriptionStatus,
	expectedID string,
	expectedVersion int64,
) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activate(ctx, next, replacedStatus, func(current *subscription.Subscription) error {
		if current == nil || current.ID != expectedID || current.Version != expectedVersion {
			return subscription.NewVersionConflictError(expectedID, expectedVersion)
		}
		return nil
	})
}

func (s *InMemorySubscriptionStore) activate(
	ctx context.Context,
	next *subscription.Subscription,
	replacedStatus types.SubscriptionStatus,
	check func(current *subscription.Subscription) error,
) (*subscription.Subscription, error) {
	var previous *subscription.Subscription
	current, err := s.activeFor(ctx, next.TenantID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if check != nil {
		if err := check(current); err != nil {
			return nil, err
		}
	}
	if current != nil {
		previous = current.Clone()
		now := time.Now().UTC()
		previous.SubscriptionStatus = replacedStatus
		previous.CancelledAt = &now
		if err := s.update(ctx, previous, previous.Version); err != nil {
			return nil, err
		}
	}

	next.SubscriptionStatus = types.SubscriptionStatusActive
	if err := s.insert(ctx, next); err != nil {
		return nil, err
	}
	return previous, nil
}

func (s *InMemorySubscriptionStore) ListDueForExpiry(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	filter := &types.SubscriptionFilter{
		QueryFilter:          types.NewNoLimitQueryFilter(),
		SubscriptionStatuses: []types.SubscriptionStatus{types.SubscriptionStatusActive},
	}
	subs, err := s.InMemoryStore.List(ctx, filter, subscriptionFilterFn, subscriptionSortFn)
	if err != nil {
		return nil, err
	}
	due := lo.Filter(subs, func(sub *subscription.Subscription, _ int) bool {
		return sub.IsExpiredAt(now)
	})
	return lo.Map(due, func(sub *subscription.Subscription, _ int) *subscription.Subscription {
		return sub.Clone()
	}), nil
}

// Clear clears the subscription store
func (s *InMemorySubscriptionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InMemoryStore.Clear()
	s.injectedConflicts = 0
	s.casCalls = 0
}
