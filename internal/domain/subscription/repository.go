package subscription

import (
	"context"
	"time"

	"github.com/deskflow/billing/internal/types"
)

// Repository is the durable store of tenant subscriptions
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)

	// GetActiveByTenant returns the single active subscription of the tenant,
	// ierr.ErrNotFound when the tenant has none
	GetActiveByTenant(ctx context.Context, tenantID string) (*Subscription, error)

	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error)

	// CompareAndSwap writes sub only if the stored record is still at
	// expectedVersion, still active, and the new count does not exceed the
	// stored limit. On success sub.Version is advanced. Any failed
	// precondition returns ierr.ErrVersionConflict.
	CompareAndSwap(ctx context.Context, sub *Subscription, expectedVersion int64) error

	// Update rewrites lifecycle fields (status, end date, plan) under the same
	// version check as CompareAndSwap, without the active or limit guards.
	Update(ctx context.Context, sub *Subscription, expectedVersion int64) error

	// Activate replaces the tenant's active subscription with next in one
	// atomic step. The previous active subscription, if any, is marked with
	// replacedStatus and returned.
	Activate(ctx context.Context, next *Subscription, replacedStatus types.SubscriptionStatus) (*Subscription, error)

	// ReplaceActive is Activate with a precondition: the tenant's active
	// subscription must still be expectedID at expectedVersion, otherwise
	// nothing is written and ierr.ErrVersionConflict is returned.
	ReplaceActive(ctx context.Context, next *Subscription, replacedStatus types.SubscriptionStatus, expectedID string, expectedVersion int64) (*Subscription, error)

	// ListDueForExpiry returns active subscriptions whose end date is at or before now
	ListDueForExpiry(ctx context.Context, now time.Time) ([]*Subscription, error)
}
