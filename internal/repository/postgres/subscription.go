package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/postgres"
	"github.com/deskflow/billing/internal/types"
	"github.com/lib/pq"
)

const subscriptionColumns = `
	id, tenant_id, plan_tier, monthly_limit, current_count, period_start, cycle_days,
	subscription_status, start_date, end_date, cancelled_at, version,
	status, created_at, updated_at, created_by, updated_by`

const activeSubscriptionIndex = "idx_subscriptions_tenant_active"

type subscriptionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{db: db, logger: logger}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	return r.insert(ctx, sub)
}

func (r *subscriptionRepository) insert(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id,
			tenant_id,
			plan_tier,
			monthly_limit,
			current_count,
			period_start,
			cycle_days,
			subscription_status,
			start_date,
			end_date,
			cancelled_at,
			version,
			status,
			created_at,
			updated_at,
			created_by,
			updated_by
		) VALUES (
			:id,
			:tenant_id,
			:plan_tier,
			:monthly_limit,
			:current_count,
			:period_start,
			:cycle_days,
			:subscription_status,
			:start_date,
			:end_date,
			:cancelled_at,
			:version,
			:status,
			:created_at,
			:updated_at,
			:created_by,
			:updated_by
		)
	`

	if sub.Version == 0 {
		sub.Version = 1
	}

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, sub); err != nil {
		if postgres.IsUniqueViolation(err, activeSubscriptionIndex) {
			return ierr.WithError(err).
				WithHint("Tenant already has an active subscription").
				WithReportableDetails(map[string]any{
					"tenant_id": sub.TenantID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			WithReportableDetails(map[string]any{
				"tenant_id": sub.TenantID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE id = $1 AND status = $2`

	var sub subscription.Subscription
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &sub, query, id, types.StatusPublished); err != nil {
		if err == sql.ErrNoRows {
			return nil, subscription.NewNotFoundError(id)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			WithReportableDetails(map[string]any{
				"subscription_id": id,
			}).
			Mark(ierr.ErrDatabase)
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetActiveByTenant(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	return r.getActive(ctx, tenantID, false)
}

func (r *subscriptionRepository) getActive(ctx context.Context, tenantID string, forUpdate bool) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1 AND subscription_status = $2 AND status = $3`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var sub subscription.Subscription
	err := r.db.GetQuerier(ctx).GetContext(ctx, &sub, query,
		tenantID, types.SubscriptionStatusActive, types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("active subscription not found").
				WithHintf("Tenant %s has no active subscription", tenantID).
				WithReportableDetails(map[string]any{
					"tenant_id": tenantID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get active subscription").
			WithReportableDetails(map[string]any{
				"tenant_id": tenantID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return &sub, nil
}

// buildSubscriptionFilter returns the where clause and its positional args
func buildSubscriptionFilter(filter *types.SubscriptionFilter) (string, []interface{}) {
	clauses := []string{"status = $1"}
	args := []interface{}{types.StatusPublished}

	if filter == nil {
		return strings.Join(clauses, " AND "), args
	}
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		clauses = append(clauses, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if filter.PlanTier != "" {
		args = append(args, filter.PlanTier)
		clauses = append(clauses, fmt.Sprintf("plan_tier = $%d", len(args)))
	}
	if len(filter.SubscriptionStatuses) > 0 {
		statuses := make([]string, 0, len(filter.SubscriptionStatuses))
		for _, s := range filter.SubscriptionStatuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, pq.Array(statuses))
		clauses = append(clauses, fmt.Sprintf("subscription_status = ANY($%d)", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func (r *subscriptionRepository) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	where, args := buildSubscriptionFilter(filter)
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where

	order := types.OrderDesc
	if filter != nil && filter.QueryFilter != nil {
		order = filter.GetOrder()
	}
	query += " ORDER BY created_at " + strings.ToUpper(order)

	if filter != nil && !filter.IsUnlimited() {
		args = append(args, filter.GetLimit(), filter.GetOffset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	var subs []*subscription.Subscription
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &subs, query, args...); err != nil {
		r.logger.Errorw("failed to list subscriptions", "error", err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

func (r *subscriptionRepository) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	where, args := buildSubscriptionFilter(filter)
	query := `SELECT COUNT(*) FROM subscriptions WHERE ` + where

	var count int
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &count, query, args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

// CompareAndSwap encodes the version check, the active check and the limit
// check in the precondition of a single UPDATE
func (r *subscriptionRepository) CompareAndSwap(ctx context.Context, sub *subscription.Subscription, expectedVersion int64) error {
	query := `
		UPDATE subscriptions
		SET
			current_count = $1,
			period_start = $2,
			version = version + 1,
			updated_at = $3,
			updated_by = $4
		WHERE
			id = $5 AND
			version = $6 AND
			subscription_status = $7 AND
			status = $8 AND
			(monthly_limit < 0 OR $1 <= monthly_limit)
	`

	now := time.Now().UTC()
	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		sub.CurrentCount,
		sub.PeriodStart,
		now,
		types.GetUserID(ctx),
		sub.ID,
		expectedVersion,
		types.SubscriptionStatusActive,
		types.StatusPublished,
	)
	if err != nil {
		if postgres.IsContention(err) {
			return subscription.NewVersionConflictError(sub.ID, expectedVersion)
		}
		return ierr.WithError(err).
			WithHint("Failed to update subscription usage").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"tenant_id":       sub.TenantID,
			}).
			Mark(ierr.ErrDatabase)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription usage").
			Mark(ierr.ErrDatabase)
	}
	if n == 0 {
		return subscription.NewVersionConflictError(sub.ID, expectedVersion)
	}

	sub.Version = expectedVersion + 1
	sub.UpdatedAt = now
	return nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription, expectedVersion int64) error {
	query := `
		UPDATE subscriptions
		SET
			plan_tier = $1,
			monthly_limit = $2,
			current_count = $3,
			period_start = $4,
			cycle_days = $5,
			subscription_status = $6,
			end_date = $7,
			cancelled_at = $8,
			version = version + 1,
			updated_at = $9,
			updated_by = $10
		WHERE
			id = $11 AND
			version = $12 AND
			status = $13
	`

	now := time.Now().UTC()
	q := r.db.GetQuerier(ctx)
	result, err := q.ExecContext(ctx, query,
		sub.PlanTier,
		sub.MonthlyLimit,
		sub.CurrentCount,
		sub.PeriodStart,
		sub.CycleDays,
		sub.SubscriptionStatus,
		sub.EndDate,
		sub.CancelledAt,
		now,
		types.GetUserID(ctx),
		sub.ID,
		expectedVersion,
		types.StatusPublished,
	)
	if err != nil {
		if postgres.IsContention(err) {
			return subscription.NewVersionConflictError(sub.ID, expectedVersion)
		}
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if n == 0 {
		// No rows were updated, either the record doesn't exist or the version moved
		var exists bool
		if err := q.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1 AND status = $2)`,
			sub.ID, types.StatusPublished); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to check if subscription exists").
				Mark(ierr.ErrDatabase)
		}
		if !exists {
			return subscription.NewNotFoundError(sub.ID)
		}
		return subscription.NewVersionConflictError(sub.ID, expectedVersion)
	}

	sub.Version = expectedVersion + 1
	sub.UpdatedAt = now
	return nil
}

// Activate serialises activations of one tenant on a transaction scoped
// advisory lock, then swaps the active row. The partial unique index on
// active subscriptions backs this up.
func (r *subscriptionRepository) Activate(
	ctx context.Context,
	next *subscription.Subscription,
	replacedStatus types.SubscriptionStatus,
) (*subscription.Subscription, error) {
	return r.activate(ctx, next, replacedStatus, nil)
}

// ReplaceActive checks the locked active row against the version the caller
// read, so usage written in between is never overwritten by a stale copy.
func (r *subscriptionRepository) ReplaceActive(
	ctx context.Context,
	next *subscription.Subscription,
	replacedStatus types.SubscriptionStatus,
	expectedID string,
	expectedVersion int64,
) (*subscription.Subscription, error) {
	return r.activate(ctx, next, replacedStatus, func(current *subscription.Subscription) error {
		if current == nil || current.ID != expectedID || current.Version != expectedVersion {
			return subscription.NewVersionConflictError(expectedID, expectedVersion)
		}
		return nil
	})
}

func (r *subscriptionRepository) activate(
	ctx context.Context,
	next *subscription.Subscription,
	replacedStatus types.SubscriptionStatus,
	check func(current *subscription.Subscription) error,
) (*subscription.Subscription, error) {
	var previous *subscription.Subscription

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.GetQuerier(ctx)
		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, next.TenantID); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to lock tenant subscriptions").
				Mark(ierr.ErrDatabase)
		}

		current, err := r.getActive(ctx, next.TenantID, true)
		if err != nil && !ierr.IsNotFound(err) {
			return err
		}
		if check != nil {
			if err := check(current); err != nil {
				return err
			}
		}

		if current != nil {
			now := time.Now().UTC()
			current.SubscriptionStatus = replacedStatus
			current.CancelledAt = &now
			if err := r.Update(ctx, current, current.Version); err != nil {
				return err
			}
			previous = current
		}

		next.SubscriptionStatus = types.SubscriptionStatusActive
		return r.insert(ctx, next)
	})
	if err != nil {
		if ierr.IsAlreadyExists(err) {
			return nil, subscription.NewVersionConflictError(next.ID, next.Version)
		}
		return nil, err
	}

	r.logger.Infow("activated subscription",
		"tenant_id", next.TenantID,
		"subscription_id", next.ID,
		"plan_tier", next.PlanTier,
		"replaced", previous != nil,
	)
	return previous, nil
}

func (r *subscriptionRepository) ListDueForExpiry(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE
			subscription_status = $1 AND
			status = $2 AND
			end_date IS NOT NULL AND
			end_date <= $3
		ORDER BY end_date ASC`

	var subs []*subscription.Subscription
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &subs, query,
		types.SubscriptionStatusActive, types.StatusPublished, now); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions due for expiry").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}
