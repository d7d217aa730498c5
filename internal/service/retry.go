package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	ierr "github.com/deskflow/billing/internal/errors"
)

// newConflictBackoff builds the bounded exponential schedule shared by every
// optimistic write loop
func (p ServiceParams) newConflictBackoff(ctx context.Context) backoff.BackOff {
	cfg := p.Config.Quota

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = 0

	attempts := max(cfg.MaxAttempts, 1)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// retryOnConflict runs op until it succeeds, fails with anything other than a
// version conflict, or runs out of attempts. Exhaustion is reported as
// ierr.ErrTransient carrying details.
func (p ServiceParams) retryOnConflict(
	ctx context.Context,
	operation string,
	details map[string]any,
	op func(attempt int) error,
) error {
	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			err := op(attempt)
			if err != nil && !ierr.IsVersionConflict(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		p.newConflictBackoff(ctx),
		func(err error, wait time.Duration) {
			p.Metrics.ObserveConflictRetry(operation)
			p.Logger.Debugw("retrying after version conflict",
				"operation", operation,
				"attempt", attempt,
				"wait", wait,
			)
		},
	)
	if err == nil || !ierr.IsVersionConflict(err) {
		return err
	}

	reported := map[string]any{"operation": operation, "attempts": attempt}
	for k, v := range details {
		reported[k] = v
	}
	p.Logger.Warnw("conflict retries exhausted", "operation", operation, "attempts", attempt, "details", details)
	return ierr.NewErrorf("%s retries exhausted after %d attempts: %s", operation, attempt, err.Error()).
		WithHint("The resource is under heavy contention, please retry").
		WithReportableDetails(reported).
		Mark(ierr.ErrTransient)
}
