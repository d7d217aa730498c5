package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/testutil"
	"github.com/deskflow/billing/internal/types"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/suite"
)

type QuotaServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  QuotaService
	subStore *testutil.InMemorySubscriptionStore
}

func TestQuotaService(t *testing.T) {
	suite.Run(t, new(QuotaServiceSuite))
}

func (s *QuotaServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.subStore = s.GetSubscriptionStore()
	s.service = NewQuotaService(newTestServiceParams(&s.BaseServiceTestSuite, nil))
}

func (s *QuotaServiceSuite) TestEndToEndLastTicket() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierFreemium, func(sub *subscription.Subscription) {
		sub.CurrentCount = 49
	})

	ok, err := s.service.CanCreate(s.GetContext(), "t1")
	s.NoError(err)
	s.True(ok)

	remaining, err := s.service.GetRemaining(s.GetContext(), "t1")
	s.NoError(err)
	s.Equal(int64(1), remaining)

	result, err := s.service.Consume(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(int64(0), result.RemainingAfter)
	s.Equal(int64(50), result.Subscription.CurrentCount)

	_, err = s.service.Consume(s.GetContext(), "t1")
	s.Error(err)
	s.True(ierr.IsLimitReached(err))

	remaining, err = s.service.GetRemaining(s.GetContext(), "t1")
	s.NoError(err)
	s.Equal(int64(0), remaining)

	ok, err = s.service.CanCreate(s.GetContext(), "t1")
	s.NoError(err)
	s.False(ok)

	stored, err := s.subStore.GetActiveByTenant(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(int64(50), stored.CurrentCount)
}

func (s *QuotaServiceSuite) TestConcurrentConsumeNeverOverruns() {
	// every failed write means another caller won, so limit+1 attempts always suffice
	// for the exact 10/40 split
	cfg := *s.GetConfig()
	cfg.Quota.MaxAttempts = 20
	s.service = NewQuotaService(newTestServiceParams(&s.BaseServiceTestSuite, &cfg))

	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.MonthlyLimit = 10
	})

	var allowed, limited, other atomic.Int64
	var wg conc.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Go(func() {
			_, err := s.service.Consume(s.GetContext(), "t1")
			switch {
			case err == nil:
				allowed.Add(1)
			case ierr.IsLimitReached(err):
				limited.Add(1)
			default:
				other.Add(1)
			}
		})
	}
	wg.Wait()

	s.Equal(int64(10), allowed.Load())
	s.Equal(int64(40), limited.Load())
	s.Equal(int64(0), other.Load())

	stored, err := s.subStore.GetActiveByTenant(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(int64(10), stored.CurrentCount)
}

func (s *QuotaServiceSuite) TestConcurrentConsumeAtDefaultAttempts() {
	s.Require().Equal(5, s.GetConfig().Quota.MaxAttempts)
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.MonthlyLimit = 10
	})

	var allowed, limited, transient, other atomic.Int64
	var wg conc.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Go(func() {
			_, err := s.service.Consume(s.GetContext(), "t1")
			switch {
			case err == nil:
				allowed.Add(1)
			case ierr.IsLimitReached(err):
				limited.Add(1)
			case ierr.IsTransient(err):
				transient.Add(1)
			default:
				other.Add(1)
			}
		})
	}
	wg.Wait()

	// a caller may give up under contention, but no write ever passes the limit
	s.LessOrEqual(allowed.Load(), int64(10))
	s.Equal(int64(50), allowed.Load()+limited.Load()+transient.Load())
	s.Equal(int64(0), other.Load())

	stored, err := s.subStore.GetActiveByTenant(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(allowed.Load(), stored.CurrentCount)
}

func (s *QuotaServiceSuite) TestConsumeWithoutSubscription() {
	_, err := s.service.Consume(s.GetContext(), "nobody")
	s.True(ierr.IsNotSubscribed(err))

	_, err = s.service.CanCreate(s.GetContext(), "nobody")
	s.True(ierr.IsNotSubscribed(err))

	_, err = s.service.GetRemaining(s.GetContext(), "nobody")
	s.True(ierr.IsNotSubscribed(err))
}

func (s *QuotaServiceSuite) TestConsumeAfterEndDateFailsClosed() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.EndDate = lo.ToPtr(s.GetNow().Add(time.Hour))
	})

	_, err := s.service.Consume(s.GetContext(), "t1")
	s.NoError(err)

	s.GetClock().Advance(2 * time.Hour)
	_, err = s.service.Consume(s.GetContext(), "t1")
	s.True(ierr.IsNotSubscribed(err))
}

func (s *QuotaServiceSuite) TestConsumeRejectsCorruptedCycle() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.CycleDays = 0
	})

	_, err := s.service.Consume(s.GetContext(), "t1")
	s.True(ierr.IsInvalidState(err))
	s.Equal(0, s.subStore.CASCalls())
}

func (s *QuotaServiceSuite) TestConsumeRollsOverStaleCycle() {
	oldStart := s.GetNow().AddDate(0, 0, -35)
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierFreemium, func(sub *subscription.Subscription) {
		sub.PeriodStart = oldStart
		sub.StartDate = oldStart
		sub.CurrentCount = 42
	})

	result, err := s.service.Consume(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(1, result.CyclesElapsed)
	s.Equal(int64(1), result.Subscription.CurrentCount)

	stored, err := s.subStore.GetActiveByTenant(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(int64(1), stored.CurrentCount)
	s.True(stored.PeriodStart.Equal(oldStart.AddDate(0, 0, 30)))
	s.True(s.GetNow().Before(stored.PeriodEnd()))
	s.Equal(float64(1), promtestutil.ToFloat64(s.GetMetrics().RolloversTotal))
}

func (s *QuotaServiceSuite) TestReadsApplyRolloverWithoutWriting() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierFreemium, func(sub *subscription.Subscription) {
		sub.PeriodStart = s.GetNow().AddDate(0, 0, -31)
		sub.CurrentCount = 50
	})

	ok, err := s.service.CanCreate(s.GetContext(), "t1")
	s.NoError(err)
	s.True(ok)

	quota, err := s.service.GetQuota(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(int64(50), quota.Remaining)
	s.Equal(int64(0), quota.CurrentCount)
	s.Equal(0, s.subStore.CASCalls())

	stored, err := s.subStore.GetActiveByTenant(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(int64(50), stored.CurrentCount)
}

func (s *QuotaServiceSuite) TestRetriesVersionConflicts() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, nil)

	s.subStore.InjectConflicts(2)
	result, err := s.service.Consume(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(int64(1), result.Subscription.CurrentCount)
	s.Equal(3, s.subStore.CASCalls())
	s.Equal(float64(2), promtestutil.ToFloat64(s.GetMetrics().ConflictRetries.WithLabelValues("consume")))
}

func (s *QuotaServiceSuite) TestExhaustedRetriesAreTransient() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, nil)
	attempts := s.GetConfig().Quota.MaxAttempts

	s.subStore.InjectConflicts(attempts)
	_, err := s.service.Consume(s.GetContext(), "t1")
	s.Error(err)
	s.True(ierr.IsTransient(err))
	s.False(ierr.IsVersionConflict(err))
	s.Equal(attempts, s.subStore.CASCalls())

	stored, err := s.subStore.GetActiveByTenant(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(int64(0), stored.CurrentCount)
}

func (s *QuotaServiceSuite) TestUnlimitedPlan() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierEnterprise, func(sub *subscription.Subscription) {
		sub.CurrentCount = 1_000_000
	})

	result, err := s.service.Consume(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(types.UnlimitedRemaining, result.RemainingAfter)

	remaining, err := s.service.GetRemaining(s.GetContext(), "t1")
	s.NoError(err)
	s.Equal(types.UnlimitedRemaining, remaining)
}

func (s *QuotaServiceSuite) TestLimitWarningFiresOncePerCrossing() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierFreemium, func(sub *subscription.Subscription) {
		sub.CurrentCount = 38
	})
	recorder := s.GetWebhookPublisher()

	// 39 of 50 is below the 80% threshold
	_, err := s.service.Consume(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Empty(recorder.WaitForEvents(types.WebhookEventSubscriptionLimitWarning, 1, 50*time.Millisecond))

	// 40 of 50 crosses it
	_, err = s.service.Consume(s.GetContext(), "t1")
	s.Require().NoError(err)
	events := recorder.WaitForEvents(types.WebhookEventSubscriptionLimitWarning, 1, time.Second)
	s.Require().Len(events, 1)
	s.Equal("t1", events[0].TenantID)

	_, err = s.service.Consume(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Len(recorder.WaitForEvents(types.WebhookEventSubscriptionLimitWarning, 2, 50*time.Millisecond), 1)
}

func (s *QuotaServiceSuite) TestDecisionMetrics() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierFreemium, func(sub *subscription.Subscription) {
		sub.CurrentCount = 49
	})

	_, _ = s.service.Consume(s.GetContext(), "t1")
	_, _ = s.service.Consume(s.GetContext(), "t1")
	_, _ = s.service.Consume(s.GetContext(), "nobody")

	m := s.GetMetrics()
	s.Equal(float64(1), promtestutil.ToFloat64(m.QuotaDecisionsTotal.WithLabelValues("freemium", metrics.OutcomeAllowed)))
	s.Equal(float64(1), promtestutil.ToFloat64(m.QuotaDecisionsTotal.WithLabelValues("freemium", metrics.OutcomeLimitReached)))
	s.Equal(float64(1), promtestutil.ToFloat64(m.QuotaDecisionsTotal.WithLabelValues("none", metrics.OutcomeNotSubscribed)))
	s.Equal(float64(0), promtestutil.ToFloat64(m.QuotaDecisionsTotal.WithLabelValues("none", metrics.OutcomeLimitReached)))
}
