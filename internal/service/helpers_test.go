package service

import (
	"github.com/deskflow/billing/internal/config"
	"github.com/deskflow/billing/internal/domain/subscription"
	"github.com/deskflow/billing/internal/testutil"
	"github.com/deskflow/billing/internal/types"
)

// newTestServiceParams wires the base suite's fakes into ServiceParams. cfg
// overrides the suite config when set.
func newTestServiceParams(s *testutil.BaseServiceTestSuite, cfg *config.Configuration) ServiceParams {
	if cfg == nil {
		cfg = s.GetConfig()
	}
	stores := s.GetStores()
	return NewServiceParams(
		s.GetLogger(),
		cfg,
		s.GetMetrics(),
		s.GetCache(),
		s.GetClock(),
		stores.SubscriptionRepo,
		stores.InvoiceRepo,
		stores.InvoiceSequenceRepo,
		s.GetWebhookPublisher(),
	)
}

// seedSubscription stores an active subscription of tier for tenantID and returns it
func seedSubscription(s *testutil.BaseServiceTestSuite, tenantID string, tier types.PlanTier, mutate func(sub *subscription.Subscription)) *subscription.Subscription {
	sub := testutil.NewTestSubscription(s.GetContext(), tenantID, tier, s.GetNow())
	if mutate != nil {
		mutate(sub)
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))
	return sub
}
