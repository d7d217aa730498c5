package service

import (
	"testing"

	"github.com/deskflow/billing/internal/api/dto"
	"github.com/deskflow/billing/internal/domain/subscription"
	"github.com/deskflow/billing/internal/testutil"
	"github.com/deskflow/billing/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestRecommend(t *testing.T) {
	tests := []struct {
		name        string
		tier        types.PlanTier
		usage       float64
		wantAction  types.RecommendationAction
		wantTier    types.PlanTier
		hasBenefits bool
	}{
		{name: "basic at 85 percent", tier: types.PlanTierBasic, usage: 85, wantAction: types.RecommendationActionUpgrade, wantTier: types.PlanTierProfessional, hasBenefits: true},
		{name: "basic at 50 percent", tier: types.PlanTierBasic, usage: 50, wantAction: types.RecommendationActionNoChange},
		{name: "enterprise at 85 percent", tier: types.PlanTierEnterprise, usage: 85, wantAction: types.RecommendationActionNoChange},
		{name: "freemium at threshold", tier: types.PlanTierFreemium, usage: 80, wantAction: types.RecommendationActionUpgrade, wantTier: types.PlanTierBasic, hasBenefits: true},
		{name: "professional just below threshold", tier: types.PlanTierProfessional, usage: 79.9, wantAction: types.RecommendationActionNoChange},
		{name: "professional over the limit", tier: types.PlanTierProfessional, usage: 120, wantAction: types.RecommendationActionUpgrade, wantTier: types.PlanTierEnterprise, hasBenefits: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			in := &dto.UsageAnalytics{PlanTier: tt.tier, UsagePercentage: tt.usage}

			got := Recommend(in)
			assert.Equal(t, tt.wantAction, got.Action)
			assert.Equal(t, tt.wantTier, got.RecommendedTier)
			assert.Equal(t, tt.tier, got.CurrentTier)
			assert.NotEmpty(t, got.Reason)
			if tt.hasBenefits {
				assert.Equal(t, types.PlanCatalog[tt.wantTier].Benefits, got.Benefits)
			} else {
				assert.Empty(t, got.Benefits)
			}

			// identical input, identical output
			assert.Equal(t, got, Recommend(in))
		})
	}
}

func TestRecommendDoesNotShareCatalogBenefits(t *testing.T) {
	got := Recommend(&dto.UsageAnalytics{PlanTier: types.PlanTierBasic, UsagePercentage: 90})
	require.NotEmpty(t, got.Benefits)

	got.Benefits[0] = "changed"
	assert.NotEqual(t, "changed", types.PlanCatalog[types.PlanTierProfessional].Benefits[0])
}

type PlanRecommendationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service PlanRecommendationService
}

func TestPlanRecommendationService(t *testing.T) {
	suite.Run(t, new(PlanRecommendationServiceSuite))
}

func (s *PlanRecommendationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite, nil)
	s.service = NewPlanRecommendationService(params, NewAnalyticsService(params))
}

func (s *PlanRecommendationServiceSuite) TestRecommendationForTenant() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.CurrentCount = 450
	})

	rec, err := s.service.GetRecommendation(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(types.RecommendationActionUpgrade, rec.Action)
	s.Equal(types.PlanTierProfessional, rec.RecommendedTier)
	s.Equal(90.0, rec.UsagePercentage)
}

func (s *PlanRecommendationServiceSuite) TestRecommendationFollowsConsumes() {
	seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.MonthlyLimit = 10
		sub.CurrentCount = 5
	})

	rec, err := s.service.GetRecommendation(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(types.RecommendationActionNoChange, rec.Action)

	quota := NewQuotaService(newTestServiceParams(&s.BaseServiceTestSuite, nil))
	for i := 0; i < 4; i++ {
		_, err := quota.Consume(s.GetContext(), "t1")
		s.Require().NoError(err)
	}

	rec, err = s.service.GetRecommendation(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(types.RecommendationActionUpgrade, rec.Action)
	s.Equal(types.PlanTierProfessional, rec.RecommendedTier)
	s.Equal(90.0, rec.UsagePercentage)
}
