package service

import (
	"context"
	"fmt"

	"github.com/deskflow/billing/internal/api/dto"
	"github.com/deskflow/billing/internal/cache"
	"github.com/deskflow/billing/internal/types"
)

// Recommend suggests the next tier up once usage reaches the recommendation
// threshold. The result depends on the analytics input only.
func Recommend(analytics *dto.UsageAnalytics) *dto.PlanRecommendation {
	rec := &dto.PlanRecommendation{
		Action:          types.RecommendationActionNoChange,
		CurrentTier:     analytics.PlanTier,
		UsagePercentage: analytics.UsagePercentage,
	}

	if analytics.UsagePercentage < types.RecommendationUsageThreshold {
		rec.Reason = fmt.Sprintf("Usage is %.1f%% of the %s plan limit", analytics.UsagePercentage, analytics.PlanTier)
		return rec
	}

	next, ok := analytics.PlanTier.Next()
	if !ok {
		rec.Reason = fmt.Sprintf("The %s plan is already the highest tier", analytics.PlanTier)
		return rec
	}

	def := types.PlanCatalog[next]
	rec.Action = types.RecommendationActionUpgrade
	rec.RecommendedTier = next
	rec.Reason = fmt.Sprintf("Usage is %.1f%% of the %s plan limit, %s gives more headroom",
		analytics.UsagePercentage, analytics.PlanTier, def.DisplayName)
	rec.Benefits = append([]string(nil), def.Benefits...)
	return rec
}

type PlanRecommendationService interface {
	GetRecommendation(ctx context.Context, tenantID string) (*dto.PlanRecommendation, error)
}

type planRecommendationService struct {
	ServiceParams
	analytics AnalyticsService
}

func NewPlanRecommendationService(params ServiceParams, analytics AnalyticsService) PlanRecommendationService {
	return &planRecommendationService{
		ServiceParams: params,
		analytics:     analytics,
	}
}

func (s *planRecommendationService) GetRecommendation(ctx context.Context, tenantID string) (*dto.PlanRecommendation, error) {
	key := cache.GenerateKey(cache.PrefixRecommendation, tenantID, "current")
	if s.Cache != nil {
		if cached, ok := s.Cache.Get(ctx, key); ok {
			if rec, ok := cached.(*dto.PlanRecommendation); ok {
				return rec, nil
			}
		}
	}

	report, err := s.analytics.GetUsageAnalytics(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}

	rec := Recommend(report)
	if s.Cache != nil {
		s.Cache.Set(ctx, key, rec, 0)
	}
	return rec, nil
}
