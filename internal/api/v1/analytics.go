package v1

import (
	"net/http"
	"strconv"

	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type AnalyticsHandler struct {
	analytics       service.AnalyticsService
	recommendations service.PlanRecommendationService
	log             *logger.Logger
}

func NewAnalyticsHandler(
	analytics service.AnalyticsService,
	recommendations service.PlanRecommendationService,
	log *logger.Logger,
) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics:       analytics,
		recommendations: recommendations,
		log:             log,
	}
}

// @Summary Get usage analytics
// @Description Usage percentage, remaining tickets and subscription health of a tenant
// @Tags Analytics
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param tickets_in_range query int false "Ticket count of the reporting range, the current cycle count when omitted"
// @Success 200 {object} dto.UsageAnalytics
// @Failure 402 {object} ierr.ErrorResponse
// @Router /tenants/{tenant_id}/analytics/usage [get]
func (h *AnalyticsHandler) GetUsageAnalytics(c *gin.Context) {
	var ticketsInRange *int64
	if raw := c.Query("tickets_in_range"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			c.Error(ierr.NewError("tickets_in_range must be a non-negative integer").
				WithHint("Please provide a valid ticket count").
				WithReportableDetails(map[string]any{
					"tickets_in_range": raw,
				}).
				Mark(ierr.ErrValidation))
			return
		}
		ticketsInRange = lo.ToPtr(n)
	}

	resp, err := h.analytics.GetUsageAnalytics(c.Request.Context(), c.Param("tenant_id"), ticketsInRange)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get plan recommendation
// @Tags Analytics
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Success 200 {object} dto.PlanRecommendation
// @Router /tenants/{tenant_id}/analytics/recommendation [get]
func (h *AnalyticsHandler) GetRecommendation(c *gin.Context) {
	resp, err := h.recommendations.GetRecommendation(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
