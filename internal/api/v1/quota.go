package v1

import (
	"net/http"

	"github.com/deskflow/billing/internal/api/dto"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/service"
	"github.com/gin-gonic/gin"
)

type QuotaHandler struct {
	quota   service.QuotaService
	billing service.BillingCycleService
	log     *logger.Logger
}

func NewQuotaHandler(quota service.QuotaService, billing service.BillingCycleService, log *logger.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:   quota,
		billing: billing,
		log:     log,
	}
}

// @Summary Consume one ticket of quota
// @Description Records one ticket creation against the tenant quota, rolling the billing cycle over first when it has ended
// @Tags Quota
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Success 200 {object} dto.QuotaResponse
// @Failure 402 {object} ierr.ErrorResponse "No usable subscription"
// @Failure 429 {object} ierr.ErrorResponse "Monthly ticket limit reached"
// @Failure 503 {object} ierr.ErrorResponse "Contention, safe to retry"
// @Router /tenants/{tenant_id}/quota/consume [post]
func (h *QuotaHandler) Consume(c *gin.Context) {
	result, err := h.quota.Consume(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, service.NewConsumeResponse(result))
}

// @Summary Get quota
// @Tags Quota
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Success 200 {object} dto.QuotaResponse
// @Router /tenants/{tenant_id}/quota [get]
func (h *QuotaHandler) GetQuota(c *gin.Context) {
	resp, err := h.quota.GetQuota(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Check whether a ticket can be created
// @Tags Quota
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Success 200 {object} map[string]bool
// @Router /tenants/{tenant_id}/quota/can-create [get]
func (h *QuotaHandler) CanCreate(c *gin.Context) {
	allowed, err := h.quota.CanCreate(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// @Summary Get remaining tickets in the current cycle
// @Tags Quota
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Success 200 {object} map[string]int64
// @Router /tenants/{tenant_id}/quota/remaining [get]
func (h *QuotaHandler) GetRemaining(c *gin.Context) {
	remaining, err := h.quota.GetRemaining(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"remaining": remaining})
}

// @Summary Roll the billing cycle over when it has ended
// @Tags Quota
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Success 200 {object} dto.RolloverResponse
// @Router /tenants/{tenant_id}/quota/rollover [post]
func (h *QuotaHandler) Rollover(c *gin.Context) {
	result, err := h.billing.RolloverIfDue(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, &dto.RolloverResponse{
		TenantID:      result.Subscription.TenantID,
		RolledOver:    result.RolledOver,
		CyclesElapsed: result.CyclesElapsed,
		PeriodStart:   result.Subscription.PeriodStart,
		PeriodEnd:     result.Subscription.PeriodEnd(),
	})
}
