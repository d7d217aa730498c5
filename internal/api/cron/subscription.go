package cron

import (
	"net/http"

	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/service"
	"github.com/gin-gonic/gin"
)

// SubscriptionHandler exposes the subscription sweeps for external schedulers
type SubscriptionHandler struct {
	subscriptionService service.SubscriptionService
	logger              *logger.Logger
}

func NewSubscriptionHandler(subscriptionService service.SubscriptionService, logger *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		logger:              logger,
	}
}

func (h *SubscriptionHandler) ExpireDue(c *gin.Context) {
	response, err := h.subscriptionService.ExpireDue(c.Request.Context())
	if err != nil {
		h.logger.Errorw("failed to expire subscriptions", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response)
}
