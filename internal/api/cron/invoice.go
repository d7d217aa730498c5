package cron

import (
	"net/http"

	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/service"
	"github.com/gin-gonic/gin"
)

// InvoiceHandler exposes the invoice sweeps for external schedulers
type InvoiceHandler struct {
	invoiceService service.InvoiceService
	logger         *logger.Logger
}

func NewInvoiceHandler(invoiceService service.InvoiceService, logger *logger.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
		logger:         logger,
	}
}

func (h *InvoiceHandler) NotifyOverdue(c *gin.Context) {
	response, err := h.invoiceService.NotifyOverdue(c.Request.Context())
	if err != nil {
		h.logger.Errorw("failed to notify overdue invoices", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (h *InvoiceHandler) GenerateCycleInvoices(c *gin.Context) {
	h.logger.Infow("starting cycle invoice generation")

	response, err := h.invoiceService.GenerateCycleInvoices(c.Request.Context())
	if err != nil {
		h.logger.Errorw("failed to generate cycle invoices", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed cycle invoice generation",
		"created", len(response.Created),
		"skipped", len(response.Skipped),
		"failed", len(response.Failed))
	c.JSON(http.StatusOK, response)
}
