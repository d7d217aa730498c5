package v1

import (
	"net/http"

	"github.com/deskflow/billing/internal/api/dto"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/service"
	"github.com/deskflow/billing/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

type InvoiceHandler struct {
	service service.InvoiceService
	numbers service.InvoiceNumberService
	clock   clockwork.Clock
	logger  *logger.Logger
}

func NewInvoiceHandler(
	service service.InvoiceService,
	numbers service.InvoiceNumberService,
	clock clockwork.Clock,
	logger *logger.Logger,
) *InvoiceHandler {
	return &InvoiceHandler{
		service: service,
		numbers: numbers,
		clock:   clock,
		logger:  logger,
	}
}

// @Summary Create invoice
// @Description Creates a draft or issued invoice with a freshly allocated invoice number
// @Tags Invoices
// @Accept json
// @Produce json
// @Param invoice body dto.CreateInvoiceRequest true "Invoice details"
// @Success 201 {object} dto.InvoiceResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /invoices [post]
func (h *InvoiceHandler) CreateInvoice(c *gin.Context) {
	var req dto.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.CreateInvoice(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Get invoice
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} dto.InvoiceResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	resp, err := h.service.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get invoice by number
// @Tags Invoices
// @Produce json
// @Param number path string true "Invoice number"
// @Success 200 {object} dto.InvoiceResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /invoices/number/{number} [get]
func (h *InvoiceHandler) GetInvoiceByNumber(c *gin.Context) {
	resp, err := h.service.GetInvoiceByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List invoices
// @Tags Invoices
// @Produce json
// @Param filter query types.InvoiceFilter false "Filter"
// @Success 200 {object} dto.ListInvoicesResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	filter := types.NewInvoiceFilter()
	if err := c.ShouldBindQuery(filter); err != nil {
		h.logger.Errorw("failed to bind query parameters", "error", err)
		c.Error(ierr.WithError(err).WithHint("invalid query parameters").Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Issue invoice
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} dto.InvoiceResponse
// @Failure 400 {object} ierr.ErrorResponse "Invoice is not a draft"
// @Router /invoices/{id}/issue [post]
func (h *InvoiceHandler) IssueInvoice(c *gin.Context) {
	resp, err := h.service.IssueInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Mark invoice paid
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param request body dto.MarkInvoicePaidRequest true "Payment details"
// @Success 200 {object} dto.InvoiceResponse
// @Router /invoices/{id}/pay [post]
func (h *InvoiceHandler) MarkPaid(c *gin.Context) {
	var req dto.MarkInvoicePaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.MarkPaid(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Cancel invoice
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param request body dto.CancelInvoiceRequest true "Cancellation reason"
// @Success 200 {object} dto.InvoiceResponse
// @Router /invoices/{id}/cancel [post]
func (h *InvoiceHandler) CancelInvoice(c *gin.Context) {
	var req dto.CancelInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Cancel(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Record a failed payment attempt
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param request body dto.RecordPaymentFailureRequest true "Failure details"
// @Success 200 {object} dto.InvoiceResponse
// @Router /invoices/{id}/payment-failed [post]
func (h *InvoiceHandler) RecordPaymentFailure(c *gin.Context) {
	var req dto.RecordPaymentFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.RecordPaymentFailure(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Add invoice note
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param request body dto.AddInvoiceNoteRequest true "Note"
// @Success 200 {object} dto.InvoiceResponse
// @Router /invoices/{id}/notes [post]
func (h *InvoiceHandler) AddNote(c *gin.Context) {
	var req dto.AddInvoiceNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.AddNote(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Allocate an invoice number
// @Description Reserves the next number of a YYYYMM period, the current month when no period is given
// @Tags Invoices
// @Accept json
// @Produce json
// @Param request body dto.AllocateInvoiceNumberRequest false "Period"
// @Success 201 {object} dto.AllocateInvoiceNumberResponse
// @Failure 503 {object} ierr.ErrorResponse "Contention, safe to retry"
// @Router /invoice-numbers [post]
func (h *InvoiceHandler) AllocateInvoiceNumber(c *gin.Context) {
	var req dto.AllocateInvoiceNumberRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}

	period := req.Period
	if period == "" {
		period = service.PeriodFor(h.clock.Now())
	}

	number, err := h.numbers.Allocate(c.Request.Context(), period)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, &dto.AllocateInvoiceNumberResponse{
		Period:        period,
		InvoiceNumber: number,
	})
}
