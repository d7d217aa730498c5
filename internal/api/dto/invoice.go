package dto

import (
	"time"

	"github.com/deskflow/billing/internal/domain/invoice"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/types"
	"github.com/deskflow/billing/internal/validator"
	"github.com/shopspring/decimal"
)

type CreateInvoiceLineItemRequest struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
}

type CreateInvoiceRequest struct {
	// tenant_id is the billed tenant
	TenantID string `json:"tenant_id" validate:"required"`

	// subscription_id is the optional subscription the invoice belongs to
	SubscriptionID string `json:"subscription_id,omitempty"`

	// currency is the three letter iso code, the configured default applies when empty
	Currency string `json:"currency,omitempty" validate:"omitempty,len=3"`

	// period_start and period_end bound the billed period
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required"`

	// due_date defaults to issue date plus the configured due days
	DueDate *time.Time `json:"due_date,omitempty"`

	// issue creates the invoice directly in the issued status
	Issue bool `json:"issue,omitempty"`

	LineItems []CreateInvoiceLineItemRequest `json:"line_items" validate:"required,min=1,dive"`

	Notes string `json:"notes,omitempty"`
}

func (r *CreateInvoiceRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.PeriodEnd.Before(r.PeriodStart) {
		return ierr.NewError("period_end must be after period_start").
			WithHint("Invoice billing period is invalid").
			WithReportableDetails(map[string]any{
				"period_start": r.PeriodStart,
				"period_end":   r.PeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}
	for _, item := range r.LineItems {
		if item.Quantity.IsNegative() || item.UnitAmount.IsNegative() {
			return ierr.NewError("line item amounts must not be negative").
				WithHint("Quantity and unit amount must be zero or greater").
				WithReportableDetails(map[string]any{
					"description": item.Description,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

type MarkInvoicePaidRequest struct {
	PaymentMethod    types.PaymentMethod `json:"payment_method" validate:"required"`
	PaymentReference string              `json:"payment_reference" validate:"required"`
}

func (r *MarkInvoicePaidRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return r.PaymentMethod.Validate()
}

type CancelInvoiceRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (r *CancelInvoiceRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type RecordPaymentFailureRequest struct {
	PaymentMethod types.PaymentMethod `json:"payment_method,omitempty"`
	Reason        string              `json:"reason" validate:"required"`
}

func (r *RecordPaymentFailureRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.PaymentMethod != "" {
		return r.PaymentMethod.Validate()
	}
	return nil
}

type AddInvoiceNoteRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

func (r *AddInvoiceNoteRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type InvoiceResponse struct {
	*invoice.Invoice

	// overdue is true for issued invoices past their due date
	Overdue bool `json:"overdue"`
}

func NewInvoiceResponse(inv *invoice.Invoice, now time.Time) *InvoiceResponse {
	return &InvoiceResponse{
		Invoice: inv,
		Overdue: inv.IsOverdue(now),
	}
}

type ListInvoicesResponse = types.ListResponse[*InvoiceResponse]

// NotifyOverdueResponse summarises one overdue sweep
type NotifyOverdueResponse struct {
	Notified []string `json:"notified"`
	Failed   []string `json:"failed,omitempty"`
}

// GenerateCycleInvoicesResponse summarises one billing cycle invoicing run
type GenerateCycleInvoicesResponse struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}
