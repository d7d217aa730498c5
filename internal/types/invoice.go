package types

import (
	"time"

	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/samber/lo"
)

// InvoiceStatus represents the current state of an invoice in its lifecycle
type InvoiceStatus string

const (
	// InvoiceStatusDraft indicates invoice is in draft state and can still be modified
	InvoiceStatusDraft InvoiceStatus = "draft"
	// InvoiceStatusIssued indicates invoice has been sent to the tenant and awaits payment
	InvoiceStatusIssued InvoiceStatus = "issued"
	// InvoiceStatusPaid is terminal
	InvoiceStatusPaid InvoiceStatus = "paid"
	// InvoiceStatusCancelled is terminal
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further status transition is allowed
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

func (s InvoiceStatus) Validate() error {
	allowed := []InvoiceStatus{
		InvoiceStatusDraft,
		InvoiceStatusIssued,
		InvoiceStatusPaid,
		InvoiceStatusCancelled,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid invoice status").
			WithHint("Please provide a valid invoice status").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PaymentMethod is the instrument a payment collaborator settled an invoice with
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodWallet       PaymentMethod = "wallet"
	PaymentMethodOffline      PaymentMethod = "offline"
)

func (m PaymentMethod) Validate() error {
	allowed := []PaymentMethod{
		PaymentMethodCard,
		PaymentMethodBankTransfer,
		PaymentMethodWallet,
		PaymentMethodOffline,
	}
	if !lo.Contains(allowed, m) {
		return ierr.NewError("invalid payment method").
			WithHint("Please provide a valid payment method").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// InvoicePeriodLayout is the layout of invoice numbering periods (YYYYMM)
const InvoicePeriodLayout = "200601"

// InvoicePeriodFor returns the numbering period containing t
func InvoicePeriodFor(t time.Time) string {
	return t.UTC().Format(InvoicePeriodLayout)
}

// ValidateInvoicePeriod checks that period is a calendar month in YYYYMM form
func ValidateInvoicePeriod(period string) error {
	if _, err := time.Parse(InvoicePeriodLayout, period); err != nil || len(period) != len(InvoicePeriodLayout) {
		return ierr.NewError("invalid invoice period").
			WithHintf("Invoice period %q must be formatted as YYYYMM", period).
			WithReportableDetails(map[string]any{
				"period": period,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// InvoiceFilter represents the filter options for listing invoices
type InvoiceFilter struct {
	*QueryFilter

	// TenantID restricts results to invoices of one tenant
	TenantID string `json:"tenant_id,omitempty" form:"tenant_id"`

	// SubscriptionID filters invoices generated for a specific subscription
	SubscriptionID string `json:"subscription_id,omitempty" form:"subscription_id"`

	// InvoiceStatus filters by lifecycle state, any of the listed states match
	InvoiceStatus []InvoiceStatus `json:"invoice_status,omitempty" form:"invoice_status"`

	// DueBefore restricts results to invoices due strictly before the given instant
	DueBefore *time.Time `json:"due_before,omitempty" form:"due_before"`

	// OverdueUnnotified only returns invoices whose overdue notification has not been sent
	OverdueUnnotified bool `json:"-" form:"-"`
}

// NewInvoiceFilter creates a new invoice filter with default options
func NewInvoiceFilter() *InvoiceFilter {
	return &InvoiceFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

// NewNoLimitInvoiceFilter creates a new invoice filter without pagination
func NewNoLimitInvoiceFilter() *InvoiceFilter {
	return &InvoiceFilter{
		QueryFilter: NewNoLimitQueryFilter(),
	}
}

func (f *InvoiceFilter) Validate() error {
	if f == nil {
		return nil
	}
	if f.QueryFilter != nil {
		if err := f.QueryFilter.Validate(); err != nil {
			return err
		}
	}
	for _, status := range f.InvoiceStatus {
		if err := status.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetLimit implements pagination for the filter
func (f *InvoiceFilter) GetLimit() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetLimit()
	}
	return f.QueryFilter.GetLimit()
}

// GetOffset implements pagination for the filter
func (f *InvoiceFilter) GetOffset() int {
	if f.QueryFilter == nil {
		return 0
	}
	return f.QueryFilter.GetOffset()
}

func (f *InvoiceFilter) IsUnlimited() bool {
	if f.QueryFilter == nil {
		return false
	}
	return f.QueryFilter.IsUnlimited()
}
