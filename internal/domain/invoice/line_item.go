package invoice

import (
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/types"
	"github.com/shopspring/decimal"
)

// LineItem is one charge on an invoice
type LineItem struct {
	ID          string          `db:"id" json:"id"`
	InvoiceID   string          `db:"invoice_id" json:"invoice_id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	Description string          `db:"description" json:"description"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	UnitAmount  decimal.Decimal `db:"unit_amount" json:"unit_amount"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	types.BaseModel
}

// NewLineItem builds a line item with Amount = quantity * unit amount
func NewLineItem(description string, quantity, unitAmount decimal.Decimal) *LineItem {
	return &LineItem{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM),
		Description: description,
		Quantity:    quantity,
		UnitAmount:  unitAmount,
		Amount:      quantity.Mul(unitAmount),
	}
}

func (l *LineItem) Validate() error {
	if l.Description == "" {
		return ierr.NewError("line item description is required").
			WithHint("Every invoice line item needs a description").
			Mark(ierr.ErrValidation)
	}
	if l.Quantity.IsNegative() || l.UnitAmount.IsNegative() {
		return ierr.NewError("line item amounts must not be negative").
			WithHint("Quantity and unit amount must be zero or greater").
			WithReportableDetails(map[string]any{
				"quantity":    l.Quantity.String(),
				"unit_amount": l.UnitAmount.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
