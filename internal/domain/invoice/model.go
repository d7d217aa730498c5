package invoice

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Invoice is a billing document for one tenant and one billing period
type Invoice struct {
	// ID is the unique identifier of the invoice
	ID string `db:"id" json:"id"`

	// InvoiceNumber is the sequential display number, PREFIX-YYYYMM-NNNN
	InvoiceNumber string `db:"invoice_number" json:"invoice_number"`

	// TenantID is the billed tenant
	TenantID string `db:"tenant_id" json:"tenant_id"`

	// SubscriptionID is the subscription the invoice was generated for, empty for manual invoices
	SubscriptionID string `db:"subscription_id" json:"subscription_id,omitempty"`

	InvoiceStatus types.InvoiceStatus `db:"invoice_status" json:"invoice_status"`

	// Currency is the three letter lowercase iso code
	Currency string `db:"currency" json:"currency"`

	IssueDate time.Time `db:"issue_date" json:"issue_date"`
	DueDate   time.Time `db:"due_date" json:"due_date"`

	// PeriodStart and PeriodEnd bound the billed cycle
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time `db:"period_end" json:"period_end"`

	// Total is the sum of all line item amounts
	Total decimal.Decimal `db:"total" json:"total"`

	PaymentMethod      *types.PaymentMethod `db:"payment_method" json:"payment_method,omitempty"`
	PaymentReference   *string              `db:"payment_reference" json:"payment_reference,omitempty"`
	PaidAt             *time.Time           `db:"paid_at" json:"paid_at,omitempty"`
	CancelledAt        *time.Time           `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string              `db:"cancellation_reason" json:"cancellation_reason,omitempty"`

	// OverdueNotifiedAt is set once the overdue notification has been emitted
	OverdueNotifiedAt *time.Time `db:"overdue_notified_at" json:"overdue_notified_at,omitempty"`

	// Notes are administrative remarks, appendable in any status
	Notes Notes `db:"notes" json:"notes"`

	// Version is the optimistic concurrency token
	Version int64 `db:"version" json:"version"`

	LineItems []*LineItem `db:"-" json:"line_items"`

	types.BaseModel
}

// Note is an administrative remark attached to an invoice
type Note struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// Notes is stored as a jsonb column
type Notes []Note

// Value implements driver.Valuer
func (n Notes) Value() (driver.Value, error) {
	if n == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(n)
}

// Scan implements sql.Scanner
func (n *Notes) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = Notes{}
		return nil
	case []byte:
		return json.Unmarshal(v, n)
	case string:
		return json.Unmarshal([]byte(v), n)
	default:
		return fmt.Errorf("unsupported notes column type %T", src)
	}
}

// allowedTransitions lists every legal status change, paid and cancelled have none
var allowedTransitions = map[types.InvoiceStatus][]types.InvoiceStatus{
	types.InvoiceStatusDraft:  {types.InvoiceStatusIssued, types.InvoiceStatusCancelled},
	types.InvoiceStatusIssued: {types.InvoiceStatusPaid, types.InvoiceStatusCancelled},
}

// CanTransitionTo returns an error when moving to next would break the lifecycle
func (i *Invoice) CanTransitionTo(next types.InvoiceStatus) error {
	if i.InvoiceStatus.IsTerminal() {
		return ierr.NewError("invoice is in a terminal status").
			WithHintf("Invoice %s is %s and can no longer change", i.InvoiceNumber, i.InvoiceStatus).
			WithReportableDetails(map[string]any{
				"invoice_id":     i.ID,
				"current_status": i.InvoiceStatus,
				"target_status":  next,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	if !lo.Contains(allowedTransitions[i.InvoiceStatus], next) {
		return ierr.NewError("invalid invoice status transition").
			WithHintf("Invoice %s cannot move from %s to %s", i.InvoiceNumber, i.InvoiceStatus, next).
			WithReportableDetails(map[string]any{
				"invoice_id":     i.ID,
				"current_status": i.InvoiceStatus,
				"target_status":  next,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

// Issue moves a draft to issued
func (i *Invoice) Issue(now time.Time) error {
	if err := i.CanTransitionTo(types.InvoiceStatusIssued); err != nil {
		return err
	}
	i.InvoiceStatus = types.InvoiceStatusIssued
	i.IssueDate = now
	return nil
}

// MarkPaid settles an issued invoice
func (i *Invoice) MarkPaid(method types.PaymentMethod, reference string, now time.Time) error {
	if err := i.CanTransitionTo(types.InvoiceStatusPaid); err != nil {
		return err
	}
	i.InvoiceStatus = types.InvoiceStatusPaid
	i.PaymentMethod = lo.ToPtr(method)
	i.PaymentReference = lo.ToPtr(reference)
	i.PaidAt = lo.ToPtr(now)
	return nil
}

// Cancel voids a draft or issued invoice
func (i *Invoice) Cancel(reason string, now time.Time) error {
	if err := i.CanTransitionTo(types.InvoiceStatusCancelled); err != nil {
		return err
	}
	i.InvoiceStatus = types.InvoiceStatusCancelled
	i.CancellationReason = lo.ToPtr(reason)
	i.CancelledAt = lo.ToPtr(now)
	return nil
}

// AddNote appends an administrative note regardless of status
func (i *Invoice) AddNote(text, author string, now time.Time) {
	i.Notes = append(i.Notes, Note{Text: text, CreatedAt: now, CreatedBy: author})
}

// IsOverdue reports whether an issued invoice is past its due date at now
func (i *Invoice) IsOverdue(now time.Time) bool {
	return i.InvoiceStatus == types.InvoiceStatusIssued && now.After(i.DueDate)
}

// RecalculateTotal sets Total to the sum of the line item amounts
func (i *Invoice) RecalculateTotal() {
	i.Total = lo.Reduce(i.LineItems, func(acc decimal.Decimal, item *LineItem, _ int) decimal.Decimal {
		return acc.Add(item.Amount)
	}, decimal.Zero)
}

func (i *Invoice) Validate() error {
	if i.TenantID == "" {
		return ierr.NewError("tenant_id is required").
			WithHint("Invoice must belong to a tenant").
			Mark(ierr.ErrValidation)
	}
	if i.PeriodEnd.Before(i.PeriodStart) {
		return ierr.NewError("period_end must be after period_start").
			WithHint("Invoice billing period is invalid").
			WithReportableDetails(map[string]any{
				"period_start": i.PeriodStart,
				"period_end":   i.PeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}
	if i.DueDate.Before(i.IssueDate) {
		return ierr.NewError("due_date must not be before issue_date").
			WithHint("Invoice due date is invalid").
			Mark(ierr.ErrValidation)
	}
	for _, item := range i.LineItems {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy
func (i *Invoice) Clone() *Invoice {
	if i == nil {
		return nil
	}
	c := *i
	c.Notes = append(Notes(nil), i.Notes...)
	c.LineItems = lo.Map(i.LineItems, func(item *LineItem, _ int) *LineItem {
		cp := *item
		return &cp
	})
	return &c
}
