package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/deskflow/billing/internal/domain/invoice"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/postgres"
	"github.com/deskflow/billing/internal/types"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

const invoiceColumns = `
	id, invoice_number, tenant_id, subscription_id, invoice_status, currency,
	issue_date, due_date, period_start, period_end, total,
	payment_method, payment_reference, paid_at, cancelled_at, cancellation_reason,
	overdue_notified_at, notes, version,
	status, created_at, updated_at, created_by, updated_by`

const lineItemColumns = `
	id, invoice_id, tenant_id, description, quantity, unit_amount, amount,
	status, created_at, updated_at, created_by, updated_by`

const (
	invoiceNumberConstraint = "invoices_invoice_number_key"
	cycleInvoiceIndex       = "idx_invoices_subscription_period"
)

type invoiceRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{db: db, logger: logger}
}

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	invoiceQuery := `
		INSERT INTO invoices (
			id, invoice_number, tenant_id, subscription_id, invoice_status, currency,
			issue_date, due_date, period_start, period_end, total,
			payment_method, payment_reference, paid_at, cancelled_at, cancellation_reason,
			overdue_notified_at, notes, version,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :invoice_number, :tenant_id, :subscription_id, :invoice_status, :currency,
			:issue_date, :due_date, :period_start, :period_end, :total,
			:payment_method, :payment_reference, :paid_at, :cancelled_at, :cancellation_reason,
			:overdue_notified_at, :notes, :version,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`
	lineItemQuery := `
		INSERT INTO invoice_line_items (
			id, invoice_id, tenant_id, description, quantity, unit_amount, amount,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :invoice_id, :tenant_id, :description, :quantity, :unit_amount, :amount,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if inv.Version == 0 {
		inv.Version = 1
	}
	if inv.Notes == nil {
		inv.Notes = invoice.Notes{}
	}

	return r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.GetQuerier(ctx)
		if _, err := q.NamedExecContext(ctx, invoiceQuery, inv); err != nil {
			if postgres.IsUniqueViolation(err, invoiceNumberConstraint) {
				r.logger.Errorw("invoice number issued twice",
					"invoice_number", inv.InvoiceNumber,
					"tenant_id", inv.TenantID,
				)
				return invoice.NewDuplicateNumberError(err, inv.InvoiceNumber)
			}
			if postgres.IsUniqueViolation(err, cycleInvoiceIndex) {
				return ierr.WithError(err).
					WithHint("The billing period of this subscription has already been invoiced").
					WithReportableDetails(map[string]any{
						"subscription_id": inv.SubscriptionID,
						"period_start":    inv.PeriodStart,
					}).
					Mark(ierr.ErrAlreadyExists)
			}
			return ierr.WithError(err).
				WithHint("Failed to create invoice").
				WithReportableDetails(map[string]any{
					"tenant_id":      inv.TenantID,
					"invoice_number": inv.InvoiceNumber,
				}).
				Mark(ierr.ErrDatabase)
		}

		for _, item := range inv.LineItems {
			item.InvoiceID = inv.ID
			item.TenantID = inv.TenantID
			if item.BaseModel.Status == "" {
				item.BaseModel = inv.BaseModel
			}
			if _, err := q.NamedExecContext(ctx, lineItemQuery, item); err != nil {
				return ierr.WithError(err).
					WithHint("Failed to create invoice line item").
					WithReportableDetails(map[string]any{
						"invoice_id": inv.ID,
					}).
					Mark(ierr.ErrDatabase)
			}
		}
		return nil
	})
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	return r.getBy(ctx, "id", id)
}

func (r *invoiceRepository) GetByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	return r.getBy(ctx, "invoice_number", number)
}

func (r *invoiceRepository) ExistsForPeriod(ctx context.Context, subscriptionID string, periodStart time.Time) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM invoices
		WHERE subscription_id = $1 AND period_start = $2 AND status = $3
	)`

	var exists bool
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &exists, query,
		subscriptionID, periodStart.UTC(), types.StatusPublished); err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to check billing period invoices").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
				"period_start":    periodStart,
			}).
			Mark(ierr.ErrDatabase)
	}
	return exists, nil
}

func (r *invoiceRepository) getBy(ctx context.Context, column, value string) (*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + column + ` = $1 AND status = $2`

	var inv invoice.Invoice
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &inv, query, value, types.StatusPublished); err != nil {
		if err == sql.ErrNoRows {
			return nil, invoice.NewNotFoundError(value)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice").
			WithReportableDetails(map[string]any{
				column: value,
			}).
			Mark(ierr.ErrDatabase)
	}

	if err := r.loadLineItems(ctx, []*invoice.Invoice{&inv}); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) loadLineItems(ctx context.Context, invoices []*invoice.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}

	ids := lo.Map(invoices, func(inv *invoice.Invoice, _ int) string { return inv.ID })
	query := `SELECT ` + lineItemColumns + `
		FROM invoice_line_items
		WHERE invoice_id = ANY($1) AND status = $2
		ORDER BY created_at ASC, id ASC`

	var items []*invoice.LineItem
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &items, query, pq.Array(ids), types.StatusPublished); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to load invoice line items").
			Mark(ierr.ErrDatabase)
	}

	byInvoice := lo.GroupBy(items, func(item *invoice.LineItem) string { return item.InvoiceID })
	for _, inv := range invoices {
		inv.LineItems = byInvoice[inv.ID]
	}
	return nil
}

func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	query := `
		UPDATE invoices
		SET
			invoice_status = $1,
			issue_date = $2,
			due_date = $3,
			total = $4,
			payment_method = $5,
			payment_reference = $6,
			paid_at = $7,
			cancelled_at = $8,
			cancellation_reason = $9,
			overdue_notified_at = $10,
			notes = $11,
			version = version + 1,
			updated_at = $12,
			updated_by = $13
		WHERE
			id = $14 AND
			version = $15 AND
			status = $16
	`

	now := time.Now().UTC()
	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		inv.InvoiceStatus,
		inv.IssueDate,
		inv.DueDate,
		inv.Total,
		inv.PaymentMethod,
		inv.PaymentReference,
		inv.PaidAt,
		inv.CancelledAt,
		inv.CancellationReason,
		inv.OverdueNotifiedAt,
		inv.Notes,
		now,
		types.GetUserID(ctx),
		inv.ID,
		inv.Version,
		types.StatusPublished,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update invoice").
			WithReportableDetails(map[string]any{
				"invoice_id": inv.ID,
			}).
			Mark(ierr.ErrDatabase)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to update invoice").Mark(ierr.ErrDatabase)
	}
	if n == 0 {
		return invoice.NewVersionConflictError(inv.ID, inv.Version)
	}

	inv.Version++
	inv.UpdatedAt = now
	return nil
}

func buildInvoiceFilter(filter *types.InvoiceFilter) (string, []interface{}) {
	clauses := []string{"status = $1"}
	args := []interface{}{types.StatusPublished}

	if filter == nil {
		return strings.Join(clauses, " AND "), args
	}
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		clauses = append(clauses, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if filter.SubscriptionID != "" {
		args = append(args, filter.SubscriptionID)
		clauses = append(clauses, fmt.Sprintf("subscription_id = $%d", len(args)))
	}
	if len(filter.InvoiceStatus) > 0 {
		statuses := lo.Map(filter.InvoiceStatus, func(s types.InvoiceStatus, _ int) string { return string(s) })
		args = append(args, pq.Array(statuses))
		clauses = append(clauses, fmt.Sprintf("invoice_status = ANY($%d)", len(args)))
	}
	if filter.DueBefore != nil {
		args = append(args, *filter.DueBefore)
		clauses = append(clauses, fmt.Sprintf("due_date < $%d", len(args)))
	}
	if filter.OverdueUnnotified {
		clauses = append(clauses, "overdue_notified_at IS NULL")
	}
	return strings.Join(clauses, " AND "), args
}

func (r *invoiceRepository) List(ctx context.Context, filter *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	where, args := buildInvoiceFilter(filter)
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + where

	order := types.OrderDesc
	if filter != nil && filter.QueryFilter != nil {
		order = filter.GetOrder()
	}
	query += " ORDER BY created_at " + strings.ToUpper(order)

	if filter != nil && !filter.IsUnlimited() {
		args = append(args, filter.GetLimit(), filter.GetOffset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	var invoices []*invoice.Invoice
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &invoices, query, args...); err != nil {
		r.logger.Errorw("failed to list invoices", "error", err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices").
			Mark(ierr.ErrDatabase)
	}

	if err := r.loadLineItems(ctx, invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *invoiceRepository) Count(ctx context.Context, filter *types.InvoiceFilter) (int, error) {
	where, args := buildInvoiceFilter(filter)

	var count int
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &count, `SELECT COUNT(*) FROM invoices WHERE `+where, args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count invoices").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}
