package invoice

import (
	"context"
	"time"

	"github.com/deskflow/billing/internal/types"
)

// Repository is the durable store of invoices and their line items
type Repository interface {
	// Create persists the invoice with its line items. A repeated invoice
	// number returns ierr.ErrDuplicateAllocation.
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)

	// ExistsForPeriod reports whether the subscription already has an invoice
	// for the period starting at periodStart, whatever its status
	ExistsForPeriod(ctx context.Context, subscriptionID string, periodStart time.Time) (bool, error)

	// Update writes status, payment and note fields if the stored invoice is
	// still at inv.Version, then advances inv.Version. A stale write returns
	// ierr.ErrVersionConflict.
	Update(ctx context.Context, inv *Invoice) error

	List(ctx context.Context, filter *types.InvoiceFilter) ([]*Invoice, error)
	Count(ctx context.Context, filter *types.InvoiceFilter) (int, error)
}
