package invoice

import (
	"context"
	"time"
)

// InvoiceSequence is the invoice number counter of one calendar period (YYYYMM).
// It is independent of tenants and never derived from issued invoices.
type InvoiceSequence struct {
	Period    string    `db:"period" json:"period"`
	LastValue int64     `db:"last_value" json:"last_value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SequenceRepository owns the per period counters
type SequenceRepository interface {
	// Next atomically increments the counter of period and returns the new
	// value. The first call for a period returns 1.
	Next(ctx context.Context, period string) (int64, error)

	// Current returns the last value handed out for period, 0 if none
	Current(ctx context.Context, period string) (int64, error)
}
