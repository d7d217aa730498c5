package postgres

import (
	"context"
	"database/sql"

	"github.com/deskflow/billing/internal/domain/invoice"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/postgres"
)

type invoiceSequenceRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewInvoiceSequenceRepository(db *postgres.DB, logger *logger.Logger) invoice.SequenceRepository {
	return &invoiceSequenceRepository{db: db, logger: logger}
}

// Next increments the period counter with a single upsert, the row lock taken
// by ON CONFLICT serialises concurrent allocations of the same period only
func (r *invoiceSequenceRepository) Next(ctx context.Context, period string) (int64, error) {
	query := `
		INSERT INTO invoice_sequences (period, last_value, created_at, updated_at)
		VALUES ($1, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (period) DO UPDATE
		SET last_value = invoice_sequences.last_value + 1,
			updated_at = CURRENT_TIMESTAMP
		RETURNING last_value`

	var lastValue int64
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &lastValue, query, period); err != nil {
		if postgres.IsContention(err) {
			return 0, ierr.WithError(err).
				WithHint("Invoice sequence is contended").
				WithReportableDetails(map[string]any{
					"period": period,
				}).
				Mark(ierr.ErrVersionConflict)
		}
		return 0, ierr.WithError(err).
			WithHint("invoice number generation failed").
			WithReportableDetails(map[string]any{
				"period": period,
			}).
			Mark(ierr.ErrDatabase)
	}

	r.logger.Debugw("advanced invoice sequence", "period", period, "sequence", lastValue)
	return lastValue, nil
}

func (r *invoiceSequenceRepository) Current(ctx context.Context, period string) (int64, error) {
	var lastValue int64
	err := r.db.GetQuerier(ctx).GetContext(ctx, &lastValue,
		`SELECT last_value FROM invoice_sequences WHERE period = $1`, period)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, ierr.WithError(err).
			WithHint("Failed to read invoice sequence").
			WithReportableDetails(map[string]any{
				"period": period,
			}).
			Mark(ierr.ErrDatabase)
	}
	return lastValue, nil
}
