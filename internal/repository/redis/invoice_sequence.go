package redis

import (
	"context"
	"fmt"

	"github.com/deskflow/billing/internal/domain/invoice"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/redis"
	goredis "github.com/go-redis/redis/v8"
)

const sequenceKeyPrefix = "invoice_seq:"

type invoiceSequenceRepository struct {
	client *redis.Client
	logger *logger.Logger
}

// NewInvoiceSequenceRepository keeps one INCR counter per period. Keys never
// expire so a period can not restart at 1.
func NewInvoiceSequenceRepository(client *redis.Client, logger *logger.Logger) invoice.SequenceRepository {
	return &invoiceSequenceRepository{client: client, logger: logger}
}

func sequenceKey(period string) string {
	return fmt.Sprintf("%s%s", sequenceKeyPrefix, period)
}

func (r *invoiceSequenceRepository) Next(ctx context.Context, period string) (int64, error) {
	n, err := r.client.Incr(ctx, sequenceKey(period)).Result()
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("invoice number generation failed").
			WithReportableDetails(map[string]any{
				"period": period,
			}).
			Mark(ierr.ErrDatabase)
	}

	r.logger.Debugw("advanced invoice sequence", "period", period, "sequence", n, "backend", "redis")
	return n, nil
}

func (r *invoiceSequenceRepository) Current(ctx context.Context, period string) (int64, error) {
	n, err := r.client.Get(ctx, sequenceKey(period)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to read invoice sequence").
			WithReportableDetails(map[string]any{
				"period": period,
			}).
			Mark(ierr.ErrDatabase)
	}
	return n, nil
}
