package repository

import (
	"github.com/deskflow/billing/internal/config"
	"github.com/deskflow/billing/internal/domain/invoice"
	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/postgres"
	"github.com/deskflow/billing/internal/redis"
	memoryRepo "github.com/deskflow/billing/internal/repository/memory"
	postgresRepo "github.com/deskflow/billing/internal/repository/postgres"
	redisRepo "github.com/deskflow/billing/internal/repository/redis"
	"github.com/deskflow/billing/internal/types"
)

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(db, logger)
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return postgresRepo.NewInvoiceRepository(db, logger)
}

// NewInvoiceSequenceRepository returns the counter store selected by
// invoice.sequence_backend. client may be nil unless the redis backend is chosen.
func NewInvoiceSequenceRepository(
	cfg *config.Configuration,
	db *postgres.DB,
	client *redis.Client,
	logger *logger.Logger,
) (invoice.SequenceRepository, error) {
	backend := cfg.Invoice.SequenceBackend
	if err := backend.Validate(); err != nil {
		return nil, err
	}

	logger.Infow("using invoice sequence backend", "backend", backend)

	switch backend {
	case types.SequenceBackendRedis:
		if client == nil {
			return nil, ierr.NewError("redis client is not configured").
				WithHint("Set redis.url to use the redis invoice sequence backend").
				Mark(ierr.ErrValidation)
		}
		return redisRepo.NewInvoiceSequenceRepository(client, logger), nil
	case types.SequenceBackendMemory:
		logger.Warnw("invoice sequences are kept in memory and reset on restart")
		return memoryRepo.NewInvoiceSequenceRepository(), nil
	default:
		return postgresRepo.NewInvoiceSequenceRepository(db, logger), nil
	}
}
