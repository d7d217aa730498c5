package service

import (
	"github.com/deskflow/billing/internal/cache"
	"github.com/deskflow/billing/internal/config"
	"github.com/deskflow/billing/internal/domain/invoice"
	"github.com/deskflow/billing/internal/domain/subscription"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/metrics"
	webhookPublisher "github.com/deskflow/billing/internal/webhook/publisher"
	"github.com/jonboulle/clockwork"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	Metrics *metrics.Metrics
	Cache   cache.Cache
	Clock   clockwork.Clock

	// Repositories
	SubRepo             subscription.Repository
	InvoiceRepo         invoice.Repository
	InvoiceSequenceRepo invoice.SequenceRepository

	// Publishers
	WebhookPublisher webhookPublisher.WebhookPublisher
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	metrics *metrics.Metrics,
	cache cache.Cache,
	clock clockwork.Clock,
	subRepo subscription.Repository,
	invoiceRepo invoice.Repository,
	invoiceSequenceRepo invoice.SequenceRepository,
	webhookPublisher webhookPublisher.WebhookPublisher,
) ServiceParams {
	return ServiceParams{
		Logger:              logger,
		Config:              config,
		Metrics:             metrics,
		Cache:               cache,
		Clock:               clock,
		SubRepo:             subRepo,
		InvoiceRepo:         invoiceRepo,
		InvoiceSequenceRepo: invoiceSequenceRepo,
		WebhookPublisher:    webhookPublisher,
	}
}
