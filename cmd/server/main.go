package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/deskflow/billing/internal/api"
	apiCron "github.com/deskflow/billing/internal/api/cron"
	v1 "github.com/deskflow/billing/internal/api/v1"
	"github.com/deskflow/billing/internal/cache"
	"github.com/deskflow/billing/internal/config"
	"github.com/deskflow/billing/internal/cron"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/postgres"
	"github.com/deskflow/billing/internal/pubsub"
	"github.com/deskflow/billing/internal/pubsub/kafka"
	"github.com/deskflow/billing/internal/pubsub/memory"
	"github.com/deskflow/billing/internal/redis"
	"github.com/deskflow/billing/internal/repository"
	"github.com/deskflow/billing/internal/service"
	"github.com/deskflow/billing/internal/types"
	"github.com/deskflow/billing/internal/validator"
	webhookPublisher "github.com/deskflow/billing/internal/webhook/publisher"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Clock and metrics
			provideClock,
			provideMetrics,

			// Cache
			provideCache,

			// Stores
			providePostgres,
			provideRedis,

			// Notifications
			providePubSub,
			webhookPublisher.NewPublisher,

			// Repositories
			repository.NewSubscriptionRepository,
			repository.NewInvoiceRepository,
			repository.NewInvoiceSequenceRepository,
		),
	)

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,

			service.NewBillingCycleService,
			service.NewQuotaService,
			service.NewSubscriptionService,
			service.NewAnalyticsService,
			service.NewPlanRecommendationService,
			service.NewInvoiceNumberService,
			service.NewInvoiceService,
		),
	)

	// API and scheduler
	opts = append(opts,
		fx.Provide(
			provideHandlers,
			api.NewRouter,
			cron.NewScheduler,
		),
		fx.Invoke(
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

func provideMetrics() *metrics.Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewMetrics(registry)
}

func provideCache(cfg *config.Configuration, log *logger.Logger) cache.Cache {
	return cache.NewInMemoryCache(cfg, log)
}

func providePostgres(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (*postgres.DB, error) {
	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			db.Close()
			return nil
		},
	})
	return db, nil
}

// provideRedis connects only when a component needs redis, otherwise it returns nil
func provideRedis(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (*redis.Client, error) {
	if cfg.Invoice.SequenceBackend != types.SequenceBackendRedis {
		return nil, nil
	}
	client, err := redis.NewClient(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func providePubSub(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	var (
		ps  pubsub.PubSub
		err error
	)
	switch cfg.Webhook.PubSub {
	case types.KafkaPubSub:
		ps, err = kafka.NewPubSub(cfg, log)
		if err != nil {
			return nil, err
		}
	default:
		ps = memory.NewPubSub(log)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ps.Close()
		},
	})
	return ps, nil
}

func provideHandlers(
	db *postgres.DB,
	redisClient *redis.Client,
	clock clockwork.Clock,
	log *logger.Logger,
	quotaService service.QuotaService,
	billingCycleService service.BillingCycleService,
	subscriptionService service.SubscriptionService,
	analyticsService service.AnalyticsService,
	recommendationService service.PlanRecommendationService,
	invoiceService service.InvoiceService,
	invoiceNumberService service.InvoiceNumberService,
) api.Handlers {
	return api.Handlers{
		Health:           v1.NewHealthHandler(db, redisClient, clock, log),
		Quota:            v1.NewQuotaHandler(quotaService, billingCycleService, log),
		Subscription:     v1.NewSubscriptionHandler(subscriptionService, log),
		Analytics:        v1.NewAnalyticsHandler(analyticsService, recommendationService, log),
		Invoice:          v1.NewInvoiceHandler(invoiceService, invoiceNumberService, clock, log),
		CronSubscription: apiCron.NewSubscriptionHandler(subscriptionService, log),
		CronInvoice:      apiCron.NewInvoiceHandler(invoiceService, log),
	}
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	scheduler *cron.Scheduler,
	ps pubsub.PubSub,
	log *logger.Logger,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, r, cfg, log)
		startScheduler(lc, scheduler, log)
		if cfg.Webhook.PubSub != types.KafkaPubSub {
			startNotificationLog(lc, ps, cfg, log)
		}
	case types.ModeAPI:
		startAPIServer(lc, r, cfg, log)
	case types.ModeScheduler:
		startScheduler(lc, scheduler, log)
	default:
		log.Fatalf("Unknown deployment mode: %s", mode)
	}
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return srv.Shutdown(ctx)
		},
	})
}

func startScheduler(lc fx.Lifecycle, scheduler *cron.Scheduler, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			scheduler.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping scheduler")
			return scheduler.Stop(ctx)
		},
	})
}

// startNotificationLog drains the in-process notification topic so local runs
// show what a delivery collaborator would receive
func startNotificationLog(lc fx.Lifecycle, ps pubsub.PubSub, cfg *config.Configuration, log *logger.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			messages, err := ps.Subscribe(ctx, cfg.Webhook.Topic)
			if err != nil {
				return err
			}
			go func() {
				for msg := range messages {
					log.Infow("notification event",
						"event_name", msg.Metadata.Get("event_name"),
						"tenant_id", msg.Metadata.Get("tenant_id"),
						"message_id", msg.UUID,
					)
					msg.Ack()
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
