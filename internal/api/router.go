package api

import (
	"github.com/deskflow/billing/internal/api/cron"
	v1 "github.com/deskflow/billing/internal/api/v1"
	"github.com/deskflow/billing/internal/config"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/rest/middleware"
	"github.com/deskflow/billing/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Quota        *v1.QuotaHandler
	Subscription *v1.SubscriptionHandler
	Analytics    *v1.AnalyticsHandler
	Invoice      *v1.InvoiceHandler

	CronSubscription *cron.SubscriptionHandler
	CronInvoice      *cron.InvoiceHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger, m *metrics.Metrics) *gin.Engine {
	if cfg.Logging.Level != types.LogLevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware,
		middleware.MetricsMiddleware(m),
		middleware.ErrorHandler(logger),
	)

	router.GET("/health", handlers.Health.Readiness)
	router.GET("/health/live", handlers.Health.Liveness)
	router.GET("/health/ready", handlers.Health.Readiness)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	tenants := router.Group("/tenants/:tenant_id", middleware.TenantMiddleware)
	{
		quota := tenants.Group("/quota")
		{
			quota.GET("", handlers.Quota.GetQuota)
			quota.POST("/consume", handlers.Quota.Consume)
			quota.GET("/can-create", handlers.Quota.CanCreate)
			quota.GET("/remaining", handlers.Quota.GetRemaining)
			quota.POST("/rollover", handlers.Quota.Rollover)
		}

		subscription := tenants.Group("/subscription")
		{
			subscription.GET("", handlers.Subscription.GetActiveSubscription)
			subscription.POST("/change-plan", handlers.Subscription.ChangePlan)
			subscription.POST("/cancel", handlers.Subscription.CancelSubscription)
			subscription.POST("/renew", handlers.Subscription.RenewSubscription)
			subscription.POST("/extend", handlers.Subscription.ExtendSubscription)
		}

		analytics := tenants.Group("/analytics")
		{
			analytics.GET("/usage", handlers.Analytics.GetUsageAnalytics)
			analytics.GET("/recommendation", handlers.Analytics.GetRecommendation)
		}
	}

	subscriptions := router.Group("/subscriptions")
	{
		subscriptions.POST("", handlers.Subscription.CreateSubscription)
		subscriptions.GET("", handlers.Subscription.ListSubscriptions)
		subscriptions.GET("/:id", handlers.Subscription.GetSubscription)
	}

	invoices := router.Group("/invoices")
	{
		invoices.POST("", handlers.Invoice.CreateInvoice)
		invoices.GET("", handlers.Invoice.ListInvoices)
		invoices.GET("/number/:number", handlers.Invoice.GetInvoiceByNumber)
		invoices.GET("/:id", handlers.Invoice.GetInvoice)
		invoices.POST("/:id/issue", handlers.Invoice.IssueInvoice)
		invoices.POST("/:id/pay", handlers.Invoice.MarkPaid)
		invoices.POST("/:id/cancel", handlers.Invoice.CancelInvoice)
		invoices.POST("/:id/payment-failed", handlers.Invoice.RecordPaymentFailure)
		invoices.POST("/:id/notes", handlers.Invoice.AddNote)
	}

	router.POST("/invoice-numbers", handlers.Invoice.AllocateInvoiceNumber)

	// Cron routes
	cronGroup := router.Group("/cron")
	{
		cronGroup.POST("/subscriptions/expire", handlers.CronSubscription.ExpireDue)
		cronGroup.POST("/invoices/overdue", handlers.CronInvoice.NotifyOverdue)
		cronGroup.POST("/invoices/generate", handlers.CronInvoice.GenerateCycleInvoices)
	}
}
