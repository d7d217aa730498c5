package testutil

import (
	"context"
	"time"

	"github.com/deskflow/billing/internal/cache"
	"github.com/deskflow/billing/internal/config"
	"github.com/deskflow/billing/internal/domain/invoice"
	"github.com/deskflow/billing/internal/domain/subscription"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/types"
	"github.com/deskflow/billing/internal/validator"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
	SubscriptionRepo    subscription.Repository
	InvoiceRepo         invoice.Repository
	InvoiceSequenceRepo invoice.SequenceRepository
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx              context.Context
	stores           Stores
	webhookPublisher *InMemoryWebhookPublisher
	cache            *cache.InMemoryCache
	metrics          *metrics.Metrics
	logger           *logger.Logger
	config           *config.Configuration
	clock            *clockwork.FakeClock
	now              time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	// Initialize validator
	validator.NewValidator()

	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	// tiny intervals keep contention tests fast
	cfg.Quota.InitialInterval = time.Millisecond
	cfg.Quota.MaxInterval = 5 * time.Millisecond

	var err error
	s.config = cfg
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.now = time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)
	s.clock = clockwork.NewFakeClockAt(s.now)
	s.setupStores()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		SubscriptionRepo:    NewInMemorySubscriptionStore(),
		InvoiceRepo:         NewInMemoryInvoiceStore(),
		InvoiceSequenceRepo: NewInMemoryInvoiceSequenceStore(),
	}
	s.webhookPublisher = NewInMemoryWebhookPublisher()
	s.cache = cache.NewInMemoryCache(s.config, s.logger)
	s.metrics = metrics.NewTestMetrics()
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.SubscriptionRepo.(*InMemorySubscriptionStore).Clear()
	s.stores.InvoiceRepo.(*InMemoryInvoiceStore).Clear()
	s.stores.InvoiceSequenceRepo.(*InMemoryInvoiceSequenceStore).Clear()
	s.webhookPublisher.Clear()
	s.cache.Flush(s.ctx)
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.clearStores()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetSubscriptionStore returns the in-memory subscription store with its test hooks
func (s *BaseServiceTestSuite) GetSubscriptionStore() *InMemorySubscriptionStore {
	return s.stores.SubscriptionRepo.(*InMemorySubscriptionStore)
}

// GetSequenceStore returns the in-memory invoice sequence store with its test hooks
func (s *BaseServiceTestSuite) GetSequenceStore() *InMemoryInvoiceSequenceStore {
	return s.stores.InvoiceSequenceRepo.(*InMemoryInvoiceSequenceStore)
}

// GetWebhookPublisher returns the recording webhook publisher
func (s *BaseServiceTestSuite) GetWebhookPublisher() *InMemoryWebhookPublisher {
	return s.webhookPublisher
}

func (s *BaseServiceTestSuite) GetCache() *cache.InMemoryCache {
	return s.cache
}

func (s *BaseServiceTestSuite) GetMetrics() *metrics.Metrics {
	return s.metrics
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetClock returns the fake clock shared by the services under test
func (s *BaseServiceTestSuite) GetClock() *clockwork.FakeClock {
	return s.clock
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.clock.Now().UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}

// NewTestSubscription builds an active subscription of tier for tenantID
// whose current cycle started at periodStart
func NewTestSubscription(ctx context.Context, tenantID string, tier types.PlanTier, periodStart time.Time) *subscription.Subscription {
	plan := types.PlanCatalog[tier]
	return &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		TenantID:           tenantID,
		PlanTier:           tier,
		MonthlyLimit:       plan.MonthlyLimit,
		PeriodStart:        periodStart,
		CycleDays:          types.DefaultCycleDays,
		SubscriptionStatus: types.SubscriptionStatusActive,
		StartDate:          periodStart,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}
}
