package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deskflow/billing/internal/api/cron"
	"github.com/deskflow/billing/internal/api/dto"
	v1 "github.com/deskflow/billing/internal/api/v1"
	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/service"
	"github.com/deskflow/billing/internal/testutil"
	"github.com/deskflow/billing/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
)

type RouterSuite struct {
	testutil.BaseServiceTestSuite
	router *gin.Engine
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()

	stores := s.GetStores()
	params := service.NewServiceParams(
		s.GetLogger(),
		s.GetConfig(),
		s.GetMetrics(),
		s.GetCache(),
		s.GetClock(),
		stores.SubscriptionRepo,
		stores.InvoiceRepo,
		stores.InvoiceSequenceRepo,
		s.GetWebhookPublisher(),
	)

	quota := service.NewQuotaService(params)
	billing := service.NewBillingCycleService(params)
	subscriptions := service.NewSubscriptionService(params)
	analytics := service.NewAnalyticsService(params)
	recommendations := service.NewPlanRecommendationService(params, analytics)
	numbers := service.NewInvoiceNumberService(params)
	invoices := service.NewInvoiceService(params, numbers, billing)

	log := s.GetLogger()
	s.router = NewRouter(Handlers{
		Health:           v1.NewHealthHandler(nil, nil, s.GetClock(), log),
		Quota:            v1.NewQuotaHandler(quota, billing, log),
		Subscription:     v1.NewSubscriptionHandler(subscriptions, log),
		Analytics:        v1.NewAnalyticsHandler(analytics, recommendations, log),
		Invoice:          v1.NewInvoiceHandler(invoices, numbers, s.GetClock(), log),
		CronSubscription: cron.NewSubscriptionHandler(subscriptions, log),
		CronInvoice:      cron.NewInvoiceHandler(invoices, log),
	}, s.GetConfig(), log, s.GetMetrics())
}

func (s *RouterSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *RouterSuite) errorCode(w *httptest.ResponseRecorder) string {
	var resp ierr.ErrorResponse
	s.decode(w, &resp)
	s.False(resp.Success)
	return resp.Error.Code
}

func (s *RouterSuite) seed(tenantID string, tier types.PlanTier, mutate func(sub *subscription.Subscription)) {
	sub := testutil.NewTestSubscription(s.GetContext(), tenantID, tier, s.GetNow())
	if mutate != nil {
		mutate(sub)
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))
}

func (s *RouterSuite) TestSubscribeThenConsume() {
	w := s.do(http.MethodPost, "/v1/subscriptions", dto.CreateSubscriptionRequest{
		TenantID: "t1",
		PlanTier: types.PlanTierBasic,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/v1/tenants/t1/quota/consume", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var quota dto.QuotaResponse
	s.decode(w, &quota)
	s.True(quota.Allowed)
	s.Equal(int64(1), quota.CurrentCount)
	s.Equal(int64(499), quota.Remaining)

	w = s.do(http.MethodGet, "/v1/tenants/t1/quota/remaining", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"remaining":499}`, w.Body.String())
}

func (s *RouterSuite) TestConsumeAtLimitIsTooManyRequests() {
	s.seed("t1", types.PlanTierFreemium, func(sub *subscription.Subscription) {
		sub.CurrentCount = 49
	})

	w := s.do(http.MethodPost, "/v1/tenants/t1/quota/consume", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/v1/tenants/t1/quota/consume", nil)
	s.Equal(http.StatusTooManyRequests, w.Code)
	s.Equal(ierr.ErrCodeLimitReached, s.errorCode(w))

	w = s.do(http.MethodGet, "/v1/tenants/t1/quota/can-create", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"allowed":false}`, w.Body.String())
}

func (s *RouterSuite) TestUnknownTenantIsNotSubscribed() {
	w := s.do(http.MethodGet, "/v1/tenants/ghost/quota", nil)
	s.Equal(http.StatusPaymentRequired, w.Code)

	var resp ierr.ErrorResponse
	s.decode(w, &resp)
	s.Equal(ierr.ErrCodeNotSubscribed, resp.Error.Code)
	s.Equal("An active subscription is required to create tickets", resp.Error.Display)
	s.Equal("ghost", resp.Error.Details["tenant_id"])
}

func (s *RouterSuite) TestValidationErrorCarriesFieldDetails() {
	w := s.do(http.MethodPost, "/v1/subscriptions", map[string]any{"plan_tier": "basic"})
	s.Equal(http.StatusBadRequest, w.Code)

	var resp ierr.ErrorResponse
	s.decode(w, &resp)
	s.Equal(ierr.ErrCodeValidation, resp.Error.Code)
	s.Contains(resp.Error.Details, "tenant_id")
}

func (s *RouterSuite) TestMalformedBodyIsBadRequest() {
	req := httptest.NewRequest(http.MethodPost, "/v1/invoices", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(ierr.ErrCodeValidation, s.errorCode(w))
}

func (s *RouterSuite) TestRequestIDIsEchoed() {
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(types.HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusOK, w.Code)
	s.Equal("req-123", w.Header().Get(types.HeaderRequestID))

	w = s.do(http.MethodGet, "/health/live", nil)
	s.NotEmpty(w.Header().Get(types.HeaderRequestID))
}

func (s *RouterSuite) TestInvoiceLifecycle() {
	w := s.do(http.MethodPost, "/v1/invoices", map[string]any{
		"tenant_id":    "t1",
		"period_start": "2025-01-01T00:00:00Z",
		"period_end":   "2025-01-31T00:00:00Z",
		"line_items": []map[string]any{
			{"description": "Onboarding", "quantity": "1", "unit_amount": "120"},
		},
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var created dto.InvoiceResponse
	s.decode(w, &created)
	s.Equal("INV-202501-0001", created.InvoiceNumber)
	s.Equal(types.InvoiceStatusDraft, created.InvoiceStatus)

	w = s.do(http.MethodGet, "/v1/invoices/number/INV-202501-0001", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/v1/invoices/"+created.ID+"/pay", dto.MarkInvoicePaidRequest{
		PaymentMethod:    types.PaymentMethodCard,
		PaymentReference: "ch_1",
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(ierr.ErrCodeInvalidOperation, s.errorCode(w))

	w = s.do(http.MethodPost, "/v1/invoices/"+created.ID+"/issue", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/v1/invoices/"+created.ID+"/pay", dto.MarkInvoicePaidRequest{
		PaymentMethod:    types.PaymentMethodCard,
		PaymentReference: "ch_1",
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var paid dto.InvoiceResponse
	s.decode(w, &paid)
	s.Equal(types.InvoiceStatusPaid, paid.InvoiceStatus)

	w = s.do(http.MethodGet, "/v1/invoices?tenant_id=t1&invoice_status=paid", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var list dto.ListInvoicesResponse
	s.decode(w, &list)
	s.Len(list.Items, 1)
	s.Equal(1, list.Pagination.Total)
}

func (s *RouterSuite) TestAllocateInvoiceNumber() {
	w := s.do(http.MethodPost, "/v1/invoice-numbers", nil)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	s.JSONEq(`{"period":"202501","invoice_number":"INV-202501-0001"}`, w.Body.String())

	w = s.do(http.MethodPost, "/v1/invoice-numbers", dto.AllocateInvoiceNumberRequest{Period: "202412"})
	s.Require().Equal(http.StatusCreated, w.Code)
	s.JSONEq(`{"period":"202412","invoice_number":"INV-202412-0001"}`, w.Body.String())

	w = s.do(http.MethodPost, "/v1/invoice-numbers", dto.AllocateInvoiceNumberRequest{Period: "2024-12"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterSuite) TestUsageAnalytics() {
	s.seed("t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.CurrentCount = 450
	})

	w := s.do(http.MethodGet, "/v1/tenants/t1/analytics/usage", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var report dto.UsageAnalytics
	s.decode(w, &report)
	s.Equal(90.0, report.UsagePercentage)
	s.Equal(int64(50), report.RemainingTickets)

	w = s.do(http.MethodGet, "/v1/tenants/t1/analytics/recommendation", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var rec dto.PlanRecommendation
	s.decode(w, &rec)
	s.Equal(types.RecommendationActionUpgrade, rec.Action)
	s.Equal(types.PlanTierProfessional, rec.RecommendedTier)

	w = s.do(http.MethodGet, "/v1/tenants/t1/analytics/usage?tickets_in_range=-4", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterSuite) TestCronGenerateCycleInvoices() {
	s.seed("t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.PeriodStart = s.GetNow().AddDate(0, 0, -40)
		sub.StartDate = sub.PeriodStart
	})

	w := s.do(http.MethodPost, "/v1/cron/invoices/generate", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp dto.GenerateCycleInvoicesResponse
	s.decode(w, &resp)
	s.Len(resp.Created, 1)
}

func (s *RouterSuite) TestHealthAndMetrics() {
	w := s.do(http.MethodGet, "/health", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var health v1.HealthStatus
	s.decode(w, &health)
	s.Equal(v1.StatusHealthy, health.Status)

	w = s.do(http.MethodGet, "/metrics", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `deskflow_http_requests_total{method="GET",path="/health",status="200"} 1`)
}
