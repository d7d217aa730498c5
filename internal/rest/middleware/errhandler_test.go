package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/types"
	"github.com/gin-gonic/gin"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, handler gin.HandlerFunc) (*gin.Engine, *metrics.Metrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := metrics.NewTestMetrics()
	r := gin.New()
	r.Use(RequestIDMiddleware, MetricsMiddleware(m), ErrorHandler(logger.NewNopLogger()))
	r.GET("/tenants/:tenant_id/ping", TenantMiddleware, handler)
	return r, m
}

func TestErrorHandlerRendersHintCodeAndDetails(t *testing.T) {
	r, _ := newTestEngine(t, func(c *gin.Context) {
		c.Error(ierr.NewError("db said no").
			WithHint("Your basic plan allows 500 tickets").
			WithReportableDetails(map[string]any{"monthly_limit": 500}).
			Mark(ierr.ErrLimitReached))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/t1/ping", nil))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var resp ierr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, ierr.ErrCodeLimitReached, resp.Error.Code)
	assert.Equal(t, "Your basic plan allows 500 tickets", resp.Error.Display)
	assert.Equal(t, float64(500), resp.Error.Details["monthly_limit"])
	assert.NotContains(t, w.Body.String(), "db said no")
}

func TestErrorHandlerFallsBackForUnmarkedErrors(t *testing.T) {
	r, _ := newTestEngine(t, func(c *gin.Context) {
		c.Error(ierr.NewError("boom").Error())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/t1/ping", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp ierr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ierr.ErrCodeSystemError, resp.Error.Code)
	assert.Equal(t, "An unexpected error occurred", resp.Error.Display)
	assert.Nil(t, resp.Error.Details)
}

func TestRequestContextCarriesTenantUserAndRequestID(t *testing.T) {
	var tenantID, userID, requestID string
	r, m := newTestEngine(t, func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantID = types.GetTenantID(ctx)
		userID = types.GetUserID(ctx)
		requestID = types.GetRequestID(ctx)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/tenants/t42/ping", nil)
	req.Header.Set(types.HeaderUserID, "agent-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "t42", tenantID)
	assert.Equal(t, "agent-7", userID)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, w.Header().Get(types.HeaderRequestID))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/tenants/:tenant_id/ping", "204")))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	called := false
	r := gin.New()
	r.Use(CORSMiddleware)
	r.OPTIONS("/v1/invoices", func(c *gin.Context) { called = true })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/invoices", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, called)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), types.HeaderRequestID)
}
