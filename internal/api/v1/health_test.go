package v1

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/postgres"
	"github.com/deskflow/billing/internal/redis"
	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHealthDeps(t *testing.T) (*postgres.DB, sqlmock.Sqlmock, *redis.Client, *miniredis.Miniredis) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db := postgres.NewFromSQLX(sqlx.NewDb(sqlDB, "postgres"), logger.NewNopLogger())

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	return db, mock, redis.NewFromClient(client, logger.NewNopLogger()), mr
}

func TestHealthCheckAllHealthy(t *testing.T) {
	db, mock, rdb, _ := newHealthDeps(t)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	h := NewHealthHandler(db, rdb, clockwork.NewFakeClock(), logger.NewNopLogger())
	status := h.Check(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["postgres"].Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheckRedisDownIsDegraded(t *testing.T) {
	db, mock, rdb, mr := newHealthDeps(t)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mr.Close()

	h := NewHealthHandler(db, rdb, clockwork.NewFakeClock(), logger.NewNopLogger())
	status := h.Check(context.Background())

	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
	assert.NotEmpty(t, status.Dependencies["redis"].Message)
}

func TestReadinessPostgresDownIsUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, mock, _, _ := newHealthDeps(t)
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

	h := NewHealthHandler(db, nil, clockwork.NewFakeClock(), logger.NewNopLogger())
	r := gin.New()
	r.GET("/health", h.Readiness)
	r.GET("/health/live", h.Liveness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	// liveness never touches dependencies
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
