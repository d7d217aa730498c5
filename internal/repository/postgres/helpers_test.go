package postgres

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*postgres.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})
	return postgres.NewFromSQLX(sqlx.NewDb(sqlDB, "postgres"), logger.NewNopLogger()), mock
}
