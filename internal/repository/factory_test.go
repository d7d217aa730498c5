package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/deskflow/billing/internal/config"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/redis"
	"github.com/deskflow/billing/internal/types"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceSequenceBackendSelection(t *testing.T) {
	log := logger.NewNopLogger()

	t.Run("memory", func(t *testing.T) {
		cfg := config.GetDefaultConfig()
		cfg.Invoice.SequenceBackend = types.SequenceBackendMemory

		repo, err := NewInvoiceSequenceRepository(cfg, nil, nil, log)
		require.NoError(t, err)

		seq, err := repo.Next(context.Background(), "202501")
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		cfg := config.GetDefaultConfig()
		cfg.Invoice.SequenceBackend = types.SequenceBackendRedis

		repo, err := NewInvoiceSequenceRepository(cfg, nil, redis.NewFromClient(client, log), log)
		require.NoError(t, err)

		for want := int64(1); want <= 3; want++ {
			seq, err := repo.Next(context.Background(), "202501")
			require.NoError(t, err)
			assert.Equal(t, want, seq)
		}
	})

	t.Run("redis without client", func(t *testing.T) {
		cfg := config.GetDefaultConfig()
		cfg.Invoice.SequenceBackend = types.SequenceBackendRedis

		_, err := NewInvoiceSequenceRepository(cfg, nil, nil, log)
		require.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.GetDefaultConfig()
		cfg.Invoice.SequenceBackend = "etcd"

		_, err := NewInvoiceSequenceRepository(cfg, nil, nil, log)
		require.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	})
}
