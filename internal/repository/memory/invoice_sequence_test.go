package memory

import (
	"context"
	"testing"

	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceSequenceNext(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceSequenceRepository()

	n, err := repo.Next(ctx, "202501")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Next(ctx, "202501")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.Next(ctx, "202502")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "periods count independently")

	current, err := repo.Current(ctx, "202501")
	require.NoError(t, err)
	assert.Equal(t, int64(2), current)

	current, err = repo.Current(ctx, "202412")
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestInvoiceSequenceRejectsBadPeriod(t *testing.T) {
	_, err := NewInvoiceSequenceRepository().Next(context.Background(), "2025-01")
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}

func TestInvoiceSequenceConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewInvoiceSequenceRepository()

	const workers = 500
	results := make([]int64, workers)
	var wg conc.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Go(func() {
			n, err := repo.Next(ctx, "202501")
			assert.NoError(t, err)
			results[i] = n
		})
	}
	wg.Wait()

	seen := make(map[int64]bool, workers)
	for _, n := range results {
		assert.False(t, seen[n], "value %d handed out twice", n)
		seen[n] = true
	}
	for i := int64(1); i <= workers; i++ {
		assert.True(t, seen[i], "value %d missing", i)
	}
}
