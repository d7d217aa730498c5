package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/redis"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type InvoiceSequenceSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *goredis.Client
	repo   *invoiceSequenceRepository
}

func TestInvoiceSequenceSuite(t *testing.T) {
	suite.Run(t, new(InvoiceSequenceSuite))
}

func (s *InvoiceSequenceSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr
	s.client = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s.repo = NewInvoiceSequenceRepository(
		redis.NewFromClient(s.client, logger.NewNopLogger()),
		logger.NewNopLogger(),
	).(*invoiceSequenceRepository)
}

func (s *InvoiceSequenceSuite) TearDownTest() {
	_ = s.client.Close()
	s.mr.Close()
}

func (s *InvoiceSequenceSuite) TestFirstAllocationStartsAtOne() {
	ctx := context.Background()

	current, err := s.repo.Current(ctx, "202501")
	s.Require().NoError(err)
	s.Equal(int64(0), current)

	n, err := s.repo.Next(ctx, "202501")
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.repo.Next(ctx, "202501")
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	stored, err := s.mr.Get("invoice_seq:202501")
	s.Require().NoError(err)
	s.Equal("2", stored)
}

func (s *InvoiceSequenceSuite) TestPeriodsAreIndependent() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.repo.Next(ctx, "202501")
		s.Require().NoError(err)
	}

	n, err := s.repo.Next(ctx, "202502")
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *InvoiceSequenceSuite) TestConcurrentAllocationsAreUnique() {
	ctx := context.Background()
	const callers = 200

	results := make(chan int64, callers)
	var wg conc.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Go(func() {
			n, err := s.repo.Next(ctx, "202503")
			s.NoError(err)
			results <- n
		})
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]struct{}, callers)
	for n := range results {
		_, dup := seen[n]
		s.False(dup, "sequence %d issued twice", n)
		seen[n] = struct{}{}
	}
	s.Len(seen, callers)
}

func (s *InvoiceSequenceSuite) TestBackendFailureIsFatal() {
	s.mr.SetError("READONLY You can't write against a read only replica")

	_, err := s.repo.Next(context.Background(), "202501")
	require.Error(s.T(), err)
	assert.True(s.T(), ierr.IsDatabase(err))
}
