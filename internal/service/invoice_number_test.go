package service

import (
	"errors"
	"regexp"
	"sync"
	"testing"

	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/testutil"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/suite"
)

type InvoiceNumberServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  InvoiceNumberService
	seqStore *testutil.InMemoryInvoiceSequenceStore
}

func TestInvoiceNumberService(t *testing.T) {
	suite.Run(t, new(InvoiceNumberServiceSuite))
}

func (s *InvoiceNumberServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.seqStore = s.GetSequenceStore()
	s.service = NewInvoiceNumberService(newTestServiceParams(&s.BaseServiceTestSuite, nil))
}

func (s *InvoiceNumberServiceSuite) TestSequentialAllocation() {
	first, err := s.service.Allocate(s.GetContext(), "202501")
	s.Require().NoError(err)
	s.Equal("INV-202501-0001", first)

	second, err := s.service.Allocate(s.GetContext(), "202501")
	s.Require().NoError(err)
	s.Equal("INV-202501-0002", second)

	// periods are independent
	other, err := s.service.Allocate(s.GetContext(), "202502")
	s.Require().NoError(err)
	s.Equal("INV-202502-0001", other)
}

func (s *InvoiceNumberServiceSuite) TestConcurrentAllocationIsUnique() {
	const n = 1000
	pattern := regexp.MustCompile(`^INV-202501-\d{4,}$`)

	var (
		mu      sync.Mutex
		numbers = make(map[string]struct{}, n)
		wg      conc.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Go(func() {
			number, err := s.service.Allocate(s.GetContext(), "202501")
			s.NoError(err)

			mu.Lock()
			defer mu.Unlock()
			numbers[number] = struct{}{}
		})
	}
	wg.Wait()

	s.Len(numbers, n)
	for number := range numbers {
		s.Regexp(pattern, number)
	}
	_, ok := numbers["INV-202501-1000"]
	s.True(ok)
}

func (s *InvoiceNumberServiceSuite) TestFormatGrowsPastFourDigits() {
	s.Equal("INV-202501-0042", FormatInvoiceNumber("INV", "202501", 42))
	s.Equal("INV-202501-12345", FormatInvoiceNumber("INV", "202501", 12345))
}

func (s *InvoiceNumberServiceSuite) TestInvalidPeriod() {
	for _, period := range []string{"", "2025", "2025-01", "202513", "20250101", "abcdef"} {
		_, err := s.service.Allocate(s.GetContext(), period)
		s.True(ierr.IsValidation(err), "period %q", period)
	}
	s.Equal(0, s.seqStore.Calls())
}

func (s *InvoiceNumberServiceSuite) TestRetriesContention() {
	conflict := ierr.NewError("sequence contended").Mark(ierr.ErrVersionConflict)
	s.seqStore.FailNext(2, conflict)

	number, err := s.service.Allocate(s.GetContext(), "202501")
	s.Require().NoError(err)
	s.Equal("INV-202501-0001", number)
	s.Equal(3, s.seqStore.Calls())
}

func (s *InvoiceNumberServiceSuite) TestExhaustedContentionIsTransient() {
	conflict := ierr.NewError("sequence contended").Mark(ierr.ErrVersionConflict)
	s.seqStore.FailNext(s.GetConfig().Quota.MaxAttempts, conflict)

	_, err := s.service.Allocate(s.GetContext(), "202501")
	s.True(ierr.IsTransient(err))
	s.Equal(float64(1), promtestutil.ToFloat64(
		s.GetMetrics().InvoiceNumbersTotal.WithLabelValues("postgres", metrics.OutcomeError)))
}

func (s *InvoiceNumberServiceSuite) TestStorageFailureIsNotRetried() {
	dbErr := ierr.WithError(errors.New("connection refused")).Mark(ierr.ErrDatabase)
	s.seqStore.FailNext(1, dbErr)

	_, err := s.service.Allocate(s.GetContext(), "202501")
	s.True(ierr.IsDatabase(err))
	s.Equal(1, s.seqStore.Calls())

	number, err := s.service.Allocate(s.GetContext(), "202501")
	s.Require().NoError(err)
	s.Equal("INV-202501-0001", number)
}

func (s *InvoiceNumberServiceSuite) TestPeriodFor() {
	s.Equal("202501", PeriodFor(s.GetNow()))
}
