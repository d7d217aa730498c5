package testutil

import (
	"context"
	"sync"

	"github.com/deskflow/billing/internal/domain/invoice"
	"github.com/deskflow/billing/internal/repository/memory"
)

// InMemoryInvoiceSequenceStore wraps the process local sequence with failure injection
type InMemoryInvoiceSequenceStore struct {
	invoice.SequenceRepository
	mu       sync.Mutex
	failures []error
	calls    int
}

func NewInMemoryInvoiceSequenceStore() *InMemoryInvoiceSequenceStore {
	return &InMemoryInvoiceSequenceStore{
		SequenceRepository: memory.NewInvoiceSequenceRepository(),
	}
}

// FailNext makes the next n calls to Next return err without advancing the counter
func (s *InMemoryInvoiceSequenceStore) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, err)
	}
}

// Calls returns how many times Next was called
func (s *InMemoryInvoiceSequenceStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *InMemoryInvoiceSequenceStore) Next(ctx context.Context, period string) (int64, error) {
	s.mu.Lock()
	s.calls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()
	return s.SequenceRepository.Next(ctx, period)
}

// Clear resets every counter
func (s *InMemoryInvoiceSequenceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SequenceRepository = memory.NewInvoiceSequenceRepository()
	s.failures = nil
	s.calls = 0
}
