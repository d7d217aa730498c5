package memory

import (
	"context"
	"sync"

	"github.com/deskflow/billing/internal/domain/invoice"
	"github.com/deskflow/billing/internal/types"
)

type invoiceSequenceRepository struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewInvoiceSequenceRepository keeps the counters in process memory. It is only
// unique within one process and loses its state on restart, so it serves
// local mode and tests.
func NewInvoiceSequenceRepository() invoice.SequenceRepository {
	return &invoiceSequenceRepository{counters: make(map[string]int64)}
}

func (r *invoiceSequenceRepository) Next(_ context.Context, period string) (int64, error) {
	if err := types.ValidateInvoicePeriod(period); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[period]++
	return r.counters[period], nil
}

func (r *invoiceSequenceRepository) Current(_ context.Context, period string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[period], nil
}
