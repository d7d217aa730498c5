package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deskflow/billing/internal/domain/invoice"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/types"
	"github.com/samber/lo"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	*InMemoryStore[*invoice.Invoice]
	mu       sync.Mutex
	byNumber map[string]string // map[invoiceNumber]invoiceID
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		InMemoryStore: NewInMemoryStore[*invoice.Invoice](),
		byNumber:      make(map[string]string),
	}
}

func invoiceFilterFn(ctx context.Context, inv *invoice.Invoice, filter interface{}) bool {
	if inv == nil || inv.Status != types.StatusPublished {
		return false
	}

	f, ok := filter.(*types.InvoiceFilter)
	if !ok || f == nil {
		return true
	}

	if f.TenantID != "" && inv.TenantID != f.TenantID {
		return false
	}

	if f.SubscriptionID != "" && inv.SubscriptionID != f.SubscriptionID {
		return false
	}

	if len(f.InvoiceStatus) > 0 && !lo.Contains(f.InvoiceStatus, inv.InvoiceStatus) {
		return false
	}

	if f.DueBefore != nil && !inv.DueDate.Before(*f.DueBefore) {
		return false
	}

	if f.OverdueUnnotified && inv.OverdueNotifiedAt != nil {
		return false
	}

	return true
}

func invoiceSortFn(i, j *invoice.Invoice) bool {
	return i.CreatedAt.After(j.CreatedAt)
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	if inv == nil {
		return ierr.NewError("invoice cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byNumber[inv.InvoiceNumber]; exists {
		return invoice.NewDuplicateNumberError(
			fmt.Errorf("invoice number %s already exists", inv.InvoiceNumber),
			inv.InvoiceNumber,
		)
	}

	if inv.SubscriptionID != "" {
		if s.existsForPeriod(inv.SubscriptionID, inv.PeriodStart) {
			return ierr.NewError("billing period already invoiced").
				WithHint("The billing period of this subscription has already been invoiced").
				Mark(ierr.ErrAlreadyExists)
		}
	}

	if inv.Version == 0 {
		inv.Version = 1
	}
	for _, item := range inv.LineItems {
		item.InvoiceID = inv.ID
		item.TenantID = inv.TenantID
	}

	if err := s.InMemoryStore.Create(ctx, inv.ID, inv.Clone()); err != nil {
		return err
	}
	s.byNumber[inv.InvoiceNumber] = inv.ID
	return nil
}

func (s *InMemoryInvoiceStore) ExistsForPeriod(ctx context.Context, subscriptionID string, periodStart time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsForPeriod(subscriptionID, periodStart), nil
}

func (s *InMemoryInvoiceStore) existsForPeriod(subscriptionID string, periodStart time.Time) bool {
	for _, existing := range s.InMemoryStore.items {
		if existing.Status == types.StatusPublished &&
			existing.SubscriptionID == subscriptionID &&
			existing.PeriodStart.Equal(periodStart) {
			return true
		}
	}
	return false
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || inv.Status != types.StatusPublished {
		return nil, invoice.NewNotFoundError(id)
	}
	return inv.Clone(), nil
}

func (s *InMemoryInvoiceStore) GetByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	s.mu.Lock()
	id, ok := s.byNumber[number]
	s.mu.Unlock()
	if !ok {
		return nil, invoice.NewNotFoundError(number)
	}
	return s.Get(ctx, id)
}

func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.InMemoryStore.Get(ctx, inv.ID)
	if err != nil {
		return invoice.NewNotFoundError(inv.ID)
	}
	if current.Version != inv.Version {
		return invoice.NewVersionConflictError(inv.ID, inv.Version)
	}

	now := time.Now().UTC()
	next := inv.Clone()
	next.Version++
	next.UpdatedAt = now
	next.UpdatedBy = types.GetUserID(ctx)
	next.LineItems = current.LineItems
	if err := s.InMemoryStore.Update(ctx, inv.ID, next); err != nil {
		return err
	}

	inv.Version = next.Version
	inv.UpdatedAt = now
	return nil
}

func (s *InMemoryInvoiceStore) List(ctx context.Context, filter *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	invoices, err := s.InMemoryStore.List(ctx, filter, invoiceFilterFn, invoiceSortFn)
	if err != nil {
		return nil, err
	}
	return lo.Map(invoices, func(inv *invoice.Invoice, _ int) *invoice.Invoice {
		return inv.Clone()
	}), nil
}

func (s *InMemoryInvoiceStore) Count(ctx context.Context, filter *types.InvoiceFilter) (int, error) {
	return s.InMemoryStore.Count(ctx, filter, invoiceFilterFn)
}

// Clear clears the invoice store
func (s *InMemoryInvoiceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InMemoryStore.Clear()
	s.byNumber = make(map[string]string)
}
