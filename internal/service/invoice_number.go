package service

import (
	"context"
	"fmt"
	"time"

	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/types"
)

type InvoiceNumberService interface {
	// Allocate returns the next invoice number of period (YYYYMM) formatted as
	// PREFIX-YYYYMM-NNNN. Numbers are unique per period and the suffix keeps
	// growing past four digits.
	Allocate(ctx context.Context, period string) (string, error)
}

type invoiceNumberService struct {
	ServiceParams
}

func NewInvoiceNumberService(params ServiceParams) InvoiceNumberService {
	return &invoiceNumberService{
		ServiceParams: params,
	}
}

// PeriodFor returns the numbering period containing t
func PeriodFor(t time.Time) string {
	return types.InvoicePeriodFor(t)
}

// FormatInvoiceNumber renders a sequence value as an invoice number
func FormatInvoiceNumber(prefix, period string, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, period, seq)
}

func (s *invoiceNumberService) Allocate(ctx context.Context, period string) (string, error) {
	if err := types.ValidateInvoicePeriod(period); err != nil {
		return "", err
	}

	backend := string(s.Config.Invoice.SequenceBackend)
	start := time.Now()

	var seq int64
	err := s.retryOnConflict(ctx, "invoice_number", map[string]any{"period": period}, func(attempt int) error {
		n, err := s.InvoiceSequenceRepo.Next(ctx, period)
		if err != nil {
			return err
		}
		seq = n
		return nil
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.Metrics.ObserveInvoiceNumber(backend, metrics.OutcomeError, elapsed)
		s.Logger.Errorw("failed to allocate invoice number", "error", err, "period", period, "backend", backend)
		return "", err
	}

	s.Metrics.ObserveInvoiceNumber(backend, metrics.OutcomeSuccess, elapsed)
	number := FormatInvoiceNumber(s.Config.Invoice.NumberPrefix, period, seq)
	s.Logger.Debugw("allocated invoice number", "period", period, "sequence", seq, "invoice_number", number)
	return number, nil
}
