package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/deskflow/billing/internal/api/dto"
	"github.com/deskflow/billing/internal/domain/invoice"
	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/types"
	webhookDto "github.com/deskflow/billing/internal/webhook/dto"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
)

// errInvoiceUnchanged lets a mutation skip the write
var errInvoiceUnchanged = errors.New("invoice unchanged")

type InvoiceService interface {
	// CreateInvoice allocates the next invoice number of the current period and persists the invoice
	CreateInvoice(ctx context.Context, req dto.CreateInvoiceRequest) (*dto.InvoiceResponse, error)

	// CreateCycleInvoice bills the plan price of sub for [periodStart, periodEnd).
	// It returns nil without error when the cycle is free or already invoiced.
	CreateCycleInvoice(ctx context.Context, sub *subscription.Subscription, periodStart, periodEnd time.Time) (*dto.InvoiceResponse, error)

	// GenerateCycleInvoices rolls every active subscription forward and bills its last closed cycle
	GenerateCycleInvoices(ctx context.Context) (*dto.GenerateCycleInvoicesResponse, error)

	GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*dto.InvoiceResponse, error)
	ListInvoices(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error)

	IssueInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	MarkPaid(ctx context.Context, id string, req dto.MarkInvoicePaidRequest) (*dto.InvoiceResponse, error)
	Cancel(ctx context.Context, id string, req dto.CancelInvoiceRequest) (*dto.InvoiceResponse, error)

	// RecordPaymentFailure emits payment.failed, the invoice status is unchanged
	RecordPaymentFailure(ctx context.Context, id string, req dto.RecordPaymentFailureRequest) (*dto.InvoiceResponse, error)

	AddNote(ctx context.Context, id string, req dto.AddInvoiceNoteRequest) (*dto.InvoiceResponse, error)

	// NotifyOverdue emits invoice.overdue once for every issued invoice past its due date
	NotifyOverdue(ctx context.Context) (*dto.NotifyOverdueResponse, error)
}

type invoiceService struct {
	ServiceParams
	numbers InvoiceNumberService
	cycles  BillingCycleService
}

func NewInvoiceService(params ServiceParams, numbers InvoiceNumberService, cycles BillingCycleService) InvoiceService {
	return &invoiceService{
		ServiceParams: params,
		numbers:       numbers,
		cycles:        cycles,
	}
}

func (s *invoiceService) CreateInvoice(ctx context.Context, req dto.CreateInvoiceRequest) (*dto.InvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.Clock.Now().UTC()
	inv := &invoice.Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		TenantID:       req.TenantID,
		SubscriptionID: req.SubscriptionID,
		InvoiceStatus:  types.InvoiceStatusDraft,
		Currency:       lo.CoalesceOrEmpty(req.Currency, s.Config.Invoice.Currency),
		IssueDate:      now,
		DueDate:        lo.FromPtrOr(req.DueDate, s.defaultDueDate(now)),
		PeriodStart:    req.PeriodStart.UTC(),
		PeriodEnd:      req.PeriodEnd.UTC(),
		Notes:          invoice.Notes{},
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	inv.LineItems = lo.Map(req.LineItems, func(item dto.CreateInvoiceLineItemRequest, _ int) *invoice.LineItem {
		li := invoice.NewLineItem(item.Description, item.Quantity, item.UnitAmount)
		li.BaseModel = inv.BaseModel
		return li
	})
	if req.Notes != "" {
		inv.AddNote(req.Notes, types.GetUserID(ctx), now)
	}
	if req.Issue {
		inv.InvoiceStatus = types.InvoiceStatusIssued
	}

	if err := s.create(ctx, inv, now); err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv, now), nil
}

// create numbers, validates and stores inv
func (s *invoiceService) create(ctx context.Context, inv *invoice.Invoice, now time.Time) error {
	inv.RecalculateTotal()
	if err := inv.Validate(); err != nil {
		return err
	}

	number, err := s.numbers.Allocate(ctx, PeriodFor(now))
	if err != nil {
		return err
	}
	inv.InvoiceNumber = number

	if err := s.InvoiceRepo.Create(ctx, inv); err != nil {
		if ierr.IsDuplicateAllocation(err) {
			s.Logger.Errorw("invoice number allocated twice",
				"error", err,
				"invoice_number", number,
				"tenant_id", inv.TenantID,
				"period", PeriodFor(now),
			)
		}
		return err
	}

	s.Logger.Infow("created invoice",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"tenant_id", inv.TenantID,
		"total", inv.Total.String(),
	)
	s.publishInvoiceEvent(ctx, types.WebhookEventInvoiceCreated, inv)
	return nil
}

func (s *invoiceService) defaultDueDate(issue time.Time) time.Time {
	return issue.AddDate(0, 0, s.Config.Invoice.DueDays)
}

func (s *invoiceService) CreateCycleInvoice(ctx context.Context, sub *subscription.Subscription, periodStart, periodEnd time.Time) (*dto.InvoiceResponse, error) {
	plan, err := types.GetPlanDefinition(sub.PlanTier)
	if err != nil {
		return nil, err
	}
	if plan.MonthlyPrice.IsZero() {
		return nil, nil
	}

	// checked before numbering so repeated sweeps do not burn invoice numbers
	billed, err := s.InvoiceRepo.ExistsForPeriod(ctx, sub.ID, periodStart)
	if err != nil {
		return nil, err
	}
	if billed {
		s.Logger.Debugw("billing cycle already invoiced",
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
			"period_start", periodStart,
		)
		return nil, nil
	}

	now := s.Clock.Now().UTC()
	description := fmt.Sprintf("%s plan, %s to %s",
		plan.DisplayName, periodStart.Format(time.DateOnly), periodEnd.Format(time.DateOnly))

	inv := &invoice.Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		InvoiceStatus:  types.InvoiceStatusIssued,
		Currency:       s.Config.Invoice.Currency,
		IssueDate:      now,
		DueDate:        s.defaultDueDate(now),
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Notes:          invoice.Notes{},
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	item := invoice.NewLineItem(description, decimal.NewFromInt(1), plan.MonthlyPrice)
	item.BaseModel = inv.BaseModel
	inv.LineItems = []*invoice.LineItem{item}

	if err := s.create(ctx, inv, now); err != nil {
		if ierr.IsAlreadyExists(err) {
			s.Logger.Debugw("billing cycle already invoiced",
				"subscription_id", sub.ID,
				"tenant_id", sub.TenantID,
				"period_start", periodStart,
			)
			return nil, nil
		}
		return nil, err
	}
	return dto.NewInvoiceResponse(inv, now), nil
}

func (s *invoiceService) GenerateCycleInvoices(ctx context.Context) (*dto.GenerateCycleInvoicesResponse, error) {
	filter := types.NewNoLimitSubscriptionFilter()
	filter.SubscriptionStatuses = []types.SubscriptionStatus{types.SubscriptionStatusActive}

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		s.Metrics.ObserveSweep("cycle_invoices", metrics.OutcomeError)
		return nil, err
	}

	var (
		mu   sync.Mutex
		resp = &dto.GenerateCycleInvoicesResponse{Created: []string{}}
	)

	p := pool.New().WithMaxGoroutines(max(s.Config.Subscription.SweepWorkers, 1))
	for _, sub := range subs {
		sub := sub
		p.Go(func() {
			created, err := s.billClosedCycle(ctx, sub.TenantID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				s.Logger.Errorw("failed to invoice billing cycle", "error", err, "tenant_id", sub.TenantID, "subscription_id", sub.ID)
				resp.Failed = append(resp.Failed, sub.ID)
			case created != nil:
				resp.Created = append(resp.Created, created.ID)
			default:
				resp.Skipped = append(resp.Skipped, sub.ID)
			}
		})
	}
	p.Wait()

	outcome := metrics.OutcomeSuccess
	if len(resp.Failed) > 0 {
		outcome = metrics.OutcomeError
	}
	s.Metrics.ObserveSweep("cycle_invoices", outcome)
	s.Logger.Infow("billing cycle invoicing finished",
		"subscriptions", len(subs),
		"created", len(resp.Created),
		"skipped", len(resp.Skipped),
		"failed", len(resp.Failed),
	)
	return resp, nil
}

// billClosedCycle invoices the cycle that ended at the tenant's current period
// start. Cycles passed while dormant are not billed.
func (s *invoiceService) billClosedCycle(ctx context.Context, tenantID string) (*dto.InvoiceResponse, error) {
	result, err := s.cycles.RolloverIfDue(ctx, tenantID)
	if err != nil {
		if ierr.IsNotSubscribed(err) {
			return nil, nil
		}
		return nil, err
	}

	sub := result.Subscription
	closedEnd := sub.PeriodStart
	closedStart := closedEnd.Add(-sub.CycleLength())
	if !closedEnd.After(sub.StartDate) {
		return nil, nil
	}
	return s.CreateCycleInvoice(ctx, sub, closedStart, closedEnd)
}

func (s *invoiceService) GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	if id == "" {
		return nil, ierr.NewError("invoice_id is required").
			WithHint("Invoice ID is required").
			Mark(ierr.ErrValidation)
	}
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv, s.Clock.Now().UTC()), nil
}

func (s *invoiceService) GetInvoiceByNumber(ctx context.Context, number string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv, s.Clock.Now().UTC()), nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error) {
	if filter == nil {
		filter = types.NewInvoiceFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	invoices, err := s.InvoiceRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.InvoiceRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now().UTC()
	items := lo.Map(invoices, func(inv *invoice.Invoice, _ int) *dto.InvoiceResponse {
		return dto.NewInvoiceResponse(inv, now)
	})
	resp := types.NewListResponse(items, total, filter.GetLimit(), filter.GetOffset())
	return &resp, nil
}

// mutate applies fn to a fresh copy of the invoice until the versioned write goes through
func (s *invoiceService) mutate(ctx context.Context, id, operation string, fn func(inv *invoice.Invoice, now time.Time) error) (*invoice.Invoice, error) {
	var updated *invoice.Invoice

	err := s.retryOnConflict(ctx, operation, map[string]any{"invoice_id": id}, func(attempt int) error {
		inv, err := s.InvoiceRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(inv, s.Clock.Now().UTC()); err != nil {
			if errors.Is(err, errInvoiceUnchanged) {
				updated = inv
				return nil
			}
			return err
		}
		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *invoiceService) IssueInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.mutate(ctx, id, "issue_invoice", func(inv *invoice.Invoice, now time.Time) error {
		if err := inv.Issue(now); err != nil {
			return err
		}
		if inv.DueDate.Before(now) {
			inv.DueDate = s.defaultDueDate(now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("issued invoice", "invoice_id", inv.ID, "invoice_number", inv.InvoiceNumber, "tenant_id", inv.TenantID)
	return dto.NewInvoiceResponse(inv, s.Clock.Now().UTC()), nil
}

func (s *invoiceService) MarkPaid(ctx context.Context, id string, req dto.MarkInvoicePaidRequest) (*dto.InvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.mutate(ctx, id, "mark_invoice_paid", func(inv *invoice.Invoice, now time.Time) error {
		return inv.MarkPaid(req.PaymentMethod, req.PaymentReference, now)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("invoice paid",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"tenant_id", inv.TenantID,
		"payment_method", req.PaymentMethod,
	)
	s.publishEvent(ctx, types.WebhookEventPaymentSuccess, inv.TenantID, webhookDto.PaymentEventPayload{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		TenantID:      inv.TenantID,
		Amount:        inv.Total,
		Currency:      inv.Currency,
		PaymentMethod: req.PaymentMethod,
		Reference:     req.PaymentReference,
	})
	return dto.NewInvoiceResponse(inv, s.Clock.Now().UTC()), nil
}

func (s *invoiceService) Cancel(ctx context.Context, id string, req dto.CancelInvoiceRequest) (*dto.InvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.mutate(ctx, id, "cancel_invoice", func(inv *invoice.Invoice, now time.Time) error {
		return inv.Cancel(req.Reason, now)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("cancelled invoice", "invoice_id", inv.ID, "invoice_number", inv.InvoiceNumber, "tenant_id", inv.TenantID)
	return dto.NewInvoiceResponse(inv, s.Clock.Now().UTC()), nil
}

func (s *invoiceService) RecordPaymentFailure(ctx context.Context, id string, req dto.RecordPaymentFailureRequest) (*dto.InvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus != types.InvoiceStatusIssued {
		return nil, ierr.NewError("payment failures can only be recorded for issued invoices").
			WithHintf("Invoice %s is %s", inv.InvoiceNumber, inv.InvoiceStatus).
			WithReportableDetails(map[string]any{
				"invoice_id":     inv.ID,
				"invoice_status": inv.InvoiceStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	s.Logger.Warnw("invoice payment failed",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"tenant_id", inv.TenantID,
		"reason", req.Reason,
	)
	s.publishEvent(ctx, types.WebhookEventPaymentFailed, inv.TenantID, webhookDto.PaymentEventPayload{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		TenantID:      inv.TenantID,
		Amount:        inv.Total,
		Currency:      inv.Currency,
		PaymentMethod: req.PaymentMethod,
		FailureReason: req.Reason,
	})
	return dto.NewInvoiceResponse(inv, s.Clock.Now().UTC()), nil
}

func (s *invoiceService) AddNote(ctx context.Context, id string, req dto.AddInvoiceNoteRequest) (*dto.InvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.mutate(ctx, id, "add_invoice_note", func(inv *invoice.Invoice, now time.Time) error {
		inv.AddNote(req.Text, types.GetUserID(ctx), now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv, s.Clock.Now().UTC()), nil
}

func (s *invoiceService) NotifyOverdue(ctx context.Context) (*dto.NotifyOverdueResponse, error) {
	now := s.Clock.Now().UTC()
	filter := types.NewNoLimitInvoiceFilter()
	filter.InvoiceStatus = []types.InvoiceStatus{types.InvoiceStatusIssued}
	filter.DueBefore = lo.ToPtr(now)
	filter.OverdueUnnotified = true

	overdue, err := s.InvoiceRepo.List(ctx, filter)
	if err != nil {
		s.Metrics.ObserveSweep("overdue_invoices", metrics.OutcomeError)
		return nil, err
	}

	var (
		mu   sync.Mutex
		resp = &dto.NotifyOverdueResponse{Notified: []string{}}
	)

	p := pool.New().WithMaxGoroutines(max(s.Config.Subscription.SweepWorkers, 1))
	for _, inv := range overdue {
		inv := inv
		p.Go(func() {
			notified, err := s.markOverdueNotified(ctx, inv.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.Logger.Errorw("failed to flag overdue invoice", "error", err, "invoice_id", inv.ID, "tenant_id", inv.TenantID)
				resp.Failed = append(resp.Failed, inv.ID)
				return
			}
			if notified {
				resp.Notified = append(resp.Notified, inv.ID)
			}
		})
	}
	p.Wait()

	outcome := metrics.OutcomeSuccess
	if len(resp.Failed) > 0 {
		outcome = metrics.OutcomeError
	}
	s.Metrics.ObserveSweep("overdue_invoices", outcome)
	s.Logger.Infow("overdue invoice sweep finished", "overdue", len(overdue), "notified", len(resp.Notified), "failed", len(resp.Failed))
	return resp, nil
}

// markOverdueNotified flags the invoice and emits invoice.overdue, false when
// another sweep or a payment got there first
func (s *invoiceService) markOverdueNotified(ctx context.Context, id string) (bool, error) {
	notify := false
	inv, err := s.mutate(ctx, id, "notify_overdue", func(inv *invoice.Invoice, now time.Time) error {
		notify = inv.IsOverdue(now) && inv.OverdueNotifiedAt == nil
		if !notify {
			return errInvoiceUnchanged
		}
		inv.OverdueNotifiedAt = lo.ToPtr(now)
		return nil
	})
	if err != nil || !notify {
		return false, err
	}

	s.publishInvoiceEvent(ctx, types.WebhookEventInvoiceOverdue, inv)
	return true, nil
}

func (s *invoiceService) publishInvoiceEvent(ctx context.Context, eventName string, inv *invoice.Invoice) {
	s.publishEvent(ctx, eventName, inv.TenantID, webhookDto.InvoiceEventPayload{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		TenantID:      inv.TenantID,
		InvoiceStatus: inv.InvoiceStatus,
		Total:         inv.Total,
		Currency:      inv.Currency,
		DueDate:       inv.DueDate,
	})
}
