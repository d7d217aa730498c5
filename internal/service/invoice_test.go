package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/deskflow/billing/internal/api/dto"
	"github.com/deskflow/billing/internal/domain/subscription"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/testutil"
	"github.com/deskflow/billing/internal/types"
	webhookDto "github.com/deskflow/billing/internal/webhook/dto"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type InvoiceServiceSuite struct {
	testutil.BaseServiceTestSuite
	service     InvoiceService
	invoiceRepo *testutil.InMemoryInvoiceStore
}

func TestInvoiceService(t *testing.T) {
	suite.Run(t, new(InvoiceServiceSuite))
}

func (s *InvoiceServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.invoiceRepo = s.GetStores().InvoiceRepo.(*testutil.InMemoryInvoiceStore)

	params := newTestServiceParams(&s.BaseServiceTestSuite, nil)
	s.service = NewInvoiceService(params, NewInvoiceNumberService(params), NewBillingCycleService(params))
}

func (s *InvoiceServiceSuite) createRequest() dto.CreateInvoiceRequest {
	return dto.CreateInvoiceRequest{
		TenantID:    "t1",
		PeriodStart: s.GetNow().AddDate(0, -1, 0),
		PeriodEnd:   s.GetNow(),
		LineItems: []dto.CreateInvoiceLineItemRequest{
			{Description: "Basic plan", Quantity: decimal.NewFromInt(1), UnitAmount: decimal.NewFromInt(29)},
			{Description: "Extra seats", Quantity: decimal.NewFromInt(3), UnitAmount: decimal.RequireFromString("4.50")},
		},
		Notes: "first invoice",
	}
}

func (s *InvoiceServiceSuite) TestCreateInvoice() {
	resp, err := s.service.CreateInvoice(s.GetContext(), s.createRequest())
	s.Require().NoError(err)

	s.Equal("INV-202501-0001", resp.InvoiceNumber)
	s.Equal(types.InvoiceStatusDraft, resp.InvoiceStatus)
	s.Equal("usd", resp.Currency)
	s.True(decimal.RequireFromString("42.50").Equal(resp.Total))
	s.True(resp.DueDate.Equal(s.GetNow().AddDate(0, 0, 15)))
	s.Len(resp.LineItems, 2)
	s.Len(resp.Notes, 1)
	s.False(resp.Overdue)

	second, err := s.service.CreateInvoice(s.GetContext(), s.createRequest())
	s.Require().NoError(err)
	s.Equal("INV-202501-0002", second.InvoiceNumber)

	events := s.GetWebhookPublisher().WaitForEvents(types.WebhookEventInvoiceCreated, 2, time.Second)
	s.Len(events, 2)

	byNumber, err := s.service.GetInvoiceByNumber(s.GetContext(), "INV-202501-0001")
	s.Require().NoError(err)
	s.Equal(resp.ID, byNumber.ID)
}

func (s *InvoiceServiceSuite) TestCreateInvoiceValidation() {
	req := s.createRequest()
	req.LineItems = nil
	_, err := s.service.CreateInvoice(s.GetContext(), req)
	s.True(ierr.IsValidation(err))

	req = s.createRequest()
	req.PeriodEnd = req.PeriodStart.Add(-time.Hour)
	_, err = s.service.CreateInvoice(s.GetContext(), req)
	s.True(ierr.IsValidation(err))

	// no number is burnt on invalid input
	s.Equal(0, s.GetSequenceStore().Calls())
}

func (s *InvoiceServiceSuite) TestLifecycle() {
	created, err := s.service.CreateInvoice(s.GetContext(), s.createRequest())
	s.Require().NoError(err)

	_, err = s.service.MarkPaid(s.GetContext(), created.ID, dto.MarkInvoicePaidRequest{
		PaymentMethod: types.PaymentMethodCard, PaymentReference: "ch_1",
	})
	s.True(ierr.IsInvalidOperation(err), "a draft cannot be paid")

	issued, err := s.service.IssueInvoice(s.GetContext(), created.ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusIssued, issued.InvoiceStatus)

	paid, err := s.service.MarkPaid(s.GetContext(), created.ID, dto.MarkInvoicePaidRequest{
		PaymentMethod: types.PaymentMethodCard, PaymentReference: "ch_1",
	})
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, paid.InvoiceStatus)
	s.Equal("ch_1", lo.FromPtr(paid.PaymentReference))
	s.NotNil(paid.PaidAt)

	_, err = s.service.Cancel(s.GetContext(), created.ID, dto.CancelInvoiceRequest{Reason: "duplicate"})
	s.True(ierr.IsInvalidOperation(err), "paid is terminal")

	// notes are allowed in any status
	noted, err := s.service.AddNote(s.GetContext(), created.ID, dto.AddInvoiceNoteRequest{Text: "refund requested"})
	s.Require().NoError(err)
	s.Len(noted.Notes, 2)
	s.Equal(types.InvoiceStatusPaid, noted.InvoiceStatus)

	events := s.GetWebhookPublisher().WaitForEvents(types.WebhookEventPaymentSuccess, 1, time.Second)
	s.Require().Len(events, 1)
	var payload webhookDto.PaymentEventPayload
	s.Require().NoError(json.Unmarshal(events[0].Payload, &payload))
	s.Equal(created.InvoiceNumber, payload.InvoiceNumber)
	s.True(created.Total.Equal(payload.Amount))
}

func (s *InvoiceServiceSuite) TestCancelIsTerminal() {
	created, err := s.service.CreateInvoice(s.GetContext(), s.createRequest())
	s.Require().NoError(err)

	cancelled, err := s.service.Cancel(s.GetContext(), created.ID, dto.CancelInvoiceRequest{Reason: "wrong tenant"})
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusCancelled, cancelled.InvoiceStatus)
	s.Equal("wrong tenant", lo.FromPtr(cancelled.CancellationReason))

	_, err = s.service.IssueInvoice(s.GetContext(), created.ID)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestRecordPaymentFailure() {
	req := s.createRequest()
	req.Issue = true
	created, err := s.service.CreateInvoice(s.GetContext(), req)
	s.Require().NoError(err)

	resp, err := s.service.RecordPaymentFailure(s.GetContext(), created.ID, dto.RecordPaymentFailureRequest{
		PaymentMethod: types.PaymentMethodCard,
		Reason:        "card declined",
	})
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusIssued, resp.InvoiceStatus)
	s.Equal(created.Version, resp.Version)

	events := s.GetWebhookPublisher().WaitForEvents(types.WebhookEventPaymentFailed, 1, time.Second)
	s.Require().Len(events, 1)
	var payload webhookDto.PaymentEventPayload
	s.Require().NoError(json.Unmarshal(events[0].Payload, &payload))
	s.Equal("card declined", payload.FailureReason)
}

func (s *InvoiceServiceSuite) TestNotifyOverdueOnce() {
	req := s.createRequest()
	req.Issue = true
	overdue, err := s.service.CreateInvoice(s.GetContext(), req)
	s.Require().NoError(err)

	draft, err := s.service.CreateInvoice(s.GetContext(), s.createRequest())
	s.Require().NoError(err)

	s.GetClock().Advance(16 * 24 * time.Hour)

	got, err := s.service.GetInvoice(s.GetContext(), overdue.ID)
	s.Require().NoError(err)
	s.True(got.Overdue)

	resp, err := s.service.NotifyOverdue(s.GetContext())
	s.Require().NoError(err)
	s.Equal([]string{overdue.ID}, resp.Notified)

	resp, err = s.service.NotifyOverdue(s.GetContext())
	s.Require().NoError(err)
	s.Empty(resp.Notified)

	events := s.GetWebhookPublisher().WaitForEvents(types.WebhookEventInvoiceOverdue, 1, time.Second)
	s.Require().Len(events, 1)

	stored, err := s.invoiceRepo.Get(s.GetContext(), overdue.ID)
	s.Require().NoError(err)
	s.NotNil(stored.OverdueNotifiedAt)

	untouched, err := s.invoiceRepo.Get(s.GetContext(), draft.ID)
	s.Require().NoError(err)
	s.Nil(untouched.OverdueNotifiedAt)
}

func (s *InvoiceServiceSuite) TestGenerateCycleInvoices() {
	start := s.GetNow().AddDate(0, 0, -31)
	basic := seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.PeriodStart = start
		sub.StartDate = start
		sub.CurrentCount = 120
	})
	// free plans are never billed
	seedSubscription(&s.BaseServiceTestSuite, "t2", types.PlanTierFreemium, func(sub *subscription.Subscription) {
		sub.PeriodStart = start
		sub.StartDate = start
	})
	// still in its first cycle
	seedSubscription(&s.BaseServiceTestSuite, "t3", types.PlanTierProfessional, nil)

	resp, err := s.service.GenerateCycleInvoices(s.GetContext())
	s.Require().NoError(err)
	s.Require().Len(resp.Created, 1)
	s.Len(resp.Skipped, 2)
	s.Empty(resp.Failed)

	inv, err := s.invoiceRepo.Get(s.GetContext(), resp.Created[0])
	s.Require().NoError(err)
	s.Equal(basic.ID, inv.SubscriptionID)
	s.Equal(types.InvoiceStatusIssued, inv.InvoiceStatus)
	s.True(inv.PeriodStart.Equal(start))
	s.True(inv.PeriodEnd.Equal(start.AddDate(0, 0, 30)))
	s.True(decimal.NewFromInt(29).Equal(inv.Total))

	// the rollover ran as part of invoicing
	rolled, err := s.GetStores().SubscriptionRepo.GetActiveByTenant(s.GetContext(), "t1")
	s.Require().NoError(err)
	s.Equal(int64(0), rolled.CurrentCount)

	// rerunning the same cycle bills nothing new
	resp, err = s.service.GenerateCycleInvoices(s.GetContext())
	s.Require().NoError(err)
	s.Empty(resp.Created)

	filter := types.NewInvoiceFilter()
	filter.SubscriptionID = basic.ID
	list, err := s.service.ListInvoices(s.GetContext(), filter)
	s.Require().NoError(err)
	s.Equal(1, list.Pagination.Total)
}

func (s *InvoiceServiceSuite) TestCancelledCycleInvoiceIsNotRebilled() {
	start := s.GetNow().AddDate(0, 0, -31)
	basic := seedSubscription(&s.BaseServiceTestSuite, "t1", types.PlanTierBasic, func(sub *subscription.Subscription) {
		sub.PeriodStart = start
		sub.StartDate = start
	})

	resp, err := s.service.GenerateCycleInvoices(s.GetContext())
	s.Require().NoError(err)
	s.Require().Len(resp.Created, 1)
	s.Equal(1, s.GetSequenceStore().Calls())

	_, err = s.service.Cancel(s.GetContext(), resp.Created[0], dto.CancelInvoiceRequest{Reason: "waived by support"})
	s.Require().NoError(err)

	resp, err = s.service.GenerateCycleInvoices(s.GetContext())
	s.Require().NoError(err)
	s.Empty(resp.Created)
	s.Equal([]string{basic.ID}, resp.Skipped)

	// skipped cycles leave the sequence untouched
	s.Equal(1, s.GetSequenceStore().Calls())

	filter := types.NewInvoiceFilter()
	filter.SubscriptionID = basic.ID
	list, err := s.service.ListInvoices(s.GetContext(), filter)
	s.Require().NoError(err)
	s.Require().Equal(1, list.Pagination.Total)
	s.Equal(types.InvoiceStatusCancelled, list.Items[0].InvoiceStatus)
}

func (s *InvoiceServiceSuite) TestListInvoicesByStatus() {
	req := s.createRequest()
	req.Issue = true
	_, err := s.service.CreateInvoice(s.GetContext(), req)
	s.Require().NoError(err)
	_, err = s.service.CreateInvoice(s.GetContext(), s.createRequest())
	s.Require().NoError(err)

	filter := types.NewInvoiceFilter()
	filter.TenantID = "t1"
	filter.InvoiceStatus = []types.InvoiceStatus{types.InvoiceStatusIssued}
	resp, err := s.service.ListInvoices(s.GetContext(), filter)
	s.Require().NoError(err)
	s.Len(resp.Items, 1)
	s.Equal(types.InvoiceStatusIssued, resp.Items[0].InvoiceStatus)
}
