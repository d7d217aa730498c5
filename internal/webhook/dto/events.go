package dto

import (
	"time"

	"github.com/deskflow/billing/internal/types"
	"github.com/shopspring/decimal"
)

// SubscriptionEventPayload is sent with subscription.created, subscription.cancelled and subscription.expired
type SubscriptionEventPayload struct {
	SubscriptionID     string                   `json:"subscription_id"`
	TenantID           string                   `json:"tenant_id"`
	PlanTier           types.PlanTier           `json:"plan_tier"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	EndDate            *time.Time               `json:"end_date,omitempty"`
}

// LimitWarningPayload is sent once per cycle when usage crosses the warning threshold
type LimitWarningPayload struct {
	SubscriptionID   string         `json:"subscription_id"`
	TenantID         string         `json:"tenant_id"`
	PlanTier         types.PlanTier `json:"plan_tier"`
	MonthlyLimit     int64          `json:"monthly_limit"`
	CurrentCount     int64          `json:"current_count"`
	UsagePercentage  float64        `json:"usage_percentage"`
	ThresholdPercent float64        `json:"threshold_percent"`
	PeriodEnd        time.Time      `json:"period_end"`
}

type InvoiceEventPayload struct {
	InvoiceID     string              `json:"invoice_id"`
	InvoiceNumber string              `json:"invoice_number"`
	TenantID      string              `json:"tenant_id"`
	InvoiceStatus types.InvoiceStatus `json:"invoice_status"`
	Total         decimal.Decimal     `json:"total"`
	Currency      string              `json:"currency"`
	DueDate       time.Time           `json:"due_date"`
}

type PaymentEventPayload struct {
	InvoiceID     string              `json:"invoice_id"`
	InvoiceNumber string              `json:"invoice_number"`
	TenantID      string              `json:"tenant_id"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	PaymentMethod types.PaymentMethod `json:"payment_method,omitempty"`
	Reference     string              `json:"reference,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
}
