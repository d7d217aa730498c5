package types

import (
	"encoding/json"
	"time"
)

// WebhookEvent represents a notification event handed to the delivery collaborator
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventName string          `json:"event_name"`
	TenantID  string          `json:"tenant_id"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// subscription event names
const (
	WebhookEventSubscriptionCreated      = "subscription.created"
	WebhookEventSubscriptionCancelled    = "subscription.cancelled"
	WebhookEventSubscriptionExpired      = "subscription.expired"
	WebhookEventSubscriptionLimitWarning = "subscription.limit_warning"
)

// invoice event names
const (
	WebhookEventInvoiceCreated = "invoice.created"
	WebhookEventInvoiceOverdue = "invoice.overdue"
)

// payment event names
const (
	WebhookEventPaymentSuccess = "payment.success"
	WebhookEventPaymentFailed  = "payment.failed"
)
