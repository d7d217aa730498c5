package service

import (
	"context"
	"encoding/json"

	"github.com/deskflow/billing/internal/metrics"
	"github.com/deskflow/billing/internal/types"
)

// publishEvent hands a notification to the delivery collaborator on its own
// goroutine. The caller never waits for, or fails because of, delivery.
func (p ServiceParams) publishEvent(ctx context.Context, eventName, tenantID string, payload any) {
	if p.WebhookPublisher == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.Logger.Errorw("failed to marshal webhook payload", "error", err, "event_name", eventName)
		return
	}

	event := &types.WebhookEvent{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT),
		EventName: eventName,
		TenantID:  tenantID,
		UserID:    types.GetUserID(ctx),
		Timestamp: p.Clock.Now().UTC(),
		Payload:   json.RawMessage(data),
	}

	// delivery must outlive the request that triggered it
	pubCtx := context.WithoutCancel(ctx)
	go func() {
		if err := p.WebhookPublisher.PublishWebhook(pubCtx, event); err != nil {
			p.Metrics.ObserveNotification(eventName, metrics.OutcomeError)
			p.Logger.Errorf("failed to publish %s event: %v", event.EventName, err)
			return
		}
		p.Metrics.ObserveNotification(eventName, metrics.OutcomeSuccess)
	}()
}
