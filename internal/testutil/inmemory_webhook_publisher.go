package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/deskflow/billing/internal/types"
	"github.com/samber/lo"
)

// InMemoryWebhookPublisher records published notification events
type InMemoryWebhookPublisher struct {
	mu     sync.RWMutex
	events []*types.WebhookEvent
	err    error
}

func NewInMemoryWebhookPublisher() *InMemoryWebhookPublisher {
	return &InMemoryWebhookPublisher{}
}

func (p *InMemoryWebhookPublisher) PublishWebhook(ctx context.Context, event *types.WebhookEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *InMemoryWebhookPublisher) Close() error {
	return nil
}

// SetError makes every later publish fail with err
func (p *InMemoryWebhookPublisher) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Events returns the recorded events with the given name, all events when name is empty
func (p *InMemoryWebhookPublisher) Events(name string) []*types.WebhookEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Filter(p.events, func(e *types.WebhookEvent, _ int) bool {
		return name == "" || e.EventName == name
	})
}

// WaitForEvents polls until at least n events named name were recorded or timeout passes.
// Notifications are sent from background goroutines so tests have to wait for them.
func (p *InMemoryWebhookPublisher) WaitForEvents(name string, n int, timeout time.Duration) []*types.WebhookEvent {
	deadline := time.Now().Add(timeout)
	for {
		events := p.Events(name)
		if len(events) >= n || time.Now().After(deadline) {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Clear drops all recorded events
func (p *InMemoryWebhookPublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.err = nil
}
