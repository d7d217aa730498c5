package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/deskflow/billing/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSubDeliversToSubscriber(t *testing.T) {
	ps := NewPubSub(logger.NewNopLogger())
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "notifications", message.NewMessage("m1", []byte(`{"event_name":"invoice.created"}`))))

	ch, err := ps.Subscribe(ctx, "notifications")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, "m1", msg.UUID)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message published before subscribing was not delivered")
	}
}
