package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"

	"github.com/orderflow/realtime-gateway/internal/gateway/circuitbreaker"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
)

func newTestSubscriber() *Subscriber {
	q := NewQueue(10, 100, nil, nil, nil)
	br := circuitbreaker.New(circuitbreaker.Config{})
	return New(nil, q, br, metrics.New(nil), nil, nil)
}

func TestHandle_EnqueuesValidEvent(t *testing.T) {
	s := newTestSubscriber()
	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"type":"ROUND_SUBMITTED","tenant_id":1}`))

	s.handle(msg)
	assert.Equal(t, 1, s.queue.Len())
}

func TestHandle_DropsOversizedPayload(t *testing.T) {
	s := newTestSubscriber()
	huge := make([]byte, maxMessageSize+1)
	msg := message.NewMessage(watermill.NewUUID(), huge)

	s.handle(msg)
	assert.Equal(t, 0, s.queue.Len())
}

func TestHandle_DropsInvalidJSON(t *testing.T) {
	s := newTestSubscriber()
	msg := message.NewMessage(watermill.NewUUID(), []byte(`not-json`))

	s.handle(msg)
	assert.Equal(t, 0, s.queue.Len())
}

func TestHandle_DropsSchemaInvalidEvent(t *testing.T) {
	s := newTestSubscriber()
	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"tenant_id":1}`))

	s.handle(msg)
	assert.Equal(t, 0, s.queue.Len())
}

func TestNew_DefaultsToFiveTopicFamilies(t *testing.T) {
	s := New(nil, NewQueue(1, 1, nil, nil, nil), circuitbreaker.New(circuitbreaker.Config{}), nil, nil, nil)
	assert.Equal(t, defaultTopics, s.topics)
}

func TestRunTopic_ReturnsImmediatelyOnCanceledContext(t *testing.T) {
	s := newTestSubscriber()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- s.runTopic(ctx, "branch.*") }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runTopic did not return promptly on a canceled context")
	}
}
