package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/orderflow/realtime-gateway/internal/domain/event"
	"github.com/orderflow/realtime-gateway/internal/gateway/circuitbreaker"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
)

// defaultTopics are the pattern-subscribed channel families the gateway
// listens on; the concrete transport (AMQP topic exchange, etc.) is
// responsible for translating these into its own wildcard syntax.
var defaultTopics = []string{"branch.*", "sector.*", "session.*", "admin.*", "kitchen.*"}

const (
	maxMessageSize  = 1 << 20 // 1 MiB
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
	defaultMaxAttempts = 20
)

// Subscriber pattern-subscribes to the bus's channel families, validates and
// decodes each message into an Event, and enqueues it on a bounded Queue.
// Reconnects are guarded by a circuit breaker and backed off with jittered
// exponential delay.
type Subscriber struct {
	transport message.Subscriber
	queue     *Queue
	breaker   *circuitbreaker.Breaker
	metrics   *metrics.Collector
	logger    *slog.Logger
	topics    []string

	attempt int
}

// New builds a Subscriber. topics, when nil, defaults to the five channel
// families the gateway always listens on.
func New(transport message.Subscriber, queue *Queue, breaker *circuitbreaker.Breaker, mc *metrics.Collector, logger *slog.Logger, topics []string) *Subscriber {
	if topics == nil {
		topics = defaultTopics
	}
	return &Subscriber{transport: transport, queue: queue, breaker: breaker, metrics: mc, logger: logger, topics: topics}
}

// Run subscribes to every configured topic and drains each into the queue,
// blocking until ctx is canceled. A connection error on any topic triggers
// the shared reconnect/backoff path for that topic alone.
func (s *Subscriber) Run(ctx context.Context) error {
	errCh := make(chan error, len(s.topics))
	for _, topic := range s.topics {
		topic := topic
		go func() {
			errCh <- s.runTopic(ctx, topic)
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Subscriber) runTopic(ctx context.Context, topic string) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var messages <-chan *message.Message
		err := s.breaker.Execute(func() error {
			var subErr error
			messages, subErr = s.transport.Subscribe(ctx, topic)
			return subErr
		})
		if err != nil {
			if bumpErr := s.backoff(ctx); bumpErr != nil {
				return bumpErr
			}
			continue
		}

		s.attempt = 0
		s.drain(ctx, messages)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Subscriber) drain(ctx context.Context, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Subscriber) handle(msg *message.Message) {
	defer msg.Ack()

	if len(msg.Payload) > maxMessageSize {
		if s.metrics != nil {
			s.metrics.EventsInvalidSchema.Inc()
		}
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		if s.metrics != nil {
			s.metrics.EventsInvalidSchema.Inc()
		}
		return
	}

	ev, err := event.New(raw)
	if err != nil {
		if s.metrics != nil {
			s.metrics.EventsInvalidSchema.Inc()
		}
		return
	}

	dropped := s.queue.Push(ev)
	if dropped && s.logger != nil {
		s.logger.Debug("dispatch queue dropped oldest event", "event_type", ev.Type())
	}
}

// backoff sleeps min(maxDelay, base*2^attempt)*jitter and raises a fatal
// error once maxAttempts is exceeded.
func (s *Subscriber) backoff(ctx context.Context) error {
	s.attempt++
	if s.attempt > defaultMaxAttempts {
		return fmt.Errorf("bus: exceeded %d reconnect attempts", defaultMaxAttempts)
	}

	delay := defaultBaseDelay * time.Duration(1<<uint(min(s.attempt, 10)))
	if delay > defaultMaxDelay {
		delay = defaultMaxDelay
	}
	jitter := 0.5 + rand.Float64()
	sleep := time.Duration(float64(delay) * jitter)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sleep):
		return nil
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
