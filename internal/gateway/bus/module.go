package bus

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/orderflow/realtime-gateway/config"
	"github.com/orderflow/realtime-gateway/internal/gateway/circuitbreaker"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
)

// Module provides the AMQP-backed publisher/subscriber pair and the
// Subscriber dispatch loop, starting and stopping it with the fx app.
var Module = fx.Module("bus",
	fx.Provide(
		NewWatermillLogger,
		NewAMQPPublisher,
		NewAMQPSubscriber,
		NewQueueFromConfig,
		NewSubscriberDispatcher,
	),
	fx.Invoke(registerSubscriberHook),
)

func NewWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

// NewAMQPPublisher builds a topic-exchange publisher the outbox processor
// uses to publish claimed rows.
func NewAMQPPublisher(cfg *config.Config, wl watermill.LoggerAdapter) (message.Publisher, error) {
	amqpConfig := amqp.NewDurablePubSubConfig(cfg.AMQPDSN, nil)
	return amqp.NewPublisher(amqpConfig, wl)
}

// NewAMQPSubscriber builds the consumer side the gateway's Subscriber polls.
func NewAMQPSubscriber(cfg *config.Config, wl watermill.LoggerAdapter) (message.Subscriber, error) {
	amqpConfig := amqp.NewDurablePubSubConfig(cfg.AMQPDSN, nil)
	return amqp.NewSubscriber(amqpConfig, wl)
}

func NewQueueFromConfig(cfg *config.Config, mc *metrics.Collector, logger *slog.Logger) *Queue {
	return NewQueue(cfg.EventQueueSize, 100,
		func() { mc.EventsDropped.Inc() },
		func() { logger.Error("dispatch queue dropped its first event") },
		func(n int) { logger.Warn("dispatch queue drop cadence", "total_drops", n) },
	)
}

func NewSubscriberDispatcher(sub message.Subscriber, q *Queue, breaker *circuitbreaker.Breaker, mc *metrics.Collector, logger *slog.Logger) *Subscriber {
	return New(sub, q, breaker, mc, logger, nil)
}

func registerSubscriberHook(lc fx.Lifecycle, s *Subscriber) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() { _ = s.Run(ctx) }()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
