// Package processor runs the outbox's background publish loop: claim a
// batch, publish each row to the bus, and record the outcome.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"

	"github.com/orderflow/realtime-gateway/internal/domain/outbox"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/outbox/store"
)

var tracer = otel.Tracer("github.com/orderflow/realtime-gateway/internal/outbox/processor")

const (
	defaultBatchSize    = 50
	defaultPollInterval = time.Second
	defaultStaleAfter   = 5 * time.Minute
)

// Publisher is the minimal watermill surface the processor needs.
type Publisher interface {
	Publish(topic string, messages ...*message.Message) error
}

// Config tunes the processor; zero values take package defaults.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	StaleAfter   time.Duration
	MaxRetries   int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = outbox.MaxRetries
	}
	return c
}

// Processor polls the store for PENDING rows, publishes each to the bus
// topic matching its aggregate type, and records the outcome.
type Processor struct {
	store     *store.Store
	publisher Publisher
	metrics   *metrics.Collector
	logger    *slog.Logger
	cfg       Config
}

// New builds a Processor.
func New(s *store.Store, pub Publisher, mc *metrics.Collector, logger *slog.Logger, cfg Config) *Processor {
	return &Processor{store: s, publisher: pub, metrics: mc, logger: logger, cfg: cfg.withDefaults()}
}

// Run recovers stale PROCESSING rows, then polls forever until ctx is
// canceled: immediately re-polling after a non-empty batch, sleeping
// PollInterval after an empty one.
func (p *Processor) Run(ctx context.Context) error {
	if n, err := p.store.RecoverStale(ctx, p.cfg.StaleAfter); err != nil {
		if p.logger != nil {
			p.logger.Error("outbox stale recovery failed", "error", err)
		}
	} else if n > 0 && p.logger != nil {
		p.logger.Info("recovered stale outbox rows", "count", n)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := p.processOnce(ctx)
		if err != nil && p.logger != nil {
			p.logger.Error("outbox process cycle failed", "error", err)
		}

		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.PollInterval):
			}
		}
	}
}

func (p *Processor) processOnce(ctx context.Context) (int, error) {
	rows, err := p.store.ClaimBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if p.metrics != nil {
		p.metrics.OutboxBatchSize.Observe(float64(len(rows)))
	}

	for _, row := range rows {
		p.publishOne(ctx, row)
	}
	return len(rows), nil
}

func (p *Processor) publishOne(ctx context.Context, row outbox.Row) {
	ctx, span := tracer.Start(ctx, "outbox.publish_one")
	defer span.End()

	topic := topicFor(row.AggregateType)
	msg := message.NewMessage(row.AggregateID, row.Payload)

	var payload map[string]any
	_ = json.Unmarshal(row.Payload, &payload)

	if err := p.publisher.Publish(topic, msg); err != nil {
		if markErr := p.store.MarkOutcome(ctx, row.ID, row.RetryCount, p.cfg.MaxRetries, err); markErr != nil && p.logger != nil {
			p.logger.Error("outbox mark outcome failed", "error", markErr, "row_id", row.ID)
		}
		if row.RetryCount+1 >= p.cfg.MaxRetries {
			if p.metrics != nil {
				p.metrics.OutboxFailed.Inc()
			}
		} else if p.metrics != nil {
			p.metrics.OutboxRetried.Inc()
		}
		return
	}

	if err := p.store.MarkPublished(ctx, row.ID); err != nil && p.logger != nil {
		p.logger.Error("outbox mark published failed", "error", err, "row_id", row.ID)
	}
	if p.metrics != nil {
		p.metrics.OutboxPublished.Inc()
	}
}

// topicFor maps an aggregate family to its bus publish topic, matching the
// channel families the Subscriber listens on.
func topicFor(agg outbox.AggregateType) string {
	switch agg {
	case outbox.AggregateRound, outbox.AggregateCheck, outbox.AggregateServiceCall, outbox.AggregateTable:
		return "branch." + string(agg)
	case outbox.AggregateTicket:
		return "kitchen.ticket"
	case outbox.AggregateEntity:
		return "admin.entity"
	default:
		return "admin.unknown"
	}
}
