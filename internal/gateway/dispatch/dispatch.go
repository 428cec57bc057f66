// Package dispatch is the consumer that turns queued events into socket
// writes: it drains the bus queue, resolves recipients through the Router,
// and hands the batch to the Broadcaster.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/orderflow/realtime-gateway/internal/gateway/bus"
	"github.com/orderflow/realtime-gateway/internal/gateway/broadcaster"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/gateway/router"
)

var tracer = otel.Tracer("github.com/orderflow/realtime-gateway/internal/gateway/dispatch")

// Worker pops events off the bus queue and fans each one out through the
// Router and Broadcaster, one at a time per queue wakeup.
type Worker struct {
	queue       *bus.Queue
	router      *router.Router
	broadcaster *broadcaster.Broadcaster
	metrics     *metrics.Collector
	logger      *slog.Logger

	callbackTimeout time.Duration
}

// New builds a Worker. callbackTimeout bounds each event's Route+Broadcast
// call; <=0 means no deadline is applied.
func New(q *bus.Queue, r *router.Router, b *broadcaster.Broadcaster, mc *metrics.Collector, logger *slog.Logger, callbackTimeout time.Duration) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: q, router: r, broadcaster: b, metrics: mc, logger: logger, callbackTimeout: callbackTimeout}
}

// Run blocks until ctx is canceled, draining the queue every time Push
// signals it and once more on exit so nothing queued right before
// shutdown is silently dropped.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain(context.Background())
			return
		case <-w.queue.Notify():
			w.drain(ctx)
		}
	}
}

// drain pops and dispatches events until the queue is empty or ctx is
// canceled.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		qe, ok := w.queue.Pop()
		if !ok {
			return
		}
		w.dispatchOne(ctx, qe)
	}
}

func (w *Worker) dispatchOne(ctx context.Context, qe bus.QueuedEvent) {
	ctx, span := tracer.Start(ctx, "dispatch.event")
	defer span.End()

	callCtx := ctx
	cancel := func() {}
	if w.callbackTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, w.callbackTimeout)
	}
	defer cancel()

	rec := w.router.Route(qe.Event)
	_, _ = w.broadcaster.Broadcast(callCtx, qe.Event, rec)

	if callCtx.Err() == context.DeadlineExceeded {
		if w.metrics != nil {
			w.metrics.EventsCallbackTimeout.Inc()
		}
		w.logger.Warn("event dispatch callback exceeded its timeout",
			"event_type", string(qe.Event.Type()), "queued_for", time.Since(qe.EnqueuedAt))
		return
	}

	if w.metrics != nil {
		w.metrics.EventsProcessed.Inc()
	}
}
