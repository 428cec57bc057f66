package dispatch

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/orderflow/realtime-gateway/config"
	"github.com/orderflow/realtime-gateway/internal/gateway/broadcaster"
	"github.com/orderflow/realtime-gateway/internal/gateway/bus"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/gateway/router"
)

// Module provides the dispatch Worker and starts/stops it with the fx app.
var Module = fx.Module("dispatch",
	fx.Provide(NewWorker),
	fx.Invoke(registerDispatchHook),
)

func NewWorker(cfg *config.Config, q *bus.Queue, r *router.Router, b *broadcaster.Broadcaster, mc *metrics.Collector, logger *slog.Logger) *Worker {
	return New(q, r, b, mc, logger, cfg.EventCallbackTimeout)
}

func registerDispatchHook(lc fx.Lifecycle, w *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go w.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
