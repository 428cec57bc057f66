// Package state is the composition root for the gateway's in-process
// components: every piece from lockmgr through the cleanup worker, wired
// together as one fx.Module.
package state

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/orderflow/realtime-gateway/config"
	"github.com/orderflow/realtime-gateway/internal/domain/event"
	"github.com/orderflow/realtime-gateway/internal/gateway/broadcaster"
	"github.com/orderflow/realtime-gateway/internal/gateway/circuitbreaker"
	"github.com/orderflow/realtime-gateway/internal/gateway/cleanup"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/droptracker"
	"github.com/orderflow/realtime-gateway/internal/gateway/heartbeat"
	"github.com/orderflow/realtime-gateway/internal/gateway/lifecycle"
	"github.com/orderflow/realtime-gateway/internal/gateway/lockmgr"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/gateway/ratelimit"
	"github.com/orderflow/realtime-gateway/internal/gateway/router"
)

// Module provides every gateway-domain component for fx to wire into the
// HTTP handlers, the bus subscriber, and the cleanup worker.
var Module = fx.Module("gateway",
	fx.Provide(
		NewLockManager,
		NewConnIndex,
		NewHeartbeatTracker,
		NewRateLimiter,
		NewGlobalBroadcastLimiter,
		NewMetricsCollector,
		NewDropTracker,
		NewCircuitBreaker,
		NewRouter,
		NewLifecycleManager,
		NewCleanupWorker,
		NewBroadcaster,
	),
	fx.Invoke(registerCleanupHook),
)

func NewLockManager(cfg *config.Config) *lockmgr.Manager {
	return lockmgr.New(10000)
}

func NewConnIndex(locks *lockmgr.Manager) *connindex.Index {
	return connindex.New(locks)
}

func NewHeartbeatTracker(cfg *config.Config) *heartbeat.Tracker {
	return heartbeat.New(cfg.HeartbeatTimeout)
}

func NewRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		Limit:  cfg.MessageRateLimit,
		Window: cfg.MessageRateWindow,
	})
}

func NewGlobalBroadcastLimiter(cfg *config.Config) *ratelimit.GlobalLimiter {
	return ratelimit.NewGlobalLimiter(10, 0)
}

func NewMetricsCollector() *metrics.Collector {
	return metrics.New(prometheus.DefaultRegisterer)
}

func NewDropTracker() *droptracker.Tracker {
	return droptracker.New(0, 0, 0)
}

func NewCircuitBreaker(logger *slog.Logger) *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		Name: "bus-subscriber",
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.Info("circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})
}

func NewRouter(ix *connindex.Index, logger *slog.Logger) *router.Router {
	return router.New(ix,
		func(t event.Type) { logger.Warn("unknown event type (first occurrence)", "type", string(t)) },
		func(t event.Type) { logger.Warn("unknown event type (reappeared after eviction)", "type", string(t)) },
	)
}

func NewLifecycleManager(locks *lockmgr.Manager, ix *connindex.Index, hb *heartbeat.Tracker, rl *ratelimit.Limiter, mc *metrics.Collector, cfg *config.Config) *lifecycle.Manager {
	return lifecycle.New(locks, ix, hb, rl, mc, cfg.MaxTotalConnections, cfg.MaxConnectionsPerUser, nil)
}

func NewCleanupWorker(hb *heartbeat.Tracker, locks *lockmgr.Manager, ix *connindex.Index, lc *lifecycle.Manager, mc *metrics.Collector) *cleanup.Worker {
	return cleanup.New(hb, locks, ix, lc, mc, 0, 0, 0)
}

// NewBroadcaster wires the cleanup worker in as the broadcaster's dead-
// connection sink: a failed send folds that connection into the next
// cleanup sweep instead of the broadcaster managing its own teardown path.
func NewBroadcaster(limiter *ratelimit.GlobalLimiter, mc *metrics.Collector, worker *cleanup.Worker) *broadcaster.Broadcaster {
	return broadcaster.New(limiter, mc, worker)
}

func registerCleanupHook(lc fx.Lifecycle, worker *cleanup.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
