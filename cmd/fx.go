package cmd

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/orderflow/realtime-gateway/config"
	"github.com/orderflow/realtime-gateway/internal/gateway/bus"
	"github.com/orderflow/realtime-gateway/internal/gateway/dispatch"
	"github.com/orderflow/realtime-gateway/internal/gateway/endpoint"
	"github.com/orderflow/realtime-gateway/internal/gateway/httpapi"
	"github.com/orderflow/realtime-gateway/internal/gateway/ratelimit"
	"github.com/orderflow/realtime-gateway/internal/gateway/state"
	"github.com/orderflow/realtime-gateway/internal/outbox"
)

// NewApp composes the gateway's fx.App: gateway in-process state, the bus
// subscriber, the dispatch loop that drains it, the outbox writer/processor,
// the endpoint handlers, and the HTTP server, in that dependency order.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideTracerProvider,
		),
		state.Module,
		bus.Module,
		dispatch.Module,
		outbox.Module,
		endpoint.Module,
		httpapi.Module,
		fx.Invoke(registerConfigWatchHook),
		fx.Invoke(registerTracingHook),
	)
}

// registerConfigWatchHook installs the fsnotify-driven config reload: on
// every change to the config file on disk, the allowed-origins list and
// rate-limit tunables are pushed live into the already-constructed Base and
// Limiter. Every other field stays fixed for the process lifetime.
func registerConfigWatchHook(lc fx.Lifecycle, cfg *config.Config, base *endpoint.Base, rl *ratelimit.Limiter, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			cfg.Watch(logger, func(reloaded *config.Config) {
				base.SetAllowedOrigins(reloaded.AllowedOrigins)
				rl.SetLimit(reloaded.MessageRateLimit, reloaded.MessageRateWindow)
			})
			return nil
		},
	})
}
