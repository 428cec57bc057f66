package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"go.uber.org/fx"

	"github.com/orderflow/realtime-gateway/config"
	"github.com/orderflow/realtime-gateway/internal/gateway/endpoint"
)

// Module wires the four role handlers onto a chi mux and starts/stops the
// HTTP server with the fx app's lifecycle.
var Module = fx.Module("httpapi",
	fx.Provide(NewHandlers),
	fx.Invoke(registerServerHook),
)

func NewHandlers(w *endpoint.Waiter, k *endpoint.Kitchen, a *endpoint.Admin, d *endpoint.Diner) Handlers {
	return Handlers{Waiter: w, Kitchen: k, Admin: a, Diner: d}
}

func registerServerHook(lc fx.Lifecycle, cfg *config.Config, h Handlers, logger *slog.Logger) {
	srv := &http.Server{Handler: NewRouter(h)}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("http server stopped", "error", err)
				}
			}()
			logger.Info("listening", "addr", cfg.ListenAddr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
