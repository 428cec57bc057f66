package endpoint

import (
	"log/slog"

	"github.com/gorilla/websocket"
	"go.uber.org/fx"

	"github.com/orderflow/realtime-gateway/config"
	"github.com/orderflow/realtime-gateway/internal/gateway/auth"
	"github.com/orderflow/realtime-gateway/internal/gateway/heartbeat"
	"github.com/orderflow/realtime-gateway/internal/gateway/lifecycle"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/gateway/ratelimit"
	"github.com/orderflow/realtime-gateway/internal/sector"
)

// Module provides the shared endpoint loop plus one handler per role.
var Module = fx.Module("endpoint",
	fx.Provide(
		NewBase,
		NewJWTManager,
		NewTableTokenManager,
		NewSectorRepository,
		NewWaiter,
		NewKitchen,
		NewAdmin,
		NewDiner,
	),
)

func NewBase(cfg *config.Config, lc *lifecycle.Manager, hb *heartbeat.Tracker, rl *ratelimit.Limiter, mc *metrics.Collector, logger *slog.Logger) *Base {
	b := &Base{
		Logger:         logger,
		Upgrader:       websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		Lifecycle:      lc,
		Heartbeat:      hb,
		RateLimiter:    rl,
		Metrics:        mc,
		ReceiveTimeout: cfg.ReceiveTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}
	b.SetAllowedOrigins(cfg.AllowedOrigins)
	return b
}

func NewJWTManager(cfg *config.Config) *auth.JWTManager {
	return auth.NewJWTManager(cfg.JWTSecret, cfg.JWTRevalidationInterval)
}

func NewTableTokenManager(cfg *config.Config) *auth.TableTokenManager {
	return auth.NewTableTokenManager(cfg.TableSecret)
}

func NewSectorRepository(cfg *config.Config) sector.Repository {
	return sector.NewHTTPRepository(cfg.SectorServiceURL)
}

func NewWaiter(base *Base, jwt *auth.JWTManager, sectors sector.Repository) *Waiter {
	return &Waiter{Base: base, JWT: jwt, Sectors: sectors}
}

func NewKitchen(base *Base, jwt *auth.JWTManager) *Kitchen {
	return &Kitchen{Base: base, JWT: jwt}
}

func NewAdmin(base *Base, jwt *auth.JWTManager) *Admin {
	return &Admin{Base: base, JWT: jwt}
}

func NewDiner(base *Base, tok *auth.TableTokenManager) *Diner {
	return &Diner{Base: base, Token: tok}
}
