// Package httpapi mounts the four WebSocket role endpoints and the
// Prometheus scrape handler onto a chi router.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orderflow/realtime-gateway/internal/gateway/endpoint"
)

// Handlers bundles the four role endpoints this package wires onto routes.
type Handlers struct {
	Waiter  *endpoint.Waiter
	Kitchen *endpoint.Kitchen
	Admin   *endpoint.Admin
	Diner   *endpoint.Diner
}

// NewRouter builds the chi mux: one route per role under /ws, plus /metrics
// and /healthz.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/ws", func(r chi.Router) {
		r.Get("/waiter", h.Waiter.ServeHTTP)
		r.Get("/kitchen", h.Kitchen.ServeHTTP)
		r.Get("/admin", h.Admin.ServeHTTP)
		r.Get("/diner", h.Diner.ServeHTTP)
	})

	return r
}
