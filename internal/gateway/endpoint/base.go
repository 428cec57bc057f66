// Package endpoint implements the four WebSocket-facing roles (waiter,
// kitchen, admin, diner) on top of a shared accept/receive/disconnect loop
// skeleton.
package endpoint

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orderflow/realtime-gateway/internal/domain/closecode"
	"github.com/orderflow/realtime-gateway/internal/gateway/auth"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/heartbeat"
	"github.com/orderflow/realtime-gateway/internal/gateway/lifecycle"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/gateway/ratelimit"
)

const (
	defaultReceiveTimeout = 90 * time.Second
	defaultMaxMessageSize = 64 * 1024
)

// MessageHandler processes one inbound application message (anything that
// isn't the built-in heartbeat frame).
type MessageHandler func(ctx context.Context, conn *connindex.Connection, identity auth.Identity, raw []byte) error

// PreMessageHook runs before every received frame; returning an error closes
// the connection with AUTH_FAILED. Used for the waiter/kitchen JWT
// revalidation cadence.
type PreMessageHook func(ctx context.Context, identity auth.Identity) error

// Base wires the shared endpoint loop: origin check, lifecycle accept,
// receive-with-timeout, size check, rate limiting, heartbeat recording, an
// optional pre-message hook, heartbeat-frame auto-reply, and delegation to
// a role-specific MessageHandler.
type Base struct {
	Logger        *slog.Logger
	Upgrader      websocket.Upgrader
	Lifecycle     *lifecycle.Manager
	Heartbeat     *heartbeat.Tracker
	RateLimiter   *ratelimit.Limiter
	Metrics       *metrics.Collector

	originsMu      sync.RWMutex
	allowedOrigins map[string]struct{}

	ReceiveTimeout time.Duration
	MaxMessageSize int64
}

// SetAllowedOrigins replaces the origin allow-list live, e.g. from a config
// hot-reload. An empty list permits every origin.
func (b *Base) SetAllowedOrigins(origins []string) {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(o)] = struct{}{}
	}
	b.originsMu.Lock()
	b.allowedOrigins = allowed
	b.originsMu.Unlock()
}

type heartbeatFrame struct {
	Type string `json:"type"`
}

// ValidateOrigin reports whether the request's Origin header is in the
// configured allow-list; an empty allow-list permits everything (useful for
// tests and local development).
func (b *Base) ValidateOrigin(r *http.Request) bool {
	b.originsMu.RLock()
	defer b.originsMu.RUnlock()
	if len(b.allowedOrigins) == 0 {
		return true
	}
	origin := strings.ToLower(r.Header.Get("Origin"))
	_, ok := b.allowedOrigins[origin]
	return ok
}

// Serve runs the accept → receive loop → disconnect lifecycle for one
// connection. identity has already been resolved by the caller (JWT or
// table token verification happens before Serve is invoked, since the
// specific claims differ per role).
func (b *Base) Serve(w http.ResponseWriter, r *http.Request, req lifecycle.AcceptRequest, pre PreMessageHook, handle MessageHandler, identity auth.Identity) {
	if !b.ValidateOrigin(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var upgraded *websocket.Conn
	conn, err := b.Lifecycle.Accept(r.Context(), req, func() (*websocket.Conn, error) {
		ws, err := b.Upgrader.Upgrade(w, r, nil)
		upgraded = ws
		return ws, err
	})
	if err != nil {
		if b.Logger != nil {
			b.Logger.Warn("connection accept failed", "error", err)
		}
		if upgraded != nil {
			upgraded.Close()
		}
		return
	}
	defer b.Lifecycle.Disconnect(conn)

	timeout := b.ReceiveTimeout
	if timeout <= 0 {
		timeout = defaultReceiveTimeout
	}
	maxSize := b.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	ws := conn.Underlying()
	ws.SetReadLimit(maxSize)

	ctx := r.Context()
	for {
		_ = ws.SetReadDeadline(time.Now().Add(timeout))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if b.Metrics != nil {
				b.Metrics.ConnectionsTimeouts.Inc()
			}
			return
		}

		if int64(len(raw)) > maxSize {
			conn.Close(int(closecode.MessageTooBig), "message too large")
			return
		}

		if b.RateLimiter != nil && !b.RateLimiter.Allow(conn) {
			conn.Close(int(closecode.RateLimited), "rate limit exceeded")
			return
		}

		if b.Heartbeat != nil {
			b.Heartbeat.Record(conn, time.Time{})
		}

		if pre != nil {
			if err := pre(ctx, identity); err != nil {
				conn.Close(int(closecode.AuthFailed), "re-authentication failed")
				return
			}
		}

		var frame heartbeatFrame
		if json.Unmarshal(raw, &frame) == nil && frame.Type == "heartbeat" {
			conn.Send(mustMarshal(map[string]string{"type": "pong"}))
			continue
		}

		if err := handle(ctx, conn, identity, raw); err != nil && b.Logger != nil {
			b.Logger.Warn("message handler error", "error", err)
		}
	}
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
