// Package connindex owns the live Connection type and the multi-dimensional
// connection index: the single place that materializes which sockets
// belong to which tenant/branch/sector/session/user/role bucket.
package connindex

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps a live WebSocket with the send-side backpressure
// handling pattern used throughout the corpus (buffered channel + a
// dedicated write pump goroutine, with idempotent Close via sync.Once) so
// a single slow client can never block the broadcaster or the bus
// dispatch loop.
type Connection struct {
	ID uuid.UUID

	ws *websocket.Conn

	TenantID int64
	UserID   int64 // positive for staff, -SessionID for diners
	IsAdmin  bool
	IsKitchen bool

	BranchIDs []int64
	SectorIDs []int64
	SessionIDs map[int64]struct{}

	sendCh    chan []byte
	closeOnce sync.Once
	closed    atomic.Bool
	doneCh    chan struct{}
}

const defaultSendBuffer = 256

// NewConnection wraps ws and starts its write pump. The caller is
// responsible for registering the Connection with an Index under the
// canonical lock order before traffic flows.
func NewConnection(ws *websocket.Conn, tenantID int64, userID int64) *Connection {
	c := &Connection{
		ID:         uuid.New(),
		ws:         ws,
		TenantID:   tenantID,
		UserID:     userID,
		SessionIDs: make(map[int64]struct{}),
		sendCh:     make(chan []byte, defaultSendBuffer),
		doneCh:     make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *Connection) writePump() {
	for {
		select {
		case <-c.doneCh:
			return
		case msg, ok := <-c.sendCh:
			if !ok {
				return
			}
			_ = c.ws.WriteMessage(websocket.TextMessage, msg)
		}
	}
}

// Send enqueues msg for delivery without blocking the caller. Returns false
// (and marks nothing itself -- the caller, typically the broadcaster,
// decides what "false" means for dead-connection bookkeeping) if the
// connection is closed or its buffer is full.
func (c *Connection) Send(msg []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.sendCh <- msg:
		return true
	default:
		return false
	}
}

// IsConnected reports whether the connection is still open from the
// gateway's point of view (application-level state, independent of the
// underlying transport's own notion).
func (c *Connection) IsConnected() bool { return !c.closed.Load() }

// Close idempotently tears the connection down: stops the write pump,
// closes the underlying socket with the given close code/reason, and is
// safe to call concurrently from the broadcaster, the cleanup worker, and
// the endpoint handler's own defer.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.doneCh)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
	})
}

// Underlying exposes the raw socket for the endpoint's receive loop. Only
// the owning endpoint handler should call ReadMessage on it.
func (c *Connection) Underlying() *websocket.Conn { return c.ws }
