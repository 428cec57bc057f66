package lifecycle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/heartbeat"
	"github.com/orderflow/realtime-gateway/internal/gateway/lockmgr"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/gateway/ratelimit"
)

// newWSPair spins up a real websocket server and dials it, returning the
// server-side connection: Accept/Disconnect close real sockets, so tests
// need something other than a nil *websocket.Conn to exercise safely.
func newWSPair(t *testing.T) *websocket.Conn {
	t.Helper()
	var upgrader websocket.Upgrader
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	return <-serverConnCh
}

func newManager(t *testing.T, globalCap, perUserCap int) *Manager {
	t.Helper()
	locks := lockmgr.New(1000)
	ix := connindex.New(locks)
	hb := heartbeat.New(time.Minute)
	rl := ratelimit.New(ratelimit.Config{Limit: 100, Window: time.Second})
	mc := metrics.New(nil)
	return New(locks, ix, hb, rl, mc, globalCap, perUserCap, nil)
}

func TestAccept_RegistersAcrossAllDimensions(t *testing.T) {
	m := newManager(t, 0, 0)
	ws := newWSPair(t)

	conn, err := m.Accept(context.Background(), AcceptRequest{
		TenantID: 1, UserID: 42, BranchIDs: []int64{5, 3}, SectorIDs: []int64{9},
	}, func() (*websocket.Conn, error) { return ws, nil })
	require.NoError(t, err)
	require.NotNil(t, conn)

	assert.Equal(t, []*connindex.Connection{conn}, m.index.BySector(9))
	assert.Contains(t, m.index.ByBranch(3), conn)
	assert.Contains(t, m.index.ByBranch(5), conn)

	m.Disconnect(conn)
	assert.Empty(t, m.index.BySector(9))
}

func TestAccept_RejectsInvalidBranchIDs(t *testing.T) {
	m := newManager(t, 0, 0)
	_, err := m.Accept(context.Background(), AcceptRequest{
		TenantID: 1, UserID: 1, BranchIDs: []int64{0},
	}, func() (*websocket.Conn, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrInvalidBranch)
}

func TestAccept_RejectsWhenShuttingDown(t *testing.T) {
	locks := lockmgr.New(1000)
	ix := connindex.New(locks)
	m := New(locks, ix, heartbeat.New(time.Minute), nil, metrics.New(nil), 0, 0, func() bool { return true })

	_, err := m.Accept(context.Background(), AcceptRequest{TenantID: 1, UserID: 1, BranchIDs: []int64{1}}, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestAccept_RejectsOverGlobalCapacity(t *testing.T) {
	m := newManager(t, 1, 0)
	ws1 := newWSPair(t)
	_, err := m.Accept(context.Background(), AcceptRequest{TenantID: 1, UserID: 1, BranchIDs: []int64{1}}, func() (*websocket.Conn, error) { return ws1, nil })
	require.NoError(t, err)

	_, err = m.Accept(context.Background(), AcceptRequest{TenantID: 1, UserID: 2, BranchIDs: []int64{1}}, func() (*websocket.Conn, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrGlobalCapacity)
}

func TestAccept_ReleasesSlotOnUpgradeFailure(t *testing.T) {
	m := newManager(t, 1, 0)
	_, err := m.Accept(context.Background(), AcceptRequest{TenantID: 1, UserID: 1, BranchIDs: []int64{1}}, func() (*websocket.Conn, error) {
		return nil, assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 0, m.index.TotalConnections())

	ws := newWSPair(t)
	_, err = m.Accept(context.Background(), AcceptRequest{TenantID: 1, UserID: 2, BranchIDs: []int64{1}}, func() (*websocket.Conn, error) { return ws, nil })
	assert.NoError(t, err, "slot released after upgrade failure must be reusable")
}
