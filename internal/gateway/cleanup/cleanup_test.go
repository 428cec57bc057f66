package cleanup

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/heartbeat"
	"github.com/orderflow/realtime-gateway/internal/gateway/lockmgr"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
)

// newWSConn spins up a real websocket server and dials it, returning the
// server-side *websocket.Conn: a stale connection gets Close() called on it
// directly by runOnce, which a nil-backed zero-value Connection can't survive.
func newWSConn(t *testing.T) *websocket.Conn {
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

type fakeDisconnector struct {
	mu   sync.Mutex
	seen []*connindex.Connection
}

func (f *fakeDisconnector) Disconnect(conn *connindex.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, conn)
}

func (f *fakeDisconnector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func TestMarkDead_QueuesForNextCycle(t *testing.T) {
	disc := &fakeDisconnector{}
	w := New(heartbeat.New(time.Minute), lockmgr.New(1000), connindex.New(lockmgr.New(1000)), disc, metrics.New(nil), time.Hour, 5, 0)

	conn := &connindex.Connection{}
	w.MarkDead(conn)
	assert.Equal(t, 1, w.DeadSetLen())

	w.runOnce()
	assert.Equal(t, 0, w.DeadSetLen())
	assert.Equal(t, 1, disc.count())
}

func TestRunOnce_DisconnectsStaleHeartbeats(t *testing.T) {
	hb := heartbeat.New(5 * time.Millisecond)
	disc := &fakeDisconnector{}
	w := New(hb, lockmgr.New(1000), connindex.New(lockmgr.New(1000)), disc, metrics.New(nil), time.Hour, 5, 0)

	conn := connindex.NewConnection(newWSConn(t), 1, 1)
	hb.Record(conn, time.Time{})
	time.Sleep(20 * time.Millisecond)

	w.runOnce()
	assert.Equal(t, 1, disc.count())
}

func TestRunOnce_AdvancesCycleCounter(t *testing.T) {
	locks := lockmgr.New(1000)
	ix := connindex.New(locks)
	w := New(heartbeat.New(time.Minute), locks, ix, &fakeDisconnector{}, metrics.New(nil), time.Hour, 2, 0)

	w.runOnce()
	assert.Equal(t, 1, w.cycle)
	w.runOnce()
	assert.Equal(t, 2, w.cycle)
}

func TestDeadSet_EvictsOldestOverCapacity(t *testing.T) {
	d := newDeadSet(2)
	a, b, c := &connindex.Connection{}, &connindex.Connection{}, &connindex.Connection{}
	d.Add(a)
	d.Add(b)
	d.Add(c)

	drained := d.Drain()
	assert.Len(t, drained, 2)
	assert.NotContains(t, drained, a)
	assert.Contains(t, drained, b)
	assert.Contains(t, drained, c)
}

func TestDeadSet_IgnoresDuplicateAdd(t *testing.T) {
	d := newDeadSet(5)
	conn := &connindex.Connection{}
	d.Add(conn)
	d.Add(conn)
	assert.Equal(t, 1, d.Len())
}
