// Package cleanup runs the fixed-cadence sweep that closes stale and dead
// sockets and periodically asks the lock manager to reclaim unheld shards.
package cleanup

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/orderflow/realtime-gateway/internal/domain/closecode"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/heartbeat"
	"github.com/orderflow/realtime-gateway/internal/gateway/lockmgr"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
)

const (
	defaultInterval    = 30 * time.Second
	defaultSweepEveryN = 5
	defaultDeadSetCap  = 500
)

// deadSet is a bounded FIFO set of connections awaiting disconnect, oldest
// evicted immediately once the cap is hit.
type deadSet struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	index map[*connindex.Connection]*list.Element
}

func newDeadSet(capacity int) *deadSet {
	if capacity <= 0 {
		capacity = defaultDeadSetCap
	}
	return &deadSet{cap: capacity, order: list.New(), index: make(map[*connindex.Connection]*list.Element)}
}

// Add inserts conn if not already present, evicting the oldest entry first
// if the set is at capacity.
func (d *deadSet) Add(conn *connindex.Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.index[conn]; ok {
		return
	}
	if d.order.Len() >= d.cap {
		oldest := d.order.Front()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.(*connindex.Connection))
		}
	}
	el := d.order.PushBack(conn)
	d.index[conn] = el
}

// Drain removes and returns every currently-queued connection.
func (d *deadSet) Drain() []*connindex.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*connindex.Connection, 0, d.order.Len())
	for el := d.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*connindex.Connection))
	}
	d.order.Init()
	d.index = make(map[*connindex.Connection]*list.Element)
	return out
}

func (d *deadSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// Disconnector runs the canonical disconnect flow; lifecycle.Manager
// implements it.
type Disconnector interface {
	Disconnect(conn *connindex.Connection)
}

// Worker is the periodic sweep: stale heartbeats, the dead-set, and (every
// Nth cycle) an unheld lock-shard sweep.
type Worker struct {
	interval    time.Duration
	sweepEveryN int

	heartbeat   *heartbeat.Tracker
	locks       *lockmgr.Manager
	index       *connindex.Index
	disconnect  Disconnector
	metrics     *metrics.Collector

	dead *deadSet

	cycle int
}

// New builds a Worker. interval <= 0 defaults to 30s, sweepEveryN <= 0
// defaults to 5, deadSetCap <= 0 defaults to 500.
func New(hb *heartbeat.Tracker, locks *lockmgr.Manager, index *connindex.Index, disconnect Disconnector, mc *metrics.Collector, interval time.Duration, sweepEveryN, deadSetCap int) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if sweepEveryN <= 0 {
		sweepEveryN = defaultSweepEveryN
	}
	return &Worker{
		interval: interval, sweepEveryN: sweepEveryN,
		heartbeat: hb, locks: locks, index: index, disconnect: disconnect, metrics: mc,
		dead: newDeadSet(deadSetCap),
	}
}

// MarkDead queues conn for disconnect on the next cycle; satisfies
// broadcaster.DeadMarker.
func (w *Worker) MarkDead(conn *connindex.Connection) { w.dead.Add(conn) }

// DeadSetLen reports how many connections are currently queued for
// disconnect, for metrics/tests.
func (w *Worker) DeadSetLen() int { return w.dead.Len() }

// Run blocks, executing one sweep per interval tick until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce()
		}
	}
}

func (w *Worker) runOnce() {
	for _, ws := range w.heartbeat.CleanupStale() {
		if conn, ok := ws.(*connindex.Connection); ok {
			conn.Close(int(closecode.Normal), closecode.ReasonHeartbeatTimeout)
			w.disconnect.Disconnect(conn)
		}
	}

	for _, conn := range w.dead.Drain() {
		w.disconnect.Disconnect(conn)
	}

	w.cycle++
	if w.cycle%w.sweepEveryN == 0 {
		reclaimed := w.locks.SweepUnheldFiltered(w.index.LiveUserIDs(), w.index.LiveBranchIDs())
		if w.metrics != nil {
			w.metrics.LocksCleaned.Add(float64(reclaimed))
		}
	}
}
