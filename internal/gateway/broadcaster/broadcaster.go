// Package broadcaster fans an Event out to its resolved recipients in
// parallel batches, marking unreachable connections dead rather than
// blocking on them, and enforcing a global broadcast rate limit.
package broadcaster

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/orderflow/realtime-gateway/internal/domain/event"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/gateway/ratelimit"
	"github.com/orderflow/realtime-gateway/internal/gateway/router"
)

// batchConcurrency caps how many sends run at once per broadcast so a
// single event with thousands of recipients doesn't spawn thousands of
// goroutines at once.
const batchConcurrency = 32

// DeadMarker receives connections the broadcaster failed to reach so the
// caller (typically the cleanup worker) can fold them into its sweep.
type DeadMarker interface {
	MarkDead(conn *connindex.Connection)
}

// Broadcaster sends an Event's JSON wire form to every connection a Router
// resolves for it.
type Broadcaster struct {
	limiter *ratelimit.GlobalLimiter
	metrics *metrics.Collector
	dead    DeadMarker
}

// New builds a Broadcaster. limiter gates the global broadcast rate; dead
// may be nil if the caller doesn't want dead-connection bookkeeping.
func New(limiter *ratelimit.GlobalLimiter, mc *metrics.Collector, dead DeadMarker) *Broadcaster {
	return &Broadcaster{limiter: limiter, metrics: mc, dead: dead}
}

// Broadcast sends ev to rec's four recipient buckets, returning the total
// recipients attempted and the total that failed to receive it.
func (b *Broadcaster) Broadcast(ctx context.Context, ev *event.Event, rec router.Recipients) (attempted, failed int) {
	if b.limiter != nil && !b.limiter.Allow() {
		if b.metrics != nil {
			b.metrics.BroadcastsRateLimited.Inc()
		}
		return 0, 0
	}

	payload, err := json.Marshal(ev.ToMap())
	if err != nil {
		return 0, 0
	}

	all := make([]*connindex.Connection, 0, len(rec.Admins)+len(rec.Waiters)+len(rec.Kitchen)+len(rec.Sessions))
	all = append(all, rec.Admins...)
	all = append(all, rec.Waiters...)
	all = append(all, rec.Kitchen...)
	all = append(all, rec.Sessions...)

	if b.metrics != nil {
		b.metrics.BroadcastsTotal.Inc()
	}

	failed = b.sendAll(ctx, all, payload)
	attempted = len(all)

	if failed > 0 && b.metrics != nil {
		b.metrics.BroadcastsFailed.Inc()
		b.metrics.BroadcastsFailedRecipients.Add(float64(failed))
	}
	return attempted, failed
}

func (b *Broadcaster) sendAll(ctx context.Context, conns []*connindex.Connection, payload []byte) int {
	var failedCount atomic.Int32

	for start := 0; start < len(conns); start += batchConcurrency {
		end := start + batchConcurrency
		if end > len(conns) {
			end = len(conns)
		}
		batch := conns[start:end]

		g, _ := errgroup.WithContext(ctx)
		for _, c := range batch {
			c := c
			g.Go(func() error {
				if !c.Send(payload) {
					failedCount.Add(1)
					if b.dead != nil {
						b.dead.MarkDead(c)
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	return int(failedCount.Load())
}
