// Package ratelimit implements the per-connection sliding-window message
// rate limiter, including the bounded-tracking eviction path and its
// anti-reset penalty.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// Socket identifies a connection by object identity.
type Socket any

type window struct {
	timestamps []time.Time
}

type penalty struct {
	messageCount int
	evictedAt    time.Time
}

// Config tunes the limiter. Zero-value fields fall back to package
// defaults.
type Config struct {
	Limit         int           // messages per Window, default 20
	Window        time.Duration // default 1s
	MaxTracked    int           // default 2000
	EvictFraction float64       // fraction evicted on overflow, default 0.10
	PenaltyTTL    time.Duration // default 1h
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = 20
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	if c.MaxTracked <= 0 {
		c.MaxTracked = 2000
	}
	if c.EvictFraction <= 0 {
		c.EvictFraction = 0.10
	}
	if c.PenaltyTTL <= 0 {
		c.PenaltyTTL = time.Hour
	}
	return c
}

// ConnState reports whether a tracked socket is still in CONNECTED state;
// the limiter consults it during cleanup so sockets that left CONNECTED
// state are evicted defensively. A nil ConnState disables
// this check.
type ConnState func(ws Socket) (connected bool, known bool)

// Limiter is a bounded, per-connection sliding-window rate limiter.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	windows  map[Socket]*window
	penalties map[Socket]*penalty
	now      func() time.Time
	connState ConnState
}

// New builds a Limiter with cfg (zero-value fields take package defaults).
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:       cfg.withDefaults(),
		windows:   make(map[Socket]*window),
		penalties: make(map[Socket]*penalty),
		now:       time.Now,
	}
}

// SetConnState installs the optional liveness check used by Cleanup.
func (l *Limiter) SetConnState(fn ConnState) { l.connState = fn }

// SetLimit updates the tracked message rate live, e.g. from a config
// hot-reload; non-positive values are ignored so a bad reload can't zero
// out the limiter.
func (l *Limiter) SetLimit(limit int, window time.Duration) {
	if limit <= 0 || window <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Limit = limit
	l.cfg.Window = window
}

// Allow records one message attempt for ws and reports whether it is within
// the configured rate. Evicted-then-reappeared sockets are seeded with
// penalty timestamps spread inside the window so they cannot reset their
// budget simply by being evicted.
func (l *Limiter) Allow(ws Socket) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[ws]
	if !ok {
		w = &window{}
		if p, evicted := l.penalties[ws]; evicted {
			if now.Sub(p.evictedAt) <= l.cfg.PenaltyTTL {
				w.timestamps = seedPenaltyTimestamps(p.messageCount, l.cfg.Window, now)
			}
			delete(l.penalties, ws)
		}
		l.windows[ws] = w
		if len(l.windows) > l.cfg.MaxTracked {
			l.evictOldest()
		}
	}

	cutoff := now.Add(-l.cfg.Window)
	w.timestamps = dropBefore(w.timestamps, cutoff)

	if len(w.timestamps) >= l.cfg.Limit {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}

func seedPenaltyTimestamps(count int, window time.Duration, now time.Time) []time.Time {
	if count <= 0 {
		return nil
	}
	out := make([]time.Time, 0, count)
	step := window / time.Duration(count+1)
	for i := 1; i <= count; i++ {
		out = append(out, now.Add(-window+time.Duration(i)*step))
	}
	return out
}

func dropBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// evictOldest removes the EvictFraction of tracked sockets with the oldest
// earliest-timestamp, recording an eviction penalty for each. Caller must
// hold l.mu.
func (l *Limiter) evictOldest() {
	type entry struct {
		ws      Socket
		earliest time.Time
		count   int
	}
	entries := make([]entry, 0, len(l.windows))
	for ws, w := range l.windows {
		earliest := l.now()
		if len(w.timestamps) > 0 {
			earliest = w.timestamps[0]
		}
		entries = append(entries, entry{ws, earliest, len(w.timestamps)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].earliest.Before(entries[j].earliest) })

	n := int(float64(len(entries)) * l.cfg.EvictFraction)
	if n < 1 {
		n = 1
	}
	now := l.now()
	for i := 0; i < n && i < len(entries); i++ {
		e := entries[i]
		delete(l.windows, e.ws)
		l.penalties[e.ws] = &penalty{messageCount: e.count, evictedAt: now}
	}

	maxPenalties := l.cfg.MaxTracked / 10
	if maxPenalties > 0 && len(l.penalties) > maxPenalties {
		l.evictOldestPenalties(len(l.penalties) - maxPenalties)
	}
}

func (l *Limiter) evictOldestPenalties(n int) {
	type kv struct {
		ws Socket
		at time.Time
	}
	all := make([]kv, 0, len(l.penalties))
	for ws, p := range l.penalties {
		all = append(all, kv{ws, p.evictedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for i := 0; i < n && i < len(all); i++ {
		delete(l.penalties, all[i].ws)
	}
}

// Forget drops all state for ws (called on disconnect).
func (l *Limiter) Forget(ws Socket) {
	l.mu.Lock()
	delete(l.windows, ws)
	delete(l.penalties, ws)
	l.mu.Unlock()
}

// Cleanup removes windows/penalties for sockets no longer CONNECTED (per
// the optional ConnState callback) and expired penalties.
func (l *Limiter) Cleanup() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connState != nil {
		for ws := range l.windows {
			connected, known := safeConnState(l.connState, ws)
			if known && !connected {
				delete(l.windows, ws)
			}
		}
	}
	for ws, p := range l.penalties {
		if now.Sub(p.evictedAt) > l.cfg.PenaltyTTL {
			delete(l.penalties, ws)
		}
	}
}

// safeConnState treats a panicking ConnState (e.g. a reference error on a
// torn-down socket) as "gone".
func safeConnState(fn ConnState, ws Socket) (connected, known bool) {
	defer func() {
		if recover() != nil {
			connected, known = false, true
		}
	}()
	return fn(ws)
}

// TrackedCount reports the number of sockets currently tracked, for tests
// and metrics.
func (l *Limiter) TrackedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// GlobalLimiter is the single bounded deque of timestamps backing
// broadcast(to-all)'s global rate limit (default 10/s), independent of the
// per-connection Limiter above.
type GlobalLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	limit      int
	window     time.Duration
	now        func() time.Time
}

// NewGlobalLimiter builds a GlobalLimiter. limit <= 0 defaults to 10,
// window <= 0 defaults to 1s.
func NewGlobalLimiter(limit int, window time.Duration) *GlobalLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Second
	}
	return &GlobalLimiter{limit: limit, window: window, now: time.Now}
}

// Allow reports whether one more global broadcast is within budget,
// recording the attempt if so.
func (g *GlobalLimiter) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.window)
	g.timestamps = dropBefore(g.timestamps, cutoff)

	if len(g.timestamps) >= g.limit {
		return false
	}
	g.timestamps = append(g.timestamps, now)
	return true
}
