// Package heartbeat tracks per-connection last-activity timestamps and
// stale detection.
package heartbeat

import (
	"sync"
	"time"
)

// Socket identifies a connection by object identity; any comparable
// implementation works (*websocket.Conn qualifies).
type Socket any

// Tracker records, per connection, the time of the last inbound frame.
type Tracker struct {
	mu      sync.Mutex
	last    map[Socket]time.Time
	timeout time.Duration
	now     func() time.Time
}

// New builds a Tracker with the given stale timeout (default 60s when <= 0).
func New(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Tracker{
		last:    make(map[Socket]time.Time),
		timeout: timeout,
		now:     time.Now,
	}
}

// Record sets the last-activity time for ws to ts, or time.Now() if ts is
// the zero value.
func (t *Tracker) Record(ws Socket, ts time.Time) {
	if ts.IsZero() {
		ts = t.now()
	}
	t.mu.Lock()
	t.last[ws] = ts
	t.mu.Unlock()
}

// IsStale reports whether ws has not been heard from within the timeout.
// Unknown connections are considered stale.
func (t *Tracker) IsStale(ws Socket) bool {
	t.mu.Lock()
	last, ok := t.last[ws]
	t.mu.Unlock()
	if !ok {
		return true
	}
	return t.now().Sub(last) > t.timeout
}

// GetLastHeartbeatTime returns the last recorded time for ws, or the
// current time for an unknown connection -- never a default like the zero
// value, which would otherwise make an unknown connection look like the
// oldest one in a sorted sweep.
func (t *Tracker) GetLastHeartbeatTime(ws Socket) time.Time {
	t.mu.Lock()
	last, ok := t.last[ws]
	t.mu.Unlock()
	if !ok {
		return t.now()
	}
	return last
}

// Forget removes ws from tracking, e.g. on disconnect.
func (t *Tracker) Forget(ws Socket) {
	t.mu.Lock()
	delete(t.last, ws)
	t.mu.Unlock()
}

// CleanupStale atomically finds and removes every connection currently
// stale, returning the removed set so the caller can close each socket
// without racing a concurrent Record call re-adding it mid-sweep.
func (t *Tracker) CleanupStale() []Socket {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var stale []Socket
	for ws, last := range t.last {
		if now.Sub(last) > t.timeout {
			stale = append(stale, ws)
		}
	}
	for _, ws := range stale {
		delete(t.last, ws)
	}
	return stale
}

// Len reports the number of tracked connections.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}
