// Package droptracker implements the sliding-window drop-rate tracker with
// alert cooldown.
package droptracker

import (
	"sync"
	"time"
)

type sample struct {
	at        time.Time
	processed bool
	dropped   bool
}

// Tracker maintains a bounded sliding window of (timestamp, processed?,
// dropped?) samples and reports a drop rate over that window, gating
// repeated alerts behind a cooldown.
type Tracker struct {
	mu         sync.Mutex
	samples    []sample
	maxLen     int
	window     time.Duration
	cooldown   time.Duration
	lastAlert  time.Time
	now        func() time.Time
}

// New builds a Tracker. maxLen <= 0 defaults to 1000, window <= 0 defaults
// to 1 minute, cooldown <= 0 defaults to 30s.
func New(maxLen int, window, cooldown time.Duration) *Tracker {
	if maxLen <= 0 {
		maxLen = 1000
	}
	if window <= 0 {
		window = time.Minute
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Tracker{maxLen: maxLen, window: window, cooldown: cooldown, now: time.Now}
}

// RecordProcessed records a successfully processed item.
func (t *Tracker) RecordProcessed() { t.record(true, false) }

// RecordDropped records a dropped item.
func (t *Tracker) RecordDropped() { t.record(false, true) }

func (t *Tracker) record(processed, dropped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample{at: t.now(), processed: processed, dropped: dropped})
	if len(t.samples) > t.maxLen {
		t.samples = t.samples[len(t.samples)-t.maxLen:]
	}
}

// DropRate returns the fraction of samples within the window that were
// dropped, in [0,1]. Returns 0 if the window has no samples.
func (t *Tracker) DropRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	total, dropped := 0, 0
	for _, s := range t.samples {
		if s.at.Before(cutoff) {
			continue
		}
		total++
		if s.dropped {
			dropped++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(dropped) / float64(total)
}

// ShouldAlert reports whether the drop rate reaches threshold and the
// cooldown since the last alert has elapsed; if so it resets the cooldown
// clock as a side effect so repeated calls don't re-alert immediately.
func (t *Tracker) ShouldAlert(threshold float64) bool {
	rate := t.DropRate()
	if rate < threshold {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !t.lastAlert.IsZero() && now.Sub(t.lastAlert) < t.cooldown {
		return false
	}
	t.lastAlert = now
	return true
}

// Len reports the number of samples currently retained (<= maxLen).
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}
