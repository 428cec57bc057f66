// Package circuitbreaker wraps sony/gobreaker around the bus subscriber's
// connection attempts: CLOSED/OPEN/HALF_OPEN, reused across the
// subscriber's sync reconnect loop and any async publish path.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// State mirrors gobreaker.State under the CLOSED/OPEN/HALF_OPEN naming.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// ErrOpen is gobreaker's own sentinel, returned when a call is rejected
// because the breaker is OPEN.
var ErrOpen = gobreaker.ErrOpenState

// Config tunes the breaker; zero values take package defaults.
type Config struct {
	Name               string
	FailureThreshold   uint32        // default 5
	RecoveryTimeout    time.Duration // default 30s
	HalfOpenMaxCalls   uint32        // default 3
	OnStateChange      func(name string, from, to State)
}

// Breaker is a thin, typed wrapper around gobreaker.CircuitBreaker giving
// the gateway a single mutex-protected state machine reused from both the
// subscriber's synchronous reconnect loop and any async publish path.
type Breaker struct {
	cb               *gobreaker.CircuitBreaker
	halfOpenMaxCalls uint32
}

// New builds a Breaker per cfg.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = 3
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			if from == to {
				// gobreaker itself does not fire no-op transitions, but
				// guard anyway to avoid duplicate logging.
				return
			}
			cfg.OnStateChange(name, from, to)
		}
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), halfOpenMaxCalls: cfg.HalfOpenMaxCalls}
}

// Execute runs fn through the breaker. When OPEN, fn is never called and
// ErrOpen is returned immediately. gobreaker's own MaxRequests setting
// gates admission to at most HalfOpenMaxCalls probes while HALF_OPEN
// exactly as intended, but gobreaker only transitions HALF_OPEN->CLOSED
// once it has seen MaxRequests *consecutive* successes; a single successful
// probe must close the breaker immediately, so a success observed while
// still HALF_OPEN is followed by forceCloseFromHalfOpen to finish that
// transition right away instead of waiting for more probes.
func (b *Breaker) Execute(fn func() error) error {
	wasHalfOpen := b.cb.State() == gobreaker.StateHalfOpen

	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})

	if err == nil && wasHalfOpen {
		b.forceCloseFromHalfOpen()
	}

	if errors.Is(err, gobreaker.ErrOpenState) {
		return ErrOpen
	}
	return err
}

// forceCloseFromHalfOpen is called right after a real HALF_OPEN probe
// succeeds. gobreaker requires ConsecutiveSuccesses to reach MaxRequests
// before it closes itself, so this feeds it harmless synthetic successes
// (no real call, no side effects beyond gobreaker's own counters) until it
// reaches that threshold on its own and closes. Bounded by HalfOpenMaxCalls
// so it can never loop more times than gobreaker's own admission cap
// allows.
func (b *Breaker) forceCloseFromHalfOpen() {
	for i := 0; i < int(b.halfOpenMaxCalls) && b.cb.State() == gobreaker.StateHalfOpen; i++ {
		_, _ = b.cb.Execute(func() (any, error) { return nil, nil })
	}
}

// State reports the current breaker state.
func (b *Breaker) State() State { return b.cb.State() }

// Counts exposes the raw gobreaker counters for /metrics exposition.
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }
