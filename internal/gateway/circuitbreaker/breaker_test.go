package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecute_TripsOpenAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 2, RecoveryTimeout: 50 * time.Millisecond, HalfOpenMaxCalls: 1})

	failing := errors.New("boom")
	assert.ErrorIs(t, b.Execute(func() error { return failing }), failing)
	assert.ErrorIs(t, b.Execute(func() error { return failing }), failing)

	assert.Equal(t, StateOpen, b.State())
	err := b.Execute(func() error { t.Fatal("fn must not run while OPEN"); return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestExecute_RecoversThroughHalfOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1})

	assert.Error(t, b.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_ClosesOnFirstSuccessAtDefaultHalfOpenMaxCalls(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 3})

	assert.Error(t, b.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State(), "a single HALF_OPEN success must close immediately regardless of HalfOpenMaxCalls")
}

func TestExecute_HalfOpenFailureReopensImmediately(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 3})

	assert.Error(t, b.Execute(func() error { return errors.New("boom") }))
	time.Sleep(30 * time.Millisecond)

	assert.Error(t, b.Execute(func() error { return errors.New("boom again") }))
	assert.Equal(t, StateOpen, b.State())
}

func TestOnStateChange_SkipsNoOpTransitions(t *testing.T) {
	var transitions int
	b := New(Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		OnStateChange:    func(name string, from, to State) { transitions++ },
	})

	_ = b.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, 1, transitions)

	_ = b.Execute(func() error { return nil })
	assert.Equal(t, 1, transitions, "a call rejected while already OPEN must not fire another transition")
}
