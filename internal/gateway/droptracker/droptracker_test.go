package droptracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDropRate_MixedSamples(t *testing.T) {
	tr := New(100, time.Minute, time.Minute)
	tr.RecordProcessed()
	tr.RecordProcessed()
	tr.RecordDropped()
	assert.InDelta(t, 1.0/3.0, tr.DropRate(), 0.0001)
}

func TestDropRate_NoSamples(t *testing.T) {
	tr := New(100, time.Minute, time.Minute)
	assert.Equal(t, 0.0, tr.DropRate())
}

func TestDropRate_WindowExpires(t *testing.T) {
	tr := New(100, 20*time.Millisecond, time.Minute)
	tr.RecordDropped()
	time.Sleep(30 * time.Millisecond)
	tr.RecordProcessed()
	assert.Equal(t, 0.0, tr.DropRate())
}

func TestShouldAlert_RespectsCooldown(t *testing.T) {
	tr := New(100, time.Minute, 50*time.Millisecond)
	tr.RecordDropped()

	assert.True(t, tr.ShouldAlert(0.5))
	assert.False(t, tr.ShouldAlert(0.5), "second call within cooldown must not re-alert")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, tr.ShouldAlert(0.5), "alert should fire again once cooldown elapses")
}

func TestShouldAlert_BelowThreshold(t *testing.T) {
	tr := New(100, time.Minute, time.Minute)
	tr.RecordProcessed()
	tr.RecordProcessed()
	assert.False(t, tr.ShouldAlert(0.5))
}

func TestLen_BoundedByMaxLen(t *testing.T) {
	tr := New(5, time.Minute, time.Minute)
	for i := 0; i < 10; i++ {
		tr.RecordProcessed()
	}
	assert.Equal(t, 5, tr.Len())
}
