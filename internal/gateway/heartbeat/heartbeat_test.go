package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsStale_UnknownConnectionIsStale(t *testing.T) {
	tr := New(time.Minute)
	assert.True(t, tr.IsStale("ghost"))
}

func TestRecordAndStaleness(t *testing.T) {
	tr := New(50 * time.Millisecond)
	tr.Record("c1", time.Time{})
	assert.False(t, tr.IsStale("c1"))

	time.Sleep(80 * time.Millisecond)
	assert.True(t, tr.IsStale("c1"))
}

func TestCleanupStale_IsAtomicReadRemove(t *testing.T) {
	tr := New(10 * time.Millisecond)
	tr.Record("a", time.Time{})
	tr.Record("b", time.Time{})
	time.Sleep(20 * time.Millisecond)

	removed := tr.CleanupStale()
	require.Len(t, removed, 2)
	assert.Equal(t, 0, tr.Len())
}

func TestGetLastHeartbeatTime_UnknownReturnsNow(t *testing.T) {
	tr := New(time.Minute)
	before := time.Now()
	got := tr.GetLastHeartbeatTime("unknown")
	assert.True(t, !got.Before(before))
}
