package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/realtime-gateway/internal/domain/event"
)

func mustEvent(t *testing.T, typ string) *event.Event {
	t.Helper()
	ev, err := event.New(map[string]any{"type": typ, "tenant_id": 1})
	require.NoError(t, err)
	return ev
}

func TestQueue_PushPopFIFO(t *testing.T) {
	q := NewQueue(10, 100, nil, nil, nil)
	q.Push(mustEvent(t, "ROUND_SUBMITTED"))
	q.Push(mustEvent(t, "ROUND_SERVED"))

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, event.Type("ROUND_SUBMITTED"), item.Event.Type())

	item, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, event.Type("ROUND_SERVED"), item.Event.Type())

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_OverflowDropsOldest(t *testing.T) {
	var drops int
	q := NewQueue(2, 100, func() { drops++ }, nil, nil)
	q.Push(mustEvent(t, "A"))
	q.Push(mustEvent(t, "B"))
	dropped := q.Push(mustEvent(t, "C"))

	assert.True(t, dropped)
	assert.Equal(t, 1, drops)
	assert.Equal(t, 2, q.Len())

	item, _ := q.Pop()
	assert.Equal(t, event.Type("B"), item.Event.Type(), "oldest item A must have been evicted")
}

func TestQueue_DropCallbackCadence(t *testing.T) {
	var firstFired int
	var nthFired []int
	q := NewQueue(1, 3, nil, func() { firstFired++ }, func(n int) { nthFired = append(nthFired, n) })

	q.Push(mustEvent(t, "seed"))
	for i := 0; i < 7; i++ {
		q.Push(mustEvent(t, "overflow"))
	}

	assert.Equal(t, 1, firstFired)
	assert.Equal(t, []int{3, 6}, nthFired)
	assert.Equal(t, 7, q.DropCount())
}
