package connindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/realtime-gateway/internal/gateway/lockmgr"
)

func newTestConn(tenantID, userID int64, isAdmin, isKitchen bool) *Connection {
	return &Connection{
		TenantID:   tenantID,
		UserID:     userID,
		IsAdmin:    isAdmin,
		IsKitchen:  isKitchen,
		SessionIDs: make(map[int64]struct{}),
	}
}

func register(t *testing.T, ix *Index, conn *Connection, branchIDs, sectorIDs []int64, sessionID int64) {
	t.Helper()
	var seq lockmgr.Sequence
	require.True(t, ix.TryReserveSlot(&seq, conn.UserID, 0, 0))
	require.NoError(t, ix.RegisterUser(&seq, conn))
	for _, b := range branchIDs {
		require.NoError(t, ix.RegisterBranch(&seq, b, conn))
	}
	if len(sectorIDs) > 0 {
		require.NoError(t, ix.RegisterSector(&seq, sectorIDs, conn))
	}
	if sessionID > 0 {
		require.NoError(t, ix.RegisterSession(&seq, sessionID, conn))
	}
}

func TestIndex_S1_FanOutBySector(t *testing.T) {
	ix := New(lockmgr.New(10000))

	w1 := newTestConn(1, 101, false, false)
	w2 := newTestConn(1, 102, false, false)
	w3 := newTestConn(2, 103, false, false)

	register(t, ix, w1, []int64{10}, nil, 0)
	register(t, ix, w2, []int64{10}, []int64{3}, 0)
	register(t, ix, w3, []int64{10}, nil, 0)

	recipients := ix.BySectorForTenant(3, 1)
	assert.ElementsMatch(t, []*Connection{w2}, recipients)

	admins := ix.AdminsInBranchForTenant(10, 1)
	assert.Empty(t, admins)
}

func TestIndex_S3_DinerSessionTenantIsolation(t *testing.T) {
	ix := New(lockmgr.New(10000))
	d1 := newTestConn(1, -42, false, false)
	register(t, ix, d1, []int64{10}, nil, 42)

	recipients := ix.BySessionForTenant(42, 1)
	assert.Equal(t, []*Connection{d1}, recipients)

	none := ix.BySessionForTenant(42, 2)
	assert.Empty(t, none)
}

func TestIndex_WaitersExcludeAdminsAndKitchen(t *testing.T) {
	ix := New(lockmgr.New(10000))
	waiter := newTestConn(1, 1, false, false)
	admin := newTestConn(1, 2, true, false)
	kitchen := newTestConn(1, 3, false, true)

	register(t, ix, waiter, []int64{10}, nil, 0)
	register(t, ix, admin, []int64{10}, nil, 0)
	register(t, ix, kitchen, []int64{10}, nil, 0)

	waiters := ix.WaitersInBranchForTenant(10, 1)
	assert.Equal(t, []*Connection{waiter}, waiters)
}

func TestIndex_CounterCaps(t *testing.T) {
	ix := New(lockmgr.New(10000))
	var seq lockmgr.Sequence
	assert.True(t, ix.TryReserveSlot(&seq, 1, 2, 0))
	assert.True(t, ix.TryReserveSlot(&seq, 2, 2, 0))
	assert.False(t, ix.TryReserveSlot(&seq, 3, 2, 0))
	assert.Equal(t, 2, ix.TotalConnections())
}

func TestIndex_UnregisterRemovesFromAllBuckets(t *testing.T) {
	ix := New(lockmgr.New(10000))
	conn := newTestConn(1, 1, true, false)
	register(t, ix, conn, []int64{10, 20}, []int64{5}, 77)

	var seq lockmgr.Sequence
	require.NoError(t, ix.UnregisterUser(&seq, conn))
	require.NoError(t, ix.UnregisterBranch(&seq, 10, conn))
	require.NoError(t, ix.UnregisterBranch(&seq, 20, conn))
	require.NoError(t, ix.UnregisterSector(&seq, conn))
	require.NoError(t, ix.UnregisterSession(&seq, conn))
	ix.ReleaseSlot(&seq)

	assert.Empty(t, ix.ByUser(1))
	assert.Empty(t, ix.ByBranch(10))
	assert.Empty(t, ix.ByBranch(20))
	assert.Empty(t, ix.AdminsInBranch(10))
	assert.Empty(t, ix.BySector(5))
	assert.Empty(t, ix.BySession(77))
	assert.Equal(t, 0, ix.TotalConnections())
}
