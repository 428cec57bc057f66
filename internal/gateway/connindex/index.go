package connindex

import (
	"sync"

	"github.com/orderflow/realtime-gateway/internal/gateway/lockmgr"
)

// set is a small alias for readability.
type set map[*Connection]struct{}

// Index owns every forward and reverse map of live connections. All
// mutations go through its Register*/Unregister* methods,
// each of which takes the matching lockmgr shard itself, in the canonical
// order recorded on the caller-supplied Sequence. Public
// reads return copies so callers can never alias internal state.
type Index struct {
	locks *lockmgr.Manager

	// structural mutex: guards the top-level map headers (creating a new
	// bucket key) independent of the per-id shard locks, which guard the
	// bucket contents. Sector/session buckets are small enough in practice
	// to share the global Sector/Session locks for both structure and
	// contents, matching the routing matrix.
	structMu sync.Mutex

	byUser          map[int64]set
	byBranch        map[int64]set
	bySector        map[int64]set
	bySession       map[int64]set
	adminsByBranch  map[int64]set
	kitchenByBranch map[int64]set

	totalConnections int
}

// New builds an empty Index bound to locks for shard/global mutex access.
func New(locks *lockmgr.Manager) *Index {
	return &Index{
		locks:           locks,
		byUser:          make(map[int64]set),
		byBranch:        make(map[int64]set),
		bySector:        make(map[int64]set),
		bySession:       make(map[int64]set),
		adminsByBranch:  make(map[int64]set),
		kitchenByBranch: make(map[int64]set),
	}
}

// --- counter (order 1) ---

// TryReserveSlot acquires the counter lock, checks the global and per-user
// caps, and increments the live count on success. Returns false (without
// mutating anything) if either cap would be exceeded.
func (ix *Index) TryReserveSlot(seq *lockmgr.Sequence, userID int64, globalCap, perUserCap int) bool {
	_ = seq.Acquire(lockmgr.OrderCounter)
	ix.locks.Counter.Lock()
	defer ix.locks.Counter.Unlock()

	if globalCap > 0 && ix.totalConnections >= globalCap {
		return false
	}
	if perUserCap > 0 {
		ix.structMu.Lock()
		cur := len(ix.byUser[userID])
		ix.structMu.Unlock()
		if cur >= perUserCap {
			return false
		}
	}
	ix.totalConnections++
	return true
}

// ReleaseSlot decrements the live counter (used on registration failure
// after a reservation, or on disconnect).
func (ix *Index) ReleaseSlot(seq *lockmgr.Sequence) {
	_ = seq.Acquire(lockmgr.OrderCounter)
	ix.locks.Counter.Lock()
	if ix.totalConnections > 0 {
		ix.totalConnections--
	}
	ix.locks.Counter.Unlock()
}

// TotalConnections returns the live global count.
func (ix *Index) TotalConnections() int {
	ix.locks.Counter.Lock()
	defer ix.locks.Counter.Unlock()
	return ix.totalConnections
}

// --- user (order 2) ---

// RegisterUser adds conn to the user bucket and records its role flags.
func (ix *Index) RegisterUser(seq *lockmgr.Sequence, conn *Connection) error {
	if err := seq.Acquire(lockmgr.OrderUser); err != nil {
		return err
	}
	lock := ix.locks.UserLock(conn.UserID)
	lock.Lock()
	defer lock.Unlock()

	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	addTo(ix.byUser, conn.UserID, conn)
	return nil
}

// UnregisterUser removes conn from the user bucket.
func (ix *Index) UnregisterUser(seq *lockmgr.Sequence, conn *Connection) error {
	if err := seq.Acquire(lockmgr.OrderUser); err != nil {
		return err
	}
	lock := ix.locks.UserLock(conn.UserID)
	lock.Lock()
	defer lock.Unlock()

	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	removeFrom(ix.byUser, conn.UserID, conn)
	return nil
}

// --- branch (order 3), ascending by id (enforced by caller) ---

// RegisterBranch adds conn to branch, admins-by-branch (if IsAdmin) and
// kitchen-by-branch (if IsKitchen) buckets. Caller must invoke once per
// branch id in ascending order.
func (ix *Index) RegisterBranch(seq *lockmgr.Sequence, branchID int64, conn *Connection) error {
	if err := seq.Acquire(lockmgr.OrderBranch); err != nil {
		return err
	}
	lock := ix.locks.BranchLock(branchID)
	lock.Lock()
	defer lock.Unlock()

	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	addTo(ix.byBranch, branchID, conn)
	if conn.IsAdmin {
		addTo(ix.adminsByBranch, branchID, conn)
	}
	if conn.IsKitchen {
		addTo(ix.kitchenByBranch, branchID, conn)
	}
	return nil
}

// UnregisterBranch is the inverse of RegisterBranch.
func (ix *Index) UnregisterBranch(seq *lockmgr.Sequence, branchID int64, conn *Connection) error {
	if err := seq.Acquire(lockmgr.OrderBranch); err != nil {
		return err
	}
	lock := ix.locks.BranchLock(branchID)
	lock.Lock()
	defer lock.Unlock()

	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	removeFrom(ix.byBranch, branchID, conn)
	removeFrom(ix.adminsByBranch, branchID, conn)
	removeFrom(ix.kitchenByBranch, branchID, conn)
	return nil
}

// --- sector (order 4) ---

// RegisterSector adds conn to every sector in sectorIDs under the single
// global sector lock.
func (ix *Index) RegisterSector(seq *lockmgr.Sequence, sectorIDs []int64, conn *Connection) error {
	if err := seq.Acquire(lockmgr.OrderSector); err != nil {
		return err
	}
	ix.locks.Sector.Lock()
	defer ix.locks.Sector.Unlock()

	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	for _, sid := range sectorIDs {
		addTo(ix.bySector, sid, conn)
	}
	conn.SectorIDs = append([]int64(nil), sectorIDs...)
	return nil
}

// UnregisterSector removes conn from every sector bucket it was in.
func (ix *Index) UnregisterSector(seq *lockmgr.Sequence, conn *Connection) error {
	if err := seq.Acquire(lockmgr.OrderSector); err != nil {
		return err
	}
	ix.locks.Sector.Lock()
	defer ix.locks.Sector.Unlock()

	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	for _, sid := range conn.SectorIDs {
		removeFrom(ix.bySector, sid, conn)
	}
	conn.SectorIDs = nil
	return nil
}

// --- session (order 5) ---

// RegisterSession adds conn to the sessionID bucket.
func (ix *Index) RegisterSession(seq *lockmgr.Sequence, sessionID int64, conn *Connection) error {
	if err := seq.Acquire(lockmgr.OrderSession); err != nil {
		return err
	}
	ix.locks.Session.Lock()
	defer ix.locks.Session.Unlock()

	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	addTo(ix.bySession, sessionID, conn)
	conn.SessionIDs[sessionID] = struct{}{}
	return nil
}

// UnregisterSession removes conn from every session bucket it was in.
func (ix *Index) UnregisterSession(seq *lockmgr.Sequence, conn *Connection) error {
	if err := seq.Acquire(lockmgr.OrderSession); err != nil {
		return err
	}
	ix.locks.Session.Lock()
	defer ix.locks.Session.Unlock()

	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	for sid := range conn.SessionIDs {
		removeFrom(ix.bySession, sid, conn)
	}
	conn.SessionIDs = make(map[int64]struct{})
	return nil
}

func addTo(table map[int64]set, key int64, conn *Connection) {
	s, ok := table[key]
	if !ok {
		s = make(set)
		table[key] = s
	}
	s[conn] = struct{}{}
}

func removeFrom(table map[int64]set, key int64, conn *Connection) {
	s, ok := table[key]
	if !ok {
		return
	}
	delete(s, conn)
	if len(s) == 0 {
		delete(table, key)
	}
}

// --- read accessors: every one returns a defensive copy ---

// ByUser returns the live connections for userID.
func (ix *Index) ByUser(userID int64) []*Connection {
	lock := ix.locks.UserLock(userID)
	lock.Lock()
	defer lock.Unlock()
	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	return copySet(ix.byUser[userID])
}

// ByBranch returns every connection registered under branchID (admins and
// kitchen included).
func (ix *Index) ByBranch(branchID int64) []*Connection {
	lock := ix.locks.BranchLock(branchID)
	lock.Lock()
	defer lock.Unlock()
	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	return copySet(ix.byBranch[branchID])
}

// WaitersInBranch returns all-waiters-in-branch: branch minus admins minus
// kitchen.
func (ix *Index) WaitersInBranch(branchID int64) []*Connection {
	lock := ix.locks.BranchLock(branchID)
	lock.Lock()
	defer lock.Unlock()
	ix.structMu.Lock()
	defer ix.structMu.Unlock()

	var out []*Connection
	for conn := range ix.byBranch[branchID] {
		if !conn.IsAdmin && !conn.IsKitchen {
			out = append(out, conn)
		}
	}
	return out
}

// AdminsInBranch returns admins-only for branchID.
func (ix *Index) AdminsInBranch(branchID int64) []*Connection {
	lock := ix.locks.BranchLock(branchID)
	lock.Lock()
	defer lock.Unlock()
	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	return copySet(ix.adminsByBranch[branchID])
}

// KitchenInBranch returns kitchen-only-non-admin for branchID.
func (ix *Index) KitchenInBranch(branchID int64) []*Connection {
	lock := ix.locks.BranchLock(branchID)
	lock.Lock()
	defer lock.Unlock()
	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	return copySet(ix.kitchenByBranch[branchID])
}

// BySector returns the connections registered for sectorID.
func (ix *Index) BySector(sectorID int64) []*Connection {
	ix.locks.Sector.Lock()
	defer ix.locks.Sector.Unlock()
	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	return copySet(ix.bySector[sectorID])
}

// BySession returns the connections registered for sessionID (sessions-for-
// connection is the inverse, exposed via Connection.SessionIDs directly).
func (ix *Index) BySession(sessionID int64) []*Connection {
	ix.locks.Session.Lock()
	defer ix.locks.Session.Unlock()
	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	return copySet(ix.bySession[sessionID])
}

func copySet(s set) []*Connection {
	out := make([]*Connection, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	return out
}

// FilterByTenant is the only approved path to enforce tenant isolation on a
// computed recipient list. The plain `By*`/selector
// accessors above already release their lock before returning, so callers
// that need the TOCTOU-closing guarantee ("filtered inside the same lock
// region that materialized the list") must use the `*ForTenant` accessors
// below instead, which call this helper before unlocking.
func FilterByTenant(conns []*Connection, tenantID int64) []*Connection {
	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out
}

// WaitersInBranchForTenant is WaitersInBranch with the tenant filter applied
// before the branch lock is released.
func (ix *Index) WaitersInBranchForTenant(branchID, tenantID int64) []*Connection {
	lock := ix.locks.BranchLock(branchID)
	lock.Lock()
	defer lock.Unlock()
	ix.structMu.Lock()
	var out []*Connection
	for conn := range ix.byBranch[branchID] {
		if !conn.IsAdmin && !conn.IsKitchen {
			out = append(out, conn)
		}
	}
	ix.structMu.Unlock()
	return FilterByTenant(out, tenantID)
}

// AdminsInBranchForTenant is AdminsInBranch with the tenant filter applied
// before the branch lock is released.
func (ix *Index) AdminsInBranchForTenant(branchID, tenantID int64) []*Connection {
	lock := ix.locks.BranchLock(branchID)
	lock.Lock()
	defer lock.Unlock()
	ix.structMu.Lock()
	out := copySet(ix.adminsByBranch[branchID])
	ix.structMu.Unlock()
	return FilterByTenant(out, tenantID)
}

// KitchenInBranchForTenant is KitchenInBranch with the tenant filter applied
// before the branch lock is released.
func (ix *Index) KitchenInBranchForTenant(branchID, tenantID int64) []*Connection {
	lock := ix.locks.BranchLock(branchID)
	lock.Lock()
	defer lock.Unlock()
	ix.structMu.Lock()
	out := copySet(ix.kitchenByBranch[branchID])
	ix.structMu.Unlock()
	return FilterByTenant(out, tenantID)
}

// BySectorForTenant is BySector with the tenant filter applied before the
// sector lock is released.
func (ix *Index) BySectorForTenant(sectorID, tenantID int64) []*Connection {
	ix.locks.Sector.Lock()
	defer ix.locks.Sector.Unlock()
	ix.structMu.Lock()
	out := copySet(ix.bySector[sectorID])
	ix.structMu.Unlock()
	return FilterByTenant(out, tenantID)
}

// BySessionForTenant is BySession with the tenant filter applied before the
// session lock is released.
func (ix *Index) BySessionForTenant(sessionID, tenantID int64) []*Connection {
	ix.locks.Session.Lock()
	defer ix.locks.Session.Unlock()
	ix.structMu.Lock()
	out := copySet(ix.bySession[sessionID])
	ix.structMu.Unlock()
	return FilterByTenant(out, tenantID)
}

// LiveUserIDs and LiveBranchIDs support the cleanup worker's lock-shard
// sweep: shards for ids no longer present in the live index
// are eligible for eviction.
func (ix *Index) LiveUserIDs() map[int64]struct{} {
	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	out := make(map[int64]struct{}, len(ix.byUser))
	for id := range ix.byUser {
		out[id] = struct{}{}
	}
	return out
}

func (ix *Index) LiveBranchIDs() map[int64]struct{} {
	ix.structMu.Lock()
	defer ix.structMu.Unlock()
	out := make(map[int64]struct{}, len(ix.byBranch))
	for id := range ix.byBranch {
		out[id] = struct{}{}
	}
	return out
}
