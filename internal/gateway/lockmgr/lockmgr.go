// Package lockmgr provides the sharded per-user/per-branch mutexes plus the
// four global mutexes the gateway state uses to protect the connection
// index. Lock acquisition order is tracked per connect/disconnect operation
// via Sequence so a violation of the canonical order is caught at runtime
// instead of causing a silent deadlock under load.
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Order is a position in the canonical lock sequence:
// counter(1) < user(2) < branch(3) < sector(4) < session(5) < deadset(6).
type Order int

const (
	OrderCounter Order = iota + 1
	OrderUser
	OrderBranch
	OrderSector
	OrderSession
	OrderDeadSet
)

// ErrLockOrderViolation is returned by Sequence.Acquire when the caller
// attempts to acquire a lock whose Order is lower than the highest Order
// already recorded on this sequence. This is a programmer error and must
// never be swallowed silently.
var ErrLockOrderViolation = errors.New("lockmgr: lock order violation")

// Sequence records the highest lock Order acquired so far along one logical
// call path; releasing a lock does not lower it. Callers thread one Sequence value through a single
// connect/disconnect operation; it is not safe to share across goroutines.
type Sequence struct {
	highest Order
}

// Acquire records that a lock of the given Order is about to be taken and
// fails if Order is strictly lower than the highest Order already recorded
// on this Sequence. Repeating the same Order is allowed -- the canonical
// sequence acquires several same-tier locks in a row, e.g. one branch lock
// per branch_id -- only going *backward* to a lower
// tier is a violation.
func (s *Sequence) Acquire(o Order) error {
	if o < s.highest {
		return fmt.Errorf("%w: attempted order %d after order %d already held", ErrLockOrderViolation, o, s.highest)
	}
	s.highest = o
	return nil
}

// Reset clears the sequence, e.g. between independent connect attempts.
func (s *Sequence) Reset() { s.highest = 0 }

// Manager owns the per-user and per-branch mutex shards plus the four
// dedicated global mutexes.
type Manager struct {
	metaMu sync.Mutex
	users  map[int64]*shard
	branch map[int64]*shard

	Counter sync.Mutex
	Sector  sync.Mutex
	Session sync.Mutex
	DeadSet sync.Mutex

	// cleanupThreshold is the shard-count at which a cleanup sweep is
	// scheduled; cleanup reduces the map back to 80% of this value.
	cleanupThreshold int
	cleanupPending    bool
	cleanupDone       chan struct{}
}

type shard struct {
	mu       sync.Mutex
	refCount int32 // best-effort "is anyone likely holding this" hint for cleanup
}

// New constructs a Manager. cleanupThreshold <= 0 uses the default of 10000
// shards before a sweep is scheduled.
func New(cleanupThreshold int) *Manager {
	if cleanupThreshold <= 0 {
		cleanupThreshold = 10000
	}
	return &Manager{
		users:            make(map[int64]*shard),
		branch:           make(map[int64]*shard),
		cleanupThreshold: cleanupThreshold,
	}
}

// UserLock returns the mutex shard for id, creating it if absent.
func (m *Manager) UserLock(id int64) *sync.Mutex {
	return m.shardFor(m.users, id)
}

// BranchLock returns the mutex shard for id, creating it if absent.
func (m *Manager) BranchLock(id int64) *sync.Mutex {
	return m.shardFor(m.branch, id)
}

func (m *Manager) shardFor(table map[int64]*shard, id int64) *sync.Mutex {
	m.metaMu.Lock()
	s, ok := table[id]
	if !ok {
		s = &shard{}
		table[id] = s
	}
	grew := len(m.users)+len(m.branch) > m.cleanupThreshold
	shouldSchedule := grew && !m.cleanupPending
	if shouldSchedule {
		m.cleanupPending = true
	}
	m.metaMu.Unlock()

	if shouldSchedule {
		m.scheduleCleanup()
	}
	return &s.mu
}

// SortedUserLocks returns the shards for ids in ascending id order, honoring
// the canonical ordering rule "user locks sorted ascending".
func (m *Manager) SortedUserLocks(ids []int64) []*sync.Mutex {
	return m.sortedLocks(m.users, ids)
}

// SortedBranchLocks returns the shards for ids in ascending id order.
func (m *Manager) SortedBranchLocks(ids []int64) []*sync.Mutex {
	return m.sortedLocks(m.branch, ids)
}

func (m *Manager) sortedLocks(table map[int64]*shard, ids []int64) []*sync.Mutex {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		out = append(out, m.shardFor(table, id))
	}
	return out
}

// scheduleCleanup runs at most one outstanding deferred cleanup task.
func (m *Manager) scheduleCleanup() {
	go func() {
		defer func() {
			m.metaMu.Lock()
			m.cleanupPending = false
			if m.cleanupDone != nil {
				close(m.cleanupDone)
				m.cleanupDone = nil
			}
			m.metaMu.Unlock()
		}()
		m.SweepUnheld()
	}()
}

// SweepUnheld removes unheld shards, reducing the combined shard count to
// 80% of cleanupThreshold (hysteresis prevents thrash at the threshold
// boundary). liveUserIDs/liveBranchIDs, when provided via
// SweepUnheldFiltered, further
// restrict eviction to ids no longer present in the live connection index.
func (m *Manager) SweepUnheld() int {
	return m.SweepUnheldFiltered(nil, nil)
}

// SweepUnheldFiltered is SweepUnheld restricted to ids in liveUserIDs /
// liveBranchIDs when those sets are non-nil; shards for ids still present
// in the live index are never evicted regardless of lock contention.
func (m *Manager) SweepUnheldFiltered(liveUserIDs, liveBranchIDs map[int64]struct{}) int {
	target := (m.cleanupThreshold * 80) / 100
	removed := 0

	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	removed += evictUnheld(m.users, liveUserIDs, target-len(m.branch))
	removed += evictUnheld(m.branch, liveBranchIDs, target-len(m.users))
	return removed
}

func evictUnheld(table map[int64]*shard, live map[int64]struct{}, target int) int {
	if len(table) <= target {
		return 0
	}
	n := 0
	for id, s := range table {
		if len(table) <= target {
			break
		}
		if live != nil {
			if _, isLive := live[id]; isLive {
				continue
			}
		}
		if s.mu.TryLock() {
			s.mu.Unlock()
			delete(table, id)
			n++
		}
	}
	return n
}

// AwaitCleanup blocks until any in-flight deferred cleanup completes, or
// until timeout elapses or ctx is done, whichever comes first. It returns
// nil at once when no cleanup is pending; timeout has no default.
func (m *Manager) AwaitCleanup(ctx context.Context, timeout time.Duration) error {
	m.metaMu.Lock()
	if !m.cleanupPending {
		m.metaMu.Unlock()
		return nil
	}
	if m.cleanupDone == nil {
		m.cleanupDone = make(chan struct{})
	}
	done := m.cleanupDone
	m.metaMu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("lockmgr: cleanup did not complete within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShardCounts reports the current number of per-user and per-branch shards,
// for metrics and tests.
func (m *Manager) ShardCounts() (users, branches int) {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	return len(m.users), len(m.branch)
}
