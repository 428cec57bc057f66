// Package lifecycle implements the single canonical connect/disconnect path
// every endpoint role shares: the ordered lock acquisition sequence backed
// by lockmgr.Sequence and connindex.Index.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orderflow/realtime-gateway/internal/domain/closecode"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/heartbeat"
	"github.com/orderflow/realtime-gateway/internal/gateway/lockmgr"
	"github.com/orderflow/realtime-gateway/internal/gateway/metrics"
	"github.com/orderflow/realtime-gateway/internal/gateway/ratelimit"
)

var (
	ErrShuttingDown   = errors.New("lifecycle: gateway is shutting down")
	ErrInvalidBranch  = errors.New("lifecycle: branch_ids must all be positive")
	ErrInvalidSector  = errors.New("lifecycle: sector_ids must all be positive")
	ErrGlobalCapacity = errors.New("lifecycle: global connection capacity exceeded")
	ErrUserCapacity   = errors.New("lifecycle: per-user connection capacity exceeded")
	ErrAcceptTimeout  = errors.New("lifecycle: websocket accept exceeded its timeout")
)

const defaultAcceptTimeout = 5 * time.Second

// AcceptRequest carries the identity and scoping a caller resolved before
// reaching the lifecycle manager (from a JWT or a table token).
type AcceptRequest struct {
	TenantID   int64
	UserID     int64 // positive for staff, -SessionID for diners
	IsAdmin    bool
	IsKitchen  bool
	BranchIDs  []int64
	SectorIDs  []int64
	SessionID  int64 // 0 if not a diner

	MaxSectorsWarn int // warn (not reject) if len(SectorIDs) exceeds this; 0 disables
}

// Manager drives the connect/disconnect flows shared by every endpoint role.
type Manager struct {
	locks     *lockmgr.Manager
	index     *connindex.Index
	heartbeat *heartbeat.Tracker
	limiter   *ratelimit.Limiter
	metrics   *metrics.Collector

	globalCap int
	perUserCap int

	shuttingDown func() bool
}

// New builds a Manager. shuttingDown may be nil (never shutting down).
func New(locks *lockmgr.Manager, index *connindex.Index, hb *heartbeat.Tracker, limiter *ratelimit.Limiter, mc *metrics.Collector, globalCap, perUserCap int, shuttingDown func() bool) *Manager {
	return &Manager{
		locks: locks, index: index, heartbeat: hb, limiter: limiter, metrics: mc,
		globalCap: globalCap, perUserCap: perUserCap, shuttingDown: shuttingDown,
	}
}

func validatePositive(ids []int64) bool {
	for _, id := range ids {
		if id <= 0 {
			return false
		}
	}
	return true
}

func hasDuplicates(ids []int64) bool {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

// Accept runs the canonical accept flow: shutdown check, input validation,
// counter reservation, bounded-timeout upgrade, user registration, ascending
// per-branch registration, sector registration. On any failure after the
// counter reservation it releases the reservation before returning.
func (m *Manager) Accept(ctx context.Context, req AcceptRequest, upgrade func() (*websocket.Conn, error)) (*connindex.Connection, error) {
	if m.shuttingDown != nil && m.shuttingDown() {
		return nil, ErrShuttingDown
	}
	if !validatePositive(req.BranchIDs) {
		return nil, ErrInvalidBranch
	}
	if !validatePositive(req.SectorIDs) {
		return nil, ErrInvalidSector
	}
	if req.MaxSectorsWarn > 0 && len(req.SectorIDs) > req.MaxSectorsWarn {
		// caller's logger should warn; lifecycle itself only enforces hard errors
	}
	_ = hasDuplicates(req.SectorIDs) // surfaced to caller's logger, not fatal

	var seq lockmgr.Sequence
	if !m.index.TryReserveSlot(&seq, req.UserID, m.globalCap, m.perUserCap) {
		if m.metrics != nil {
			m.metrics.ConnectionsRejectedLimit.Inc()
		}
		if m.globalCap > 0 && m.index.TotalConnections() >= m.globalCap {
			return nil, ErrGlobalCapacity
		}
		return nil, ErrUserCapacity
	}

	acceptCtx, cancel := context.WithTimeout(ctx, defaultAcceptTimeout)
	defer cancel()
	ws, err := upgradeWithTimeout(acceptCtx, upgrade)
	if err != nil {
		m.index.ReleaseSlot(&seq)
		return nil, fmt.Errorf("%w: %v", ErrAcceptTimeout, err)
	}

	conn := connindex.NewConnection(ws, req.TenantID, req.UserID)
	conn.IsAdmin = req.IsAdmin
	conn.IsKitchen = req.IsKitchen
	conn.BranchIDs = append([]int64(nil), req.BranchIDs...)

	if err := m.index.RegisterUser(&seq, conn); err != nil {
		m.index.ReleaseSlot(&seq)
		conn.Close(int(closecode.ServerOverloaded), "registration failed")
		return nil, err
	}
	if m.heartbeat != nil {
		m.heartbeat.Record(conn, time.Time{})
	}

	sortedBranches := append([]int64(nil), req.BranchIDs...)
	sort.Slice(sortedBranches, func(i, j int) bool { return sortedBranches[i] < sortedBranches[j] })
	for _, b := range sortedBranches {
		if err := m.index.RegisterBranch(&seq, b, conn); err != nil {
			m.Disconnect(conn)
			return nil, err
		}
	}

	if len(req.SectorIDs) > 0 {
		if err := m.index.RegisterSector(&seq, req.SectorIDs, conn); err != nil {
			m.Disconnect(conn)
			return nil, err
		}
	}

	if req.SessionID > 0 {
		if err := m.index.RegisterSession(&seq, req.SessionID, conn); err != nil {
			m.Disconnect(conn)
			return nil, err
		}
	}

	return conn, nil
}

// Disconnect runs the canonical disconnect flow in the same ascending-branch
// canonical lock order, tolerating a connection that was only partially
// registered.
func (m *Manager) Disconnect(conn *connindex.Connection) {
	if m.heartbeat != nil {
		m.heartbeat.Forget(conn)
	}
	if m.limiter != nil {
		m.limiter.Forget(conn)
	}

	var seq lockmgr.Sequence
	_ = m.index.UnregisterUser(&seq, conn)
	m.index.ReleaseSlot(&seq)

	sortedBranches := append([]int64(nil), conn.BranchIDs...)
	sort.Slice(sortedBranches, func(i, j int) bool { return sortedBranches[i] < sortedBranches[j] })
	for _, b := range sortedBranches {
		_ = m.index.UnregisterBranch(&seq, b, conn)
	}

	_ = m.index.UnregisterSector(&seq, conn)
	_ = m.index.UnregisterSession(&seq, conn)

	conn.Close(int(closecode.Normal), "")
}

func upgradeWithTimeout(ctx context.Context, upgrade func() (*websocket.Conn, error)) (*websocket.Conn, error) {
	type result struct {
		ws  *websocket.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ws, err := upgrade()
		ch <- result{ws, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.ws, r.err
	}
}
