// Package router selects recipient connections for an event: which roles
// (admins, waiters, kitchen, diner sessions) see it and whether waiters are
// scoped by sector or by whole branch.
package router

import (
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/orderflow/realtime-gateway/internal/domain/event"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
)

// Recipients is the resolved fan-out set for one event, already filtered to
// the event's own tenant.
type Recipients struct {
	Admins   []*connindex.Connection
	Waiters  []*connindex.Connection
	Kitchen  []*connindex.Connection
	Sessions []*connindex.Connection
}

// unknownTypeCap bounds the FIFO-evicted set of unrecognized event type
// strings the router has already seen once, so a flood of garbage types
// can't grow that bookkeeping unbounded.
const unknownTypeCap = 512

// Router resolves an Event against the fixed routing matrix and the live
// Connection Index.
type Router struct {
	index *connindex.Index

	mu            sync.Mutex
	tracked       *simplelru.LRU[event.Type, struct{}]
	everEvicted   map[event.Type]struct{}

	onUnknownFirst    func(t event.Type)
	onUnknownReappear func(t event.Type)
}

// New builds a Router over ix. onUnknownFirst/onUnknownReappear (either may
// be nil) are invoked when an unrecognized event type is seen for the first
// time versus after it has already been evicted from the tracked set.
func New(ix *connindex.Index, onUnknownFirst, onUnknownReappear func(t event.Type)) *Router {
	r := &Router{index: ix, everEvicted: make(map[event.Type]struct{}), onUnknownFirst: onUnknownFirst, onUnknownReappear: onUnknownReappear}
	lru, _ := simplelru.NewLRU[event.Type, struct{}](unknownTypeCap, func(t event.Type, _ struct{}) {
		r.everEvicted[t] = struct{}{}
	})
	r.tracked = lru
	return r
}

// Route resolves recipients for ev, already scoped to ev.TenantID().
func (r *Router) Route(ev *event.Event) Recipients {
	branchID := int64(0)
	if ev.BranchID() != nil {
		branchID = *ev.BranchID()
	}
	tenantID := ev.TenantID()
	sectorID := ev.SectorID()
	sessionID := ev.SessionID()

	family := r.classify(ev.Type())

	var rec Recipients

	if family.admins {
		rec.Admins = r.index.AdminsInBranchForTenant(branchID, tenantID)
	}
	if family.kitchen {
		rec.Kitchen = r.index.KitchenInBranchForTenant(branchID, tenantID)
	}
	if family.waitersWholeBranch {
		rec.Waiters = r.index.WaitersInBranchForTenant(branchID, tenantID)
	} else if family.waitersSectorOrBranch {
		if sectorID != nil {
			rec.Waiters = r.index.BySectorForTenant(*sectorID, tenantID)
		} else {
			rec.Waiters = r.index.WaitersInBranchForTenant(branchID, tenantID)
		}
	}
	if family.session && sessionID != nil {
		rec.Sessions = r.index.BySessionForTenant(*sessionID, tenantID)
	}

	return rec
}

type familyRules struct {
	admins                bool
	waitersWholeBranch    bool
	waitersSectorOrBranch bool
	kitchen               bool
	session               bool
}

func classifyKnown(t event.Type) (familyRules, bool) {
	s := string(t)
	switch {
	case strings.HasPrefix(s, "ENTITY_") || s == "CASCADE_DELETE":
		return familyRules{admins: true}, true
	case s == "ROUND_PENDING" || s == "TABLE_SESSION_STARTED":
		return familyRules{admins: true, waitersWholeBranch: true, session: true}, true
	case s == "ROUND_SUBMITTED":
		return familyRules{admins: true, waitersSectorOrBranch: true}, true
	case s == "ROUND_IN_KITCHEN" || s == "ROUND_READY":
		return familyRules{admins: true, waitersSectorOrBranch: true, kitchen: true, session: true}, true
	case s == "ROUND_SERVED" || s == "ROUND_CANCELED":
		return familyRules{admins: true, waitersSectorOrBranch: true, session: true}, true
	case strings.HasPrefix(s, "SERVICE_CALL_"):
		return familyRules{admins: true, waitersSectorOrBranch: true}, true
	case strings.HasPrefix(s, "CHECK_") || strings.HasPrefix(s, "PAYMENT_"):
		return familyRules{admins: true, waitersSectorOrBranch: true, session: true}, true
	case strings.HasPrefix(s, "TABLE_"):
		return familyRules{admins: true, session: true}, true
	case strings.HasPrefix(s, "TICKET_"):
		return familyRules{kitchen: true}, true
	default:
		return familyRules{}, false
	}
}

// classify maps an event type to its routing family, falling back to
// admin-only for anything outside the closed matrix and recording the
// reappearance/first-seen distinction for unknown types in the bounded
// tracker.
func (r *Router) classify(t event.Type) familyRules {
	if fam, ok := classifyKnown(t); ok {
		return fam
	}

	r.mu.Lock()
	alreadyTracked := r.tracked.Contains(t)
	_, wasEvicted := r.everEvicted[t]
	if !alreadyTracked {
		r.tracked.Add(t, struct{}{})
	}
	r.mu.Unlock()

	switch {
	case alreadyTracked:
		// still within the tracked window, no callback
	case wasEvicted:
		if r.onUnknownReappear != nil {
			r.onUnknownReappear(t)
		}
	default:
		if r.onUnknownFirst != nil {
			r.onUnknownFirst(t)
		}
	}

	return familyRules{admins: true}
}
