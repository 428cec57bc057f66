package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orderflow/realtime-gateway/internal/gateway/auth"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/lifecycle"
	"github.com/orderflow/realtime-gateway/internal/sector"
)

const (
	sectorLookupTimeout  = 2 * time.Second
	jwtRevalidateInterval = 5 * time.Minute
)

// Waiter serves the waiter role: JWT-authenticated, sector-scoped, supports
// the "refresh_sectors" control message.
type Waiter struct {
	Base *Base
	JWT  *auth.JWTManager
	Sectors sector.Repository
}

// ServeHTTP resolves the JWT, looks up today's sector assignments (bounded
// by a strict timeout, falling back to an empty list), and runs the shared
// loop.
func (wtr *Waiter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractToken(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	identity, err := wtr.JWT.Verify(token)
	if err != nil || !identity.HasAnyRole(auth.RoleWaiter, auth.RoleManager, auth.RoleAdmin) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	branchIDs, err := parseIDList(r.URL.Query().Get("branch_ids"))
	if err != nil || len(branchIDs) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sectorIDs := wtr.lookupSectors(r.Context(), identity, branchIDs[0])

	state := &waiterState{}
	state.set(sectorIDs)

	req := lifecycle.AcceptRequest{
		TenantID: identity.TenantID, UserID: identity.UserID,
		BranchIDs: branchIDs, SectorIDs: sectorIDs,
	}

	pre := func(ctx context.Context, id auth.Identity) error {
		return revalidateEvery(ctx, wtr.JWT, token, jwtRevalidateInterval, &state.lastCheck)
	}

	handle := func(ctx context.Context, conn *connindex.Connection, id auth.Identity, raw []byte) error {
		if string(raw) == "refresh_sectors" || strings.TrimSpace(string(raw)) == `"refresh_sectors"` {
			fresh := wtr.lookupSectors(ctx, id, branchIDs[0])
			state.set(fresh)
			csv := joinInts(fresh)
			conn.Send([]byte(fmt.Sprintf("sectors_updated:%s", csv)))
		}
		return nil
	}

	wtr.Base.Serve(w, r, req, pre, handle, identity)
}

func (wtr *Waiter) lookupSectors(ctx context.Context, identity auth.Identity, branchID int64) []int64 {
	if wtr.Sectors == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, sectorLookupTimeout)
	defer cancel()
	ids, err := wtr.Sectors.SectorsForWaiter(ctx, identity.TenantID, branchID, identity.UserID)
	if err != nil {
		return nil
	}
	return ids
}

// waiterState tracks the waiter's current sector list and last JWT
// revalidation time across the lifetime of one connection.
type waiterState struct {
	mu        sync.Mutex
	sectors   []int64
	lastCheck time.Time
}

func (s *waiterState) set(ids []int64) {
	s.mu.Lock()
	s.sectors = ids
	s.mu.Unlock()
}

func revalidateEvery(ctx context.Context, jwtMgr *auth.JWTManager, token string, interval time.Duration, last *time.Time) error {
	if !last.IsZero() && time.Since(*last) < interval {
		return nil
	}
	if _, err := jwtMgr.Verify(token); err != nil {
		return err
	}
	*last = time.Now()
	return nil
}

func parseIDList(csv string) ([]int64, error) {
	if csv == "" {
		return nil, fmt.Errorf("empty id list")
	}
	parts := strings.Split(csv, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func joinInts(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
