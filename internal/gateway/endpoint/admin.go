package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/orderflow/realtime-gateway/internal/gateway/auth"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/lifecycle"
)

// Admin serves the admin role: JWT-authenticated manager/admin, registered
// with IsAdmin=true across every branch the token permits. Receives all CRUD
// events via the router's admin-only fallback and the admin-targeted rows of
// the routing matrix.
type Admin struct {
	Base *Base
	JWT  *auth.JWTManager
}

func (a *Admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractToken(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	identity, err := a.JWT.Verify(token)
	if err != nil || !identity.HasAnyRole(auth.RoleManager, auth.RoleAdmin) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	branchIDs, err := parseIDList(r.URL.Query().Get("branch_ids"))
	if err != nil || len(branchIDs) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	req := lifecycle.AcceptRequest{
		TenantID: identity.TenantID, UserID: identity.UserID,
		IsAdmin: true, BranchIDs: branchIDs,
	}

	var lastCheck time.Time
	pre := func(ctx context.Context, id auth.Identity) error {
		return revalidateEvery(ctx, a.JWT, token, jwtRevalidateInterval, &lastCheck)
	}

	handle := func(ctx context.Context, conn *connindex.Connection, id auth.Identity, raw []byte) error {
		return nil
	}

	a.Base.Serve(w, r, req, pre, handle, identity)
}
