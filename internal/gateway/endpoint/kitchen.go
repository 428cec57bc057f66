package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/orderflow/realtime-gateway/internal/gateway/auth"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/lifecycle"
)

// Kitchen serves the kitchen role: JWT-authenticated, no sectors, registers
// with IsKitchen=true. Same revalidation cadence as Waiter.
type Kitchen struct {
	Base *Base
	JWT  *auth.JWTManager
}

func (k *Kitchen) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractToken(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	identity, err := k.JWT.Verify(token)
	if err != nil || !identity.HasAnyRole(auth.RoleKitchen, auth.RoleManager, auth.RoleAdmin) {
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
		IsKitchen: true, BranchIDs: branchIDs,
	}

	var lastCheck time.Time
	pre := func(ctx context.Context, id auth.Identity) error {
		return revalidateEvery(ctx, k.JWT, token, jwtRevalidateInterval, &lastCheck)
	}

	handle := func(ctx context.Context, conn *connindex.Connection, id auth.Identity, raw []byte) error {
		return nil
	}

	k.Base.Serve(w, r, req, pre, handle, identity)
}
