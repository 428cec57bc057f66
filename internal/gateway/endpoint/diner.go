package endpoint

import (
	"context"
	"net/http"

	"github.com/orderflow/realtime-gateway/internal/gateway/auth"
	"github.com/orderflow/realtime-gateway/internal/gateway/connindex"
	"github.com/orderflow/realtime-gateway/internal/gateway/lifecycle"
)

// Diner serves the diner role: table-token authenticated, session-bound,
// never revalidated mid-connection (the token is scoped to the session's
// lifetime, not a roaming user identity).
type Diner struct {
	Base  *Base
	Token *auth.TableTokenManager
}

func (d *Diner) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractTableToken(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	identity, err := d.Token.Verify(token)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	req := lifecycle.AcceptRequest{
		TenantID:  identity.TenantID,
		UserID:    identity.UserID, // already -session_id
		BranchIDs: []int64{identity.BranchID},
		SessionID: identity.SessionID,
	}

	handle := func(ctx context.Context, conn *connindex.Connection, id auth.Identity, raw []byte) error {
		return nil
	}

	d.Base.Serve(w, r, req, nil, handle, identity)
}
