package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TableClaims is the payload carried by a diner's table token: session-bound,
// never revalidated mid-connection.
type TableClaims struct {
	TenantID  int64 `json:"tenant_id"`
	BranchID  int64 `json:"branch_id"`
	TableID   int64 `json:"table_id"`
	SessionID int64 `json:"session_id"`
	jwt.RegisteredClaims
}

// TableTokenManager verifies diner table tokens, signed with their own
// secret so a stolen staff JWT secret can't be used to mint diner sessions
// and vice versa.
type TableTokenManager struct {
	secretKey []byte
}

// NewTableTokenManager builds a TableTokenManager.
func NewTableTokenManager(secretKey string) *TableTokenManager {
	return &TableTokenManager{secretKey: []byte(secretKey)}
}

// Generate issues a table token; used by the ordering flow that seats a
// table, not by the gateway itself, but kept alongside Verify for symmetry
// and tests.
func (m *TableTokenManager) Generate(tenantID, branchID, tableID, sessionID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &TableClaims{
		TenantID: tenantID, BranchID: branchID, TableID: tableID, SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify parses tokenString into an Identity scoped as a diner (negative
// pseudo user id = -session_id).
func (m *TableTokenManager) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TableClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*TableClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrTokenInvalid
	}

	return Identity{
		TenantID:  claims.TenantID,
		UserID:    -claims.SessionID,
		SessionID: claims.SessionID,
		TableID:   claims.TableID,
		BranchID:  claims.BranchID,
	}, nil
}

// ExtractTableToken pulls the table token from the "table_token" query
// parameter, the shape diner clients use when opening the socket.
func ExtractTableToken(r *http.Request) (string, error) {
	token := r.URL.Query().Get("table_token")
	if token == "" {
		return "", fmt.Errorf("auth: table_token query parameter missing")
	}
	return token, nil
}
