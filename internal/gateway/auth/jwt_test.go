package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_GenerateVerifyRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.Generate(7, 42, RoleWaiter)
	require.NoError(t, err)

	id, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{TenantID: 7, UserID: 42, Role: RoleWaiter}, id)
}

func TestJWT_VerifyRejectsExpired(t *testing.T) {
	m := NewJWTManager("secret", -time.Hour)
	token, err := m.Generate(7, 42, RoleWaiter)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestJWT_VerifyRejectsWrongSecret(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.Generate(7, 42, RoleWaiter)
	require.NoError(t, err)

	other := NewJWTManager("different", time.Hour)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestJWT_VerifyRejectsUnknownRole(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.Generate(7, 42, Role("BUSBOY"))
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestExtractToken_PrefersAuthorizationHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/waiter?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")

	tok, err := ExtractToken(r)
	require.NoError(t, err)
	assert.Equal(t, "header-token", tok)
}

func TestExtractToken_FallsBackToQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/waiter?token=query-token", nil)

	tok, err := ExtractToken(r)
	require.NoError(t, err)
	assert.Equal(t, "query-token", tok)
}

func TestExtractToken_MissingReturnsError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/waiter", nil)
	_, err := ExtractToken(r)
	assert.Error(t, err)
}
