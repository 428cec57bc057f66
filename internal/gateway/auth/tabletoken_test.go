package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableToken_GenerateVerifyRoundTrip(t *testing.T) {
	m := NewTableTokenManager("table-secret")
	token, err := m.Generate(7, 3, 12, 99, time.Hour)
	require.NoError(t, err)

	id, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{TenantID: 7, UserID: -99, SessionID: 99, TableID: 12, BranchID: 3}, id)
}

func TestTableToken_VerifyRejectsWrongSecret(t *testing.T) {
	m := NewTableTokenManager("table-secret")
	token, err := m.Generate(7, 3, 12, 99, time.Hour)
	require.NoError(t, err)

	other := NewTableTokenManager("different")
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestExtractTableToken_MissingReturnsError(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/diner", nil)
	_, err := ExtractTableToken(r)
	assert.Error(t, err)
}

func TestExtractTableToken_ReadsQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/diner?table_token=abc123", nil)
	tok, err := ExtractTableToken(r)
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)
}
