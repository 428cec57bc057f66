package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orderflow/realtime-gateway/internal/domain/outbox"
	"github.com/orderflow/realtime-gateway/internal/outbox/store"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_OUTBOX_DSN")
	if dsn == "" {
		t.Skip("TEST_OUTBOX_DSN not set, skipping outbox writer integration test")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWrite_GeneratesIdempotencyKeyWhenAbsent(t *testing.T) {
	db := openTestDB(t)
	s := store.New(db)
	w := New(s)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	id, err := w.WriteRound(ctx, tx, 1, "ROUND_SUBMITTED", 99, map[string]any{"table_id": 4}, "")
	require.NoError(t, err)
	require.NotZero(t, id)

	var payload []byte
	require.NoError(t, tx.QueryRowContext(ctx, "SELECT payload FROM outbox_events WHERE id = $1", id).Scan(&payload))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.NotEmpty(t, decoded["idempotency_key"])
}

func TestWrite_PreservesSuppliedIdempotencyKey(t *testing.T) {
	db := openTestDB(t)
	s := store.New(db)
	w := New(s)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	id, err := w.WriteCheck(ctx, tx, 1, "CHECK_CLOSED", 5, map[string]any{}, "caller-key-123")
	require.NoError(t, err)

	var payload []byte
	require.NoError(t, tx.QueryRowContext(ctx, "SELECT payload FROM outbox_events WHERE id = $1", id).Scan(&payload))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "caller-key-123", decoded["idempotency_key"])
}

func TestWriteServiceCall_UsesServiceCallAggregate(t *testing.T) {
	db := openTestDB(t)
	s := store.New(db)
	w := New(s)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	id, err := w.WriteServiceCall(ctx, tx, 1, "SERVICE_CALL_RAISED", 7, map[string]any{}, "")
	require.NoError(t, err)

	var aggType string
	require.NoError(t, tx.QueryRowContext(ctx, "SELECT aggregate_type FROM outbox_events WHERE id = $1", id).Scan(&aggType))
	require.Equal(t, string(outbox.AggregateServiceCall), aggType)
}
