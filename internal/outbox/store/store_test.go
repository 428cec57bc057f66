package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderflow/realtime-gateway/internal/domain/outbox"
)

// openTestDB connects to the Postgres instance named by TEST_OUTBOX_DSN and
// skips the test otherwise -- this package has no logic worth exercising
// against a fake driver, only SQL that must round-trip through a real
// planner and the FOR UPDATE SKIP LOCKED claim semantics.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_OUTBOX_DSN")
	if dsn == "" {
		t.Skip("TEST_OUTBOX_DSN not set, skipping outbox store integration test")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWriteInTx_ClaimBatch_MarkPublished(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	id, err := s.WriteInTx(ctx, tx, 1, "ROUND_SUBMITTED", outbox.AggregateRound, "round-1", []byte(`{"idempotency_key":"k1"}`))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	claimed, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, claimed)

	var found bool
	for _, row := range claimed {
		if row.ID == id {
			found = true
			require.Equal(t, outbox.StatusProcessing, row.Status)
		}
	}
	require.True(t, found)

	require.NoError(t, s.MarkPublished(ctx, id))
}

func TestMarkOutcome_RetriesThenFails(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	id, err := s.WriteInTx(ctx, tx, 1, "ROUND_SUBMITTED", outbox.AggregateRound, "round-2", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, s.MarkOutcome(ctx, id, 0, 3, nil))
	require.NoError(t, s.MarkOutcome(ctx, id, 2, 3, nil), "retryCount+1 == maxRetries must transition to FAILED")
}

func TestRecoverStale_RevertsOldProcessingRows(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	n, err := s.RecoverStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(0))
}
