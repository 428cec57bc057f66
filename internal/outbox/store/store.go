// Package store is the Postgres-backed persistence layer for the
// transactional outbox: row insertion inside a caller's transaction, and
// the claim/mark-outcome queries the processor uses.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/orderflow/realtime-gateway/internal/domain/outbox"
)

const (
	insertSQL = `
INSERT INTO outbox_events (tenant_id, event_type, aggregate_type, aggregate_id, payload, status, retry_count, created_at)
VALUES ($1, $2, $3, $4, $5, 'PENDING', 0, now())
RETURNING id`

	claimSQL = `
SELECT id, tenant_id, event_type, aggregate_type, aggregate_id, payload, retry_count, created_at
FROM outbox_events
WHERE status = 'PENDING'
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`

	markClaimedSQL = `UPDATE outbox_events SET status = 'PROCESSING' WHERE id = $1`

	markPublishedSQL = `UPDATE outbox_events SET status = 'PUBLISHED', processed_at = now() WHERE id = $1`

	markRetrySQL = `UPDATE outbox_events SET status = 'PENDING', retry_count = retry_count + 1, last_error = $2 WHERE id = $1`

	markFailedSQL = `UPDATE outbox_events SET status = 'FAILED', retry_count = retry_count + 1, last_error = $2 WHERE id = $1`

	recoverStaleSQL = `
UPDATE outbox_events
SET status = 'PENDING'
WHERE status = 'PROCESSING' AND created_at < $1`
)

// Store wraps *sql.DB with the outbox's own statement set. The caller owns
// the *sql.DB lifecycle (opened once at process startup against the pgx
// stdlib driver).
type Store struct {
	db *sql.DB
}

// New wraps db.
func New(db *sql.DB) *Store { return &Store{db: db} }

// WriteInTx inserts a new PENDING row using tx, the caller's own business
// transaction. The caller commits; this helper never does.
func (s *Store) WriteInTx(ctx context.Context, tx *sql.Tx, tenantID int64, eventType string, aggType outbox.AggregateType, aggregateID string, payload []byte) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, insertSQL, tenantID, eventType, string(aggType), aggregateID, payload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("outbox store: insert: %w", err)
	}
	return id, nil
}

// ClaimBatch claims up to batchSize PENDING rows (oldest first, skip-locked)
// and marks them PROCESSING, all inside one transaction it commits before
// returning.
func (s *Store) ClaimBatch(ctx context.Context, batchSize int) ([]outbox.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, claimSQL, batchSize)
	if err != nil {
		return nil, err
	}

	var claimed []outbox.Row
	for rows.Next() {
		var r outbox.Row
		var aggType string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.EventType, &aggType, &r.AggregateID, &r.Payload, &r.RetryCount, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.AggregateType = outbox.AggregateType(aggType)
		r.Status = outbox.StatusProcessing
		claimed = append(claimed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, r := range claimed {
		if _, err := tx.ExecContext(ctx, markClaimedSQL, r.ID); err != nil {
			return nil, err
		}
	}

	return claimed, tx.Commit()
}

// MarkPublished records a successful publish.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, markPublishedSQL, id)
	return err
}

// MarkOutcome reverts a failed row to PENDING with an incremented retry
// count, or to FAILED once the incremented count (retryCount+1) reaches
// maxRetries.
func (s *Store) MarkOutcome(ctx context.Context, id int64, retryCount, maxRetries int, cause error) error {
	errStr := ""
	if cause != nil {
		errStr = cause.Error()
	}
	if retryCount+1 >= maxRetries {
		_, err := s.db.ExecContext(ctx, markFailedSQL, id, errStr)
		return err
	}
	_, err := s.db.ExecContext(ctx, markRetrySQL, id, errStr)
	return err
}

// RecoverStale reverts PROCESSING rows older than olderThan back to
// PENDING, the startup sweep that closes the claim/outcome crash window.
func (s *Store) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, recoverStaleSQL, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
