// Package writer is the single helper service code calls, inside its own
// business transaction, to stage an outbox row.
package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/orderflow/realtime-gateway/internal/domain/outbox"
	"github.com/orderflow/realtime-gateway/internal/outbox/store"
)

// Writer stages outbox rows without ever committing -- the caller's
// business transaction owns the commit.
type Writer struct {
	store *store.Store
}

// New wraps store.
func New(s *store.Store) *Writer { return &Writer{store: s} }

// Write serializes payload to canonical JSON and inserts a PENDING row.
// idempotencyKey is folded into the payload under a reserved field so
// downstream consumers can dedupe retried deliveries; an empty key is
// replaced by a random UUID.
func (w *Writer) Write(ctx context.Context, tx *sql.Tx, tenantID int64, eventType string, aggType outbox.AggregateType, aggregateID string, payload map[string]any, idempotencyKey string) (int64, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	shaped := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		shaped[k] = v
	}
	shaped["idempotency_key"] = idempotencyKey

	canonical, err := json.Marshal(shaped)
	if err != nil {
		return 0, fmt.Errorf("outbox writer: marshal payload: %w", err)
	}

	return w.store.WriteInTx(ctx, tx, tenantID, eventType, aggType, aggregateID, canonical)
}

// WriteRound is the round-family convenience wrapper.
func (w *Writer) WriteRound(ctx context.Context, tx *sql.Tx, tenantID int64, eventType string, roundID int64, payload map[string]any, idempotencyKey string) (int64, error) {
	return w.Write(ctx, tx, tenantID, eventType, outbox.AggregateRound, fmt.Sprintf("%d", roundID), payload, idempotencyKey)
}

// WriteCheck is the check-family convenience wrapper.
func (w *Writer) WriteCheck(ctx context.Context, tx *sql.Tx, tenantID int64, eventType string, checkID int64, payload map[string]any, idempotencyKey string) (int64, error) {
	return w.Write(ctx, tx, tenantID, eventType, outbox.AggregateCheck, fmt.Sprintf("%d", checkID), payload, idempotencyKey)
}

// WriteServiceCall is the service-call-family convenience wrapper.
func (w *Writer) WriteServiceCall(ctx context.Context, tx *sql.Tx, tenantID int64, eventType string, callID int64, payload map[string]any, idempotencyKey string) (int64, error) {
	return w.Write(ctx, tx, tenantID, eventType, outbox.AggregateServiceCall, fmt.Sprintf("%d", callID), payload, idempotencyKey)
}
