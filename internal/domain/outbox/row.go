// Package outbox defines the transactional outbox row: the
// persistent unit lifted from a business transaction onto the bus by the
// outbox processor.
package outbox

import "time"

// Status is the row's lifecycle state. Transitions: PENDING -> PROCESSING ->
// (PUBLISHED | FAILED | PENDING with RetryCount+1). PUBLISHED is terminal;
// FAILED is never auto-retried.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPublished  Status = "PUBLISHED"
	StatusFailed     Status = "FAILED"
)

// AggregateType names the routing family an outbox row belongs to; the
// processor dispatches publish calls by this field.
type AggregateType string

const (
	AggregateRound       AggregateType = "round"
	AggregateCheck       AggregateType = "check"
	AggregateServiceCall AggregateType = "service_call"
	AggregateTable       AggregateType = "table"
	AggregateTicket      AggregateType = "ticket"
	AggregateEntity      AggregateType = "entity"
)

// Row is a persistent outbox record. Mutated only by the outbox processor
// once written.
type Row struct {
	ID            int64
	TenantID      int64
	EventType     string
	AggregateType AggregateType
	AggregateID   string
	Payload       []byte // canonical JSON
	Status        Status
	RetryCount    int
	LastError     *string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// MaxRetries is the default ceiling before a row moves PROCESSING -> FAILED.
// Overridable via config.Config.OutboxMaxRetries.
const MaxRetries = 5
