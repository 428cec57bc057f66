// Package event implements the domain event value object: an immutable,
// schema-validated unit that carries tenant, branch, table/session/sector
// scoping and an optional entity/actor payload, with sensitive fields
// masked before the value is ever stored or logged.
package event

import (
	"errors"
	"fmt"
	"time"
)

// maxUnknownFields bounds how many top-level keys outside the known event
// envelope an incoming payload may carry before construction is refused.
// Guards against a malformed or hostile upstream flooding the gateway with
// huge, mostly-garbage maps.
const maxUnknownFields = 64

// sensitiveFieldNames is the denylist masked out of entity/actor payloads
// before the Event is stored. Matched case-insensitively against the full
// key and as a substring, since upstream field names vary
// ("card_number", "cardNumber", "credit_card" all must be caught).
var sensitiveFieldNames = []string{
	"password", "token", "secret", "card", "email", "phone", "address",
	"ssn", "pin", "cvv", "apikey", "api_key", "authorization",
}

const redactedPlaceholder = "***REDACTED***"

var (
	ErrMissingType     = errors.New("event: type is required")
	ErrMissingTenantID = errors.New("event: tenant_id is required and must be positive")
	ErrInvalidBranchID = errors.New("event: branch_id must be non-negative")
	ErrInvalidID       = errors.New("event: id field must be positive when present")
	ErrTooManyFields   = errors.New("event: unknown field count exceeds safety threshold")
)

// Event is an immutable, validated realtime notification. Zero value is not
// usable; construct with New.
type Event struct {
	eventType Type
	tenantID  int64

	// branchID is a pointer so 0 ("tenant-wide") is distinguishable from
	// "absent": branch_id=0 is permitted for tenant-wide events.
	branchID  *int64
	tableID   *int64
	sessionID *int64
	sectorID  *int64

	entity map[string]any
	actor  map[string]any

	timestamp *time.Time
	schemaVer *int
}

// New validates raw and constructs an Event. raw is deep-copied and
// sensitive fields are masked before any value is retained, so the caller's
// map may be mutated or discarded freely afterward.
func New(raw map[string]any) (*Event, error) {
	typ, err := extractType(raw)
	if err != nil {
		return nil, err
	}

	tenantID, err := extractRequiredPositiveInt(raw, "tenant_id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingTenantID, err)
	}

	ev := &Event{eventType: typ, tenantID: tenantID}

	if v, ok := raw["branch_id"]; ok {
		n, err := toInt64(v)
		if err != nil || n < 0 {
			return nil, ErrInvalidBranchID
		}
		ev.branchID = &n
	}
	if n, err := extractOptionalPositiveInt(raw, "table_id"); err != nil {
		return nil, err
	} else if n != nil {
		ev.tableID = n
	}
	if n, err := extractOptionalPositiveInt(raw, "session_id"); err != nil {
		return nil, err
	} else if n != nil {
		ev.sessionID = n
	}
	if n, err := extractOptionalPositiveInt(raw, "sector_id"); err != nil {
		return nil, err
	} else if n != nil {
		ev.sectorID = n
	}

	if ts, ok := raw["timestamp"]; ok {
		if s, ok := ts.(string); ok && s != "" {
			parsed, err := time.Parse(time.RFC3339, s)
			if err == nil {
				ev.timestamp = &parsed
			}
		}
	}
	if v, ok := raw["v"]; ok {
		if n, err := toInt64(v); err == nil {
			sv := int(n)
			ev.schemaVer = &sv
		}
	}

	if err := checkUnknownFieldBudget(raw); err != nil {
		return nil, err
	}

	if m, ok := raw["entity"].(map[string]any); ok {
		ev.entity = redactCopy(m)
	}
	if m, ok := raw["actor"].(map[string]any); ok {
		ev.actor = redactCopy(m)
	}

	return ev, nil
}

var knownEnvelopeKeys = map[string]struct{}{
	"type": {}, "tenant_id": {}, "branch_id": {}, "table_id": {},
	"session_id": {}, "sector_id": {}, "entity": {}, "actor": {},
	"timestamp": {}, "v": {},
}

func checkUnknownFieldBudget(raw map[string]any) error {
	extra := 0
	for k := range raw {
		if _, known := knownEnvelopeKeys[k]; !known {
			extra++
		}
	}
	if extra > maxUnknownFields {
		return fmt.Errorf("%w: %d unknown fields (max %d)", ErrTooManyFields, extra, maxUnknownFields)
	}
	return nil
}

func extractType(raw map[string]any) (Type, error) {
	v, ok := raw["type"]
	if !ok {
		return "", ErrMissingType
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", ErrMissingType
	}
	return Type(s), nil
}

func extractRequiredPositiveInt(raw map[string]any, key string) (int64, error) {
	v, ok := raw[key]
	if !ok {
		return 0, fmt.Errorf("%s missing", key)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func extractOptionalPositiveInt(raw map[string]any, key string) (*int64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidID, key, err)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidID, key, n)
	}
	return &n, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func isSensitiveKey(key string) bool {
	lower := toLower(key)
	for _, needle := range sensitiveFieldNames {
		if contains(lower, needle) {
			return true
		}
	}
	return false
}

// redactCopy deep-copies m, masking any value whose key matches the
// sensitive-field denylist. Nested maps are redacted recursively.
func redactCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactedPlaceholder
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			out[k] = redactCopy(val)
		case []any:
			cp := make([]any, len(val))
			for i, item := range val {
				if nested, ok := item.(map[string]any); ok {
					cp[i] = redactCopy(nested)
				} else {
					cp[i] = item
				}
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// --- accessors ---

func (e *Event) Type() Type            { return e.eventType }
func (e *Event) TenantID() int64       { return e.tenantID }
func (e *Event) BranchID() *int64      { return e.branchID }
func (e *Event) TableID() *int64       { return e.tableID }
func (e *Event) SessionID() *int64     { return e.sessionID }
func (e *Event) SectorID() *int64      { return e.sectorID }
func (e *Event) Timestamp() *time.Time { return e.timestamp }
func (e *Event) SchemaVersion() *int   { return e.schemaVer }

// Entity returns a defensive copy of the (already redacted) entity payload.
func (e *Event) Entity() map[string]any { return cloneMap(e.entity) }

// Actor returns a defensive copy of the (already redacted) actor payload.
func (e *Event) Actor() map[string]any { return cloneMap(e.actor) }

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ToMap reconstructs the wire representation. Round-tripping ToMap -> New
// yields an Event equal on all typed fields to the original -- the raw
// dict may differ from the original construction input because sensitive
// fields were masked at construction time, not at serialization time.
func (e *Event) ToMap() map[string]any {
	out := map[string]any{
		"type":      string(e.eventType),
		"tenant_id": e.tenantID,
	}
	if e.branchID != nil {
		out["branch_id"] = *e.branchID
	}
	if e.tableID != nil {
		out["table_id"] = *e.tableID
	}
	if e.sessionID != nil {
		out["session_id"] = *e.sessionID
	}
	if e.sectorID != nil {
		out["sector_id"] = *e.sectorID
	}
	if e.entity != nil {
		out["entity"] = cloneMap(e.entity)
	}
	if e.actor != nil {
		out["actor"] = cloneMap(e.actor)
	}
	if e.timestamp != nil {
		out["timestamp"] = e.timestamp.Format(time.RFC3339)
	}
	if e.schemaVer != nil {
		out["v"] = *e.schemaVer
	}
	return out
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func contains(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
