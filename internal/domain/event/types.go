package event

// Type is the closed set of realtime event types the gateway understands.
// Unknown values are tolerated (see router.Route) but logged.
type Type string

const (
	RoundPending    Type = "ROUND_PENDING"
	RoundSubmitted  Type = "ROUND_SUBMITTED"
	RoundInKitchen  Type = "ROUND_IN_KITCHEN"
	RoundReady      Type = "ROUND_READY"
	RoundServed     Type = "ROUND_SERVED"
	RoundCanceled   Type = "ROUND_CANCELED"

	ServiceCallCreated Type = "SERVICE_CALL_CREATED"
	ServiceCallAcked   Type = "SERVICE_CALL_ACKED"
	ServiceCallClosed  Type = "SERVICE_CALL_CLOSED"

	CheckRequested Type = "CHECK_REQUESTED"
	CheckPaid      Type = "CHECK_PAID"

	PaymentApproved Type = "PAYMENT_APPROVED"
	PaymentRejected Type = "PAYMENT_REJECTED"
	PaymentFailed   Type = "PAYMENT_FAILED"

	TableCleared       Type = "TABLE_CLEARED"
	TableSessionStart  Type = "TABLE_SESSION_STARTED"
	TableStatusChanged Type = "TABLE_STATUS_CHANGED"

	TicketInProgress Type = "TICKET_IN_PROGRESS"
	TicketReady      Type = "TICKET_READY"
	TicketDelivered  Type = "TICKET_DELIVERED"

	EntityCreated Type = "ENTITY_CREATED"
	EntityUpdated Type = "ENTITY_UPDATED"
	EntityDeleted Type = "ENTITY_DELETED"
	CascadeDelete Type = "CASCADE_DELETE"
)

// known is the closed set used by IsKnown. Kept separate from the routing
// matrix (package router) so the value object can validate without
// importing routing concerns.
var known = map[Type]struct{}{
	RoundPending: {}, RoundSubmitted: {}, RoundInKitchen: {}, RoundReady: {},
	RoundServed: {}, RoundCanceled: {},
	ServiceCallCreated: {}, ServiceCallAcked: {}, ServiceCallClosed: {},
	CheckRequested: {}, CheckPaid: {},
	PaymentApproved: {}, PaymentRejected: {}, PaymentFailed: {},
	TableCleared: {}, TableSessionStart: {}, TableStatusChanged: {},
	TicketInProgress: {}, TicketReady: {}, TicketDelivered: {},
	EntityCreated: {}, EntityUpdated: {}, EntityDeleted: {}, CascadeDelete: {},
}

// IsKnown reports whether t is part of the closed event-type enum.
// Unknown types are not rejected by Event construction, logged but
// tolerated -- they are routed admin-only by the router.
func IsKnown(t Type) bool {
	_, ok := known[t]
	return ok
}
