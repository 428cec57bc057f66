// Package sector defines the out-of-process collaborator the waiter
// endpoint consults for today's sector assignments. The assignment data
// lives outside this module; the package holds the contract and
// HTTPRepository, a client for an external sector-assignment service.
package sector

import "context"

// Repository resolves which sectors a waiter is assigned to for the current
// shift. Implementations must themselves enforce any timeout; callers wrap
// the call in their own bounded-timeout context as well.
type Repository interface {
	SectorsForWaiter(ctx context.Context, tenantID, branchID, userID int64) ([]int64, error)
}
