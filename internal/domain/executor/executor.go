// Package executor implements staff assignment: claiming unclaimed orders
// under a per-executor capacity limit.
package executor

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/rezerv/storefront/internal/domain/order"
)

// MaxActiveOrders is the capacity limit K: the maximum number of orders in a
// non-terminal status one executor may hold at once.
const MaxActiveOrders = 3

// Sentinel errors for claim operations.
var (
	// ErrAlreadyClaimed is returned when another executor won the race for
	// the same order.
	ErrAlreadyClaimed = errors.New("order already claimed")

	// ErrExecutorNotFound is returned when the claiming staff identity does
	// not exist or is not active staff.
	ErrExecutorNotFound = errors.New("executor not found")
)

// CapacityExceededError indicates the executor is already at the capacity
// limit. No mutation has happened when it is returned.
type CapacityExceededError struct {
	ExecutorID uuid.UUID
	Active     int
	Limit      int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("executor %s holds %d of %d active orders", e.ExecutorID, e.Active, e.Limit)
}

// Repository defines the atomic claim operation. Implementations must
// evaluate the capacity count and the conditional assignment inside one
// transaction; a separate read followed by a write is not acceptable.
type Repository interface {
	// Claim assigns the order to the executor and moves it to processing,
	// guarded by status = created and no executor being set. Returns
	// order.ErrNotFound, ErrExecutorNotFound, ErrAlreadyClaimed,
	// *CapacityExceededError or *order.InvalidTransitionError.
	Claim(ctx context.Context, orderID, executorID uuid.UUID, limit int) (*order.Order, error)

	// CountActive returns the number of orders the executor currently holds
	// in a non-terminal status.
	CountActive(ctx context.Context, executorID uuid.UUID) (int, error)
}
