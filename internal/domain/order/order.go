package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// InvalidTransitionError indicates a status change that has no edge in the
// state machine, including any attempt to leave a terminal status.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("no legal transition to status %q", e.To)
	}
	return fmt.Sprintf("illegal transition %q -> %q", e.From, e.To)
}

// Order is a placed order. Everything except status, executor and updated_at
// is immutable after creation: the total and the item snapshots are frozen at
// conversion time and never follow later product price changes.
type Order struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	ExecutorID *uuid.UUID
	Status     Status
	TotalPrice decimal.Decimal
	Address    string
	Notes      string
	Items      []Item
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Item is an immutable order line: quantity and the line price captured at
// order creation.
type Item struct {
	ProductID uuid.UUID
	Quantity  int
	Price     decimal.Decimal
}

// Repository defines persistence operations for orders.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// Transition applies target atomically, guarded by the current status
	// being one of allowedFrom. When clearExecutor is set the executor
	// reference is dropped in the same statement, freeing claim capacity.
	// Returns ErrNotFound or *InvalidTransitionError.
	Transition(ctx context.Context, id uuid.UUID, target Status, allowedFrom []Status, clearExecutor bool) (*Order, error)
}
