package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service drives orders through the status state machine.
type Service struct {
	orders Repository
}

// NewService creates an order Service backed by the given repository.
func NewService(orders Repository) *Service {
	return &Service{orders: orders}
}

// Transition moves an order to target. The edge table decides which source
// statuses are legal; the repository applies the change as a single guarded
// update, so a concurrent transition or claim cannot slip in between check
// and write. A transition to canceled also releases the executor.
func (s *Service) Transition(ctx context.Context, orderID uuid.UUID, target Status, actorID uuid.UUID) (*Order, error) {
	allowedFrom := SourcesOf(target)
	if len(allowedFrom) == 0 {
		// Unknown status, or the initial one: nothing transitions into it.
		return nil, &InvalidTransitionError{To: target}
	}

	o, err := s.orders.Transition(ctx, orderID, target, allowedFrom, target == StatusCanceled)
	if err != nil {
		return nil, errors.Wrapf(err, "transition order %s to %q", orderID, target)
	}

	zctx.From(ctx).Info("Order status changed",
		zap.Stringer("order_id", orderID),
		zap.String("status", string(target)),
		zap.Stringer("actor_id", actorID),
	)

	return o, nil
}
