package executor

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rezerv/storefront/internal/domain/order"
)

// Service encapsulates executor assignment business logic.
type Service struct {
	repo  Repository
	limit int
}

// NewService creates an assignment Service with the default capacity limit.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, limit: MaxActiveOrders}
}

// Claim atomically assigns an unclaimed order to the executor and advances it
// to processing. Of two racing claims exactly one succeeds; the loser gets
// ErrAlreadyClaimed. An executor at capacity gets *CapacityExceededError
// before anything is written.
func (s *Service) Claim(ctx context.Context, orderID, executorID uuid.UUID) (*order.Order, error) {
	o, err := s.repo.Claim(ctx, orderID, executorID, s.limit)
	if err != nil {
		return nil, errors.Wrapf(err, "claim order %s for executor %s", orderID, executorID)
	}

	zctx.From(ctx).Info("Order claimed",
		zap.Stringer("order_id", orderID),
		zap.Stringer("executor_id", executorID),
	)

	return o, nil
}

// ActiveCount returns how many non-terminal orders the executor holds.
func (s *Service) ActiveCount(ctx context.Context, executorID uuid.UUID) (int, error) {
	n, err := s.repo.CountActive(ctx, executorID)
	if err != nil {
		return 0, errors.Wrapf(err, "count active orders for executor %s", executorID)
	}
	return n, nil
}
