package executor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezerv/storefront/internal/domain/order"
)

// --- Mock implementations ---

// mockClaimRepo mimics the transactional claim: capacity first, then the
// guarded assignment.
type mockClaimRepo struct {
	active    map[uuid.UUID]int
	order     *order.Order
	claimedBy *uuid.UUID

	gotLimit int
}

func newMockClaimRepo(o *order.Order) *mockClaimRepo {
	return &mockClaimRepo{active: make(map[uuid.UUID]int), order: o}
}

func (m *mockClaimRepo) Claim(_ context.Context, orderID, executorID uuid.UUID, limit int) (*order.Order, error) {
	m.gotLimit = limit

	if n := m.active[executorID]; n >= limit {
		return nil, &CapacityExceededError{ExecutorID: executorID, Active: n, Limit: limit}
	}
	if m.order == nil || m.order.ID != orderID {
		return nil, order.ErrNotFound
	}
	if m.claimedBy != nil {
		return nil, ErrAlreadyClaimed
	}
	if m.order.Status != order.StatusCreated {
		return nil, &order.InvalidTransitionError{From: m.order.Status, To: order.StatusProcessing}
	}

	m.claimedBy = &executorID
	m.active[executorID]++
	o := *m.order
	o.Status = order.StatusProcessing
	o.ExecutorID = &executorID
	return &o, nil
}

func (m *mockClaimRepo) CountActive(_ context.Context, executorID uuid.UUID) (int, error) {
	return m.active[executorID], nil
}

// --- Tests ---

func TestClaim_Success(t *testing.T) {
	repo := newMockClaimRepo(&order.Order{ID: uuid.New(), Status: order.StatusCreated})
	svc := NewService(repo)
	executorID := uuid.New()

	o, err := svc.Claim(context.Background(), repo.order.ID, executorID)

	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, o.Status)
	require.NotNil(t, o.ExecutorID)
	assert.Equal(t, executorID, *o.ExecutorID)
	assert.Equal(t, MaxActiveOrders, repo.gotLimit)
}

func TestClaim_AtCapacity(t *testing.T) {
	repo := newMockClaimRepo(&order.Order{ID: uuid.New(), Status: order.StatusCreated})
	svc := NewService(repo)
	executorID := uuid.New()
	repo.active[executorID] = MaxActiveOrders

	_, err := svc.Claim(context.Background(), repo.order.ID, executorID)

	var capErr *CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, executorID, capErr.ExecutorID)
	assert.Equal(t, MaxActiveOrders, capErr.Active)
	assert.Equal(t, MaxActiveOrders, capErr.Limit)

	// Nothing may have been written.
	assert.Nil(t, repo.claimedBy)
}

func TestClaim_OneBelowCapacity(t *testing.T) {
	repo := newMockClaimRepo(&order.Order{ID: uuid.New(), Status: order.StatusCreated})
	svc := NewService(repo)
	executorID := uuid.New()
	repo.active[executorID] = MaxActiveOrders - 1

	_, err := svc.Claim(context.Background(), repo.order.ID, executorID)
	require.NoError(t, err)

	n, err := svc.ActiveCount(context.Background(), executorID)
	require.NoError(t, err)
	assert.Equal(t, MaxActiveOrders, n)
}

func TestClaim_AlreadyClaimed(t *testing.T) {
	repo := newMockClaimRepo(&order.Order{ID: uuid.New(), Status: order.StatusCreated})
	svc := NewService(repo)

	_, err := svc.Claim(context.Background(), repo.order.ID, uuid.New())
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), repo.order.ID, uuid.New())
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestClaim_OrderNotFound(t *testing.T) {
	repo := newMockClaimRepo(nil)
	svc := NewService(repo)

	_, err := svc.Claim(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestClaim_OrderPastCreated(t *testing.T) {
	repo := newMockClaimRepo(&order.Order{ID: uuid.New(), Status: order.StatusDelivered})
	svc := NewService(repo)

	_, err := svc.Claim(context.Background(), repo.order.ID, uuid.New())

	var itErr *order.InvalidTransitionError
	require.ErrorAs(t, err, &itErr)
	assert.Equal(t, order.StatusDelivered, itErr.From)
}
