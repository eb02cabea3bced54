package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/rezerv/storefront/internal/dispatch"
	"github.com/rezerv/storefront/internal/domain/executor"
	"github.com/rezerv/storefront/internal/domain/order"
)

const (
	orderColumns = `id, customer_id, executor_id, status, total_price, address, notes, created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT product_id, quantity, price
	FROM order_items WHERE order_id = $1 ORDER BY id`

	// The status guard makes the transition a single atomic check-and-set:
	// a concurrent transition or claim that got there first leaves zero
	// rows for this one.
	transitionSQL = `UPDATE orders
	SET status = $2,
	    executor_id = CASE WHEN $3 THEN NULL ELSE executor_id END,
	    updated_at = now()
	WHERE id = $1 AND status = ANY($4)
	RETURNING ` + orderColumns

	orderStateSQL = `SELECT executor_id, status FROM orders WHERE id = $1`

	// Locking the executor's directory row serializes claims per executor,
	// so two concurrent claims cannot both read the same active count.
	lockExecutorSQL = `SELECT role, active FROM users WHERE id = $1 FOR UPDATE`

	countActiveSQL = `SELECT count(*) FROM orders
	WHERE executor_id = $1 AND status = ANY($2)`

	claimSQL = `UPDATE orders
	SET executor_id = $2, status = $3, updated_at = now()
	WHERE id = $1 AND status = $4 AND executor_id IS NULL
	RETURNING ` + orderColumns

	listPendingSQL = `SELECT o.id, o.total_price, o.address, o.created_at,
	       u.username, u.phone, p.name, oi.quantity
	FROM orders o
	JOIN users u ON u.id = o.customer_id
	JOIN order_items oi ON oi.order_id = o.id
	JOIN products p ON p.id = oi.product_id
	WHERE o.status = 'created' AND o.executor_id IS NULL
	ORDER BY o.created_at, o.id, oi.id`
)

var (
	_ order.Repository     = (*OrderRepository)(nil)
	_ executor.Repository  = (*OrderRepository)(nil)
	_ dispatch.OrderSource = (*OrderRepository)(nil)
)

// OrderRepository implements order persistence, the atomic claim operation
// and the dispatcher's pending-order scan, all backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID returns an order with its item snapshots. Returns order.ErrNotFound
// when no matching row exists.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	var o order.Order
	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(orderFields(&o)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %s: %w", id, err)
	}

	if err := r.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Transition applies target as one guarded update. Zero affected rows means
// either the order is missing or its current status has no edge to target;
// a follow-up read tells the two apart.
func (r *OrderRepository) Transition(ctx context.Context, id uuid.UUID, target order.Status, allowedFrom []order.Status, clearExecutor bool) (*order.Order, error) {
	from := lo.Map(allowedFrom, func(s order.Status, _ int) string { return string(s) })

	var o order.Order
	err := r.pool.QueryRow(ctx, transitionSQL, id, target, clearExecutor, from).Scan(orderFields(&o)...)
	if err == nil {
		if err := r.loadItems(ctx, &o); err != nil {
			return nil, err
		}
		return &o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transitioning order %s: %w", id, err)
	}

	var (
		executorID *uuid.UUID
		current    order.Status
	)
	if err := r.pool.QueryRow(ctx, orderStateSQL, id).Scan(&executorID, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("reading order %s state: %w", id, err)
	}
	return nil, &order.InvalidTransitionError{From: current, To: target}
}

// Claim atomically assigns the order: lock the executor row, count its
// active orders, then run the conditional update. The executor lock
// serializes capacity checks; the WHERE guard on the update decides the
// winner of racing claims on the same order.
func (r *OrderRepository) Claim(ctx context.Context, orderID, executorID uuid.UUID, limit int) (*order.Order, error) {
	var o order.Order

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			role   string
			active bool
		)
		if err := tx.QueryRow(ctx, lockExecutorSQL, executorID).Scan(&role, &active); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return executor.ErrExecutorNotFound
			}
			return fmt.Errorf("locking executor: %w", err)
		}
		if !active || role == "customer" {
			return executor.ErrExecutorNotFound
		}

		count, err := countActiveTx(ctx, tx, executorID)
		if err != nil {
			return err
		}
		if count >= limit {
			return &executor.CapacityExceededError{
				ExecutorID: executorID,
				Active:     count,
				Limit:      limit,
			}
		}

		err = tx.QueryRow(ctx, claimSQL,
			orderID, executorID, order.StatusProcessing, order.StatusCreated,
		).Scan(orderFields(&o)...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("claiming order: %w", err)
		}

		// The conditional update matched nothing; find out why.
		var (
			claimedBy *uuid.UUID
			current   order.Status
		)
		if err := tx.QueryRow(ctx, orderStateSQL, orderID).Scan(&claimedBy, &current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return fmt.Errorf("reading order state: %w", err)
		}
		if claimedBy != nil {
			return executor.ErrAlreadyClaimed
		}
		return &order.InvalidTransitionError{From: current, To: order.StatusProcessing}
	})
	if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CountActive returns the executor's current number of non-terminal orders.
func (r *OrderRepository) CountActive(ctx context.Context, executorID uuid.UUID) (int, error) {
	statuses := lo.Map(order.ActiveStatuses(), func(s order.Status, _ int) string { return string(s) })

	var count int
	if err := r.pool.QueryRow(ctx, countActiveSQL, executorID, statuses).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting active orders: %w", err)
	}
	return count, nil
}

func countActiveTx(ctx context.Context, tx pgx.Tx, executorID uuid.UUID) (int, error) {
	statuses := lo.Map(order.ActiveStatuses(), func(s order.Status, _ int) string { return string(s) })

	var count int
	if err := tx.QueryRow(ctx, countActiveSQL, executorID, statuses).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting active orders: %w", err)
	}
	return count, nil
}

// ListPending returns unclaimed created orders joined with the customer and
// line details the dispatcher alerts need, oldest first.
func (r *OrderRepository) ListPending(ctx context.Context) ([]dispatch.PendingOrder, error) {
	rows, err := r.pool.Query(ctx, listPendingSQL)
	if err != nil {
		return nil, fmt.Errorf("listing pending orders: %w", err)
	}
	defer rows.Close()

	var pending []dispatch.PendingOrder
	for rows.Next() {
		var (
			id          uuid.UUID
			total       decimal.Decimal
			address     string
			createdAt   time.Time
			name, phone string
			productName string
			quantity    int
		)
		if err := rows.Scan(&id, &total, &address, &createdAt, &name, &phone, &productName, &quantity); err != nil {
			return nil, fmt.Errorf("scanning pending order: %w", err)
		}

		line := dispatch.OrderLine{Name: productName, Quantity: quantity}
		if n := len(pending); n > 0 && pending[n-1].ID == id {
			pending[n-1].Lines = append(pending[n-1].Lines, line)
			continue
		}
		pending = append(pending, dispatch.PendingOrder{
			ID:            id,
			CustomerName:  name,
			CustomerPhone: phone,
			Address:       address,
			TotalPrice:    total,
			Lines:         []dispatch.OrderLine{line},
			CreatedAt:     createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending orders: %w", err)
	}

	return pending, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := r.pool.Query(ctx, getOrderItemsSQL, o.ID)
	if err != nil {
		return fmt.Errorf("getting order %s items: %w", o.ID, err)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var item order.Item
		err := row.Scan(&item.ProductID, &item.Quantity, &item.Price)
		return item, err
	})
	if err != nil {
		return fmt.Errorf("scanning order %s items: %w", o.ID, err)
	}
	return nil
}

func orderFields(o *order.Order) []any {
	return []any{
		&o.ID, &o.CustomerID, &o.ExecutorID, &o.Status,
		&o.TotalPrice, &o.Address, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	}
}
