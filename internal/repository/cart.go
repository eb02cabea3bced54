package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rezerv/storefront/internal/domain/cart"
	"github.com/rezerv/storefront/internal/domain/order"
	"github.com/rezerv/storefront/internal/domain/product"
)

const (
	createCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
	RETURNING created_at, updated_at`

	getCartSQL = `SELECT id, user_id, created_at, updated_at FROM carts WHERE id = $1`

	getCartItemsSQL = `SELECT product_id, quantity, price
	FROM cart_items WHERE cart_id = $1 ORDER BY id`

	// Line price is always recomputed from the product's current unit
	// price, both on insert and when merging into an existing line.
	addCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity, price)
	SELECT $1, p.id, $3::int, p.price * $3 FROM products p WHERE p.id = $2
	ON CONFLICT (cart_id, product_id) DO UPDATE
	SET quantity = cart_items.quantity + EXCLUDED.quantity,
	    price = (EXCLUDED.price / EXCLUDED.quantity) * (cart_items.quantity + EXCLUDED.quantity)`

	updateCartItemSQL = `UPDATE cart_items ci
	SET quantity = $3, price = p.price * $3
	FROM products p
	WHERE ci.cart_id = $1 AND ci.product_id = $2 AND p.id = ci.product_id`

	removeCartItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	touchCartSQL = `UPDATE carts SET updated_at = now() WHERE id = $1`

	// Conversion statements. All of them run inside one transaction.
	lockCartSQL = `SELECT user_id FROM carts WHERE id = $1 FOR UPDATE`

	lockCartItemsSQL = `SELECT product_id, quantity, price
	FROM cart_items WHERE cart_id = $1 ORDER BY id FOR UPDATE`

	insertOrderSQL = `INSERT INTO orders (id, customer_id, status, total_price, address, notes)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING created_at, updated_at`

	clearCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Create opens a new cart.
func (r *CartRepository) Create(ctx context.Context, customerID *uuid.UUID) (*cart.Cart, error) {
	c := cart.Cart{ID: uuid.New(), CustomerID: customerID}
	err := r.pool.QueryRow(ctx, createCartSQL, c.ID, customerID).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating cart: %w", err)
	}
	return &c, nil
}

// Get returns a cart with its items. Returns cart.ErrNotFound when no
// matching row exists.
func (r *CartRepository) Get(ctx context.Context, cartID uuid.UUID) (*cart.Cart, error) {
	var c cart.Cart
	err := r.pool.QueryRow(ctx, getCartSQL, cartID).Scan(&c.ID, &c.CustomerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart %s: %w", cartID, err)
	}

	rows, err := r.pool.Query(ctx, getCartItemsSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("getting cart %s items: %w", cartID, err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("scanning cart %s items: %w", cartID, err)
	}

	return &c, nil
}

// AddItem upserts a cart line, merging quantities for the same product.
// Returns product.ErrNotFound for an unknown product.
func (r *CartRepository) AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, addCartItemSQL, cartID, productID, quantity)
		if err != nil {
			return fmt.Errorf("adding cart item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return product.ErrNotFound
		}
		if _, err := tx.Exec(ctx, touchCartSQL, cartID); err != nil {
			return fmt.Errorf("touching cart: %w", err)
		}
		return nil
	})
}

// UpdateQuantity sets the quantity of an existing line, recomputing the
// cached line price. Returns cart.ErrItemNotFound when the line is missing.
func (r *CartRepository) UpdateQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateCartItemSQL, cartID, productID, quantity)
		if err != nil {
			return fmt.Errorf("updating cart item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return cart.ErrItemNotFound
		}
		if _, err := tx.Exec(ctx, touchCartSQL, cartID); err != nil {
			return fmt.Errorf("touching cart: %w", err)
		}
		return nil
	})
}

// RemoveItem drops a line. Returns cart.ErrItemNotFound when it is missing.
func (r *CartRepository) RemoveItem(ctx context.Context, cartID, productID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, removeCartItemSQL, cartID, productID)
	if err != nil {
		return fmt.Errorf("removing cart item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// ConvertToOrder snapshots the cart into an order inside one transaction:
// lock the cart and its lines, insert the order row with the frozen total,
// bulk-copy the item snapshots, delete the cart lines. Any failure rolls the
// whole unit back, so an order without an emptied cart (or the reverse) is
// never observable.
func (r *CartRepository) ConvertToOrder(ctx context.Context, cartID uuid.UUID, address, notes string) (*order.Order, error) {
	var o *order.Order

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var customerID *uuid.UUID
		if err := tx.QueryRow(ctx, lockCartSQL, cartID).Scan(&customerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return cart.ErrNotFound
			}
			return fmt.Errorf("locking cart: %w", err)
		}
		if customerID == nil {
			return cart.ErrNoCustomer
		}

		rows, err := tx.Query(ctx, lockCartItemsSQL, cartID)
		if err != nil {
			return fmt.Errorf("locking cart items: %w", err)
		}
		items, err := pgx.CollectRows(rows, scanCartItem)
		if err != nil {
			return fmt.Errorf("scanning cart items: %w", err)
		}
		if len(items) == 0 {
			return cart.ErrEmptyCart
		}

		total := decimal.Zero
		orderItems := make([]order.Item, len(items))
		for i, item := range items {
			total = total.Add(item.Price)
			orderItems[i] = order.Item{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Price:     item.Price,
			}
		}

		created := order.Order{
			ID:         uuid.New(),
			CustomerID: *customerID,
			Status:     order.StatusCreated,
			TotalPrice: total,
			Address:    address,
			Notes:      notes,
			Items:      orderItems,
		}
		err = tx.QueryRow(ctx, insertOrderSQL,
			created.ID, created.CustomerID, created.Status, created.TotalPrice, created.Address, created.Notes,
		).Scan(&created.CreatedAt, &created.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{"order_id", "product_id", "quantity", "price"},
			pgx.CopyFromSlice(len(orderItems), func(i int) ([]any, error) {
				item := orderItems[i]
				return []any{created.ID, item.ProductID, item.Quantity, item.Price}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copying order items: %w", err)
		}

		if _, err := tx.Exec(ctx, clearCartItemsSQL, cartID); err != nil {
			return fmt.Errorf("clearing cart: %w", err)
		}
		if _, err := tx.Exec(ctx, touchCartSQL, cartID); err != nil {
			return fmt.Errorf("touching cart: %w", err)
		}

		o = &created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return o, nil
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var item cart.Item
	err := row.Scan(&item.ProductID, &item.Quantity, &item.Price)
	return item, err
}
