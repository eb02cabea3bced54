package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rezerv/storefront/internal/domain/order"
)

// Sentinel errors for cart operations.
var (
	ErrNotFound     = errors.New("cart not found")
	ErrItemNotFound = errors.New("cart item not found")
	ErrEmptyCart    = errors.New("cart is empty")
	ErrNoCustomer   = errors.New("cart has no customer")
)

// InvalidQuantityError indicates a non-positive item quantity.
type InvalidQuantityError struct {
	ProductID uuid.UUID
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Cart is a mutable pre-checkout basket. It is owned by at most one customer
// and is cleared atomically when it converts to an order.
type Cart struct {
	ID         uuid.UUID
	CustomerID *uuid.UUID
	Items      []Item
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Item is a cart line. Price is the cached line price, quantity times the
// unit price at the moment of the last mutation.
type Item struct {
	ProductID uuid.UUID
	Quantity  int
	Price     decimal.Decimal
}

// TotalPrice sums the cached line prices.
func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Price)
	}
	return total
}

// Repository defines cart persistence operations.
type Repository interface {
	Create(ctx context.Context, customerID *uuid.UUID) (*Cart, error)
	Get(ctx context.Context, cartID uuid.UUID) (*Cart, error)

	// AddItem upserts a cart line, recomputing the cached line price from
	// the product's current unit price.
	AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) error
	UpdateQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) error
	RemoveItem(ctx context.Context, cartID, productID uuid.UUID) error

	// ConvertToOrder snapshots the cart into an immutable order and clears
	// the cart, all in one transaction: either the order and every line
	// exist and the cart is empty, or nothing changed. Returns ErrNotFound,
	// ErrEmptyCart or ErrNoCustomer.
	ConvertToOrder(ctx context.Context, cartID uuid.UUID, address, notes string) (*order.Order, error)
}
