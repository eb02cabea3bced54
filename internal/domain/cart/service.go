package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rezerv/storefront/internal/domain/order"
)

// Service encapsulates cart mutation and checkout business logic.
type Service struct {
	carts Repository
}

// NewService creates a cart Service backed by the given repository.
func NewService(carts Repository) *Service {
	return &Service{carts: carts}
}

// Create opens a new cart, optionally bound to a customer.
func (s *Service) Create(ctx context.Context, customerID *uuid.UUID) (*Cart, error) {
	c, err := s.carts.Create(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	return c, nil
}

// Get returns a cart with its items.
func (s *Service) Get(ctx context.Context, cartID uuid.UUID) (*Cart, error) {
	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, errors.Wrapf(err, "get cart %s", cartID)
	}
	return c, nil
}

// AddItem adds quantity units of a product to the cart, merging with an
// existing line for the same product.
func (s *Service) AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return &InvalidQuantityError{ProductID: productID}
	}
	if err := s.carts.AddItem(ctx, cartID, productID, quantity); err != nil {
		return errors.Wrapf(err, "add product %s to cart %s", productID, cartID)
	}
	return nil
}

// UpdateQuantity sets the quantity of an existing cart line. Zero removes
// the line.
func (s *Service) UpdateQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) error {
	if quantity < 0 {
		return &InvalidQuantityError{ProductID: productID}
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, cartID, productID)
	}
	if err := s.carts.UpdateQuantity(ctx, cartID, productID, quantity); err != nil {
		return errors.Wrapf(err, "update product %s in cart %s", productID, cartID)
	}
	return nil
}

// RemoveItem drops a cart line.
func (s *Service) RemoveItem(ctx context.Context, cartID, productID uuid.UUID) error {
	if err := s.carts.RemoveItem(ctx, cartID, productID); err != nil {
		return errors.Wrapf(err, "remove product %s from cart %s", productID, cartID)
	}
	return nil
}

// Convert turns a non-empty cart into an immutable order. The order total is
// the sum of the cart's cached line prices, the lines become order item
// snapshots, and the cart is emptied, all atomically. The new order becomes
// visible to the dispatcher's next scan; no separate signal is needed.
func (s *Service) Convert(ctx context.Context, cartID uuid.UUID, address, notes string) (*order.Order, error) {
	o, err := s.carts.ConvertToOrder(ctx, cartID, address, notes)
	if err != nil {
		return nil, errors.Wrapf(err, "convert cart %s", cartID)
	}

	zctx.From(ctx).Info("Cart converted to order",
		zap.Stringer("cart_id", cartID),
		zap.Stringer("order_id", o.ID),
		zap.String("total_price", o.TotalPrice.String()),
		zap.Int("items", len(o.Items)),
	)

	return o, nil
}
