// Package user holds the customer and staff directory shared by the order
// core: customers own carts and orders, staff members ("executors") claim
// orders and receive dispatcher notifications.
package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("user not found")

// Role distinguishes customers from staff. Admins are staff for notification
// purposes but are never assigned orders.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// User is a storefront identity.
type User struct {
	ID        uuid.UUID
	Username  string
	Phone     string
	ChatID    string // chat channel address; empty when the user has no chat binding
	Role      Role
	Active    bool
	CreatedAt time.Time
}

// Notifiable reports whether the user should receive dispatcher alerts.
func (u User) Notifiable() bool {
	return u.Active && u.ChatID != "" && (u.Role == RoleStaff || u.Role == RoleAdmin)
}

// Repository defines directory persistence operations.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, u User) error
}
