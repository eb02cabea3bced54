// Package dispatch contains the notification dispatcher: a long-lived loop
// that periodically scans for unclaimed orders and alerts staff, respecting
// the working-hour window and per-recipient throttling.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Recipient is a staff member reachable over a chat channel.
type Recipient struct {
	ID        uuid.UUID
	ChatAddr  string
	CanClaim  bool // staff get a claim button, admins only the summary
}

// StaffDirectory lists the recipients of order alerts.
type StaffDirectory interface {
	ListNotifiable(ctx context.Context) ([]Recipient, error)
}

// Message is one alert about one order. ClaimAction carries the opaque token
// the chat layer turns into a claim button; it is empty when the recipient
// cannot claim.
type Message struct {
	OrderID     uuid.UUID
	Text        string
	ClaimAction string
	Repeat      bool
}

// Channel delivers a message to a single chat address. Implementations are
// transport specific; the dispatcher only requires that a failed send
// returns an error instead of blocking forever.
type Channel interface {
	Send(ctx context.Context, chatAddr string, msg Message) error
}

// OrderLine is one line of a pending order, denormalized for display.
type OrderLine struct {
	Name     string
	Quantity int
}

// PendingOrder is an unclaimed order as seen by the dispatcher scan, joined
// with the customer details the alert text needs.
type PendingOrder struct {
	ID            uuid.UUID
	CustomerName  string
	CustomerPhone string
	Address       string
	TotalPrice    decimal.Decimal
	Lines         []OrderLine
	CreatedAt     time.Time
}

// OrderSource supplies the orders needing attention: status created, no
// executor.
type OrderSource interface {
	ListPending(ctx context.Context) ([]PendingOrder, error)
}

// SendLog is the throttle ledger. Send times are tracked per
// (order, recipient) pair.
type SendLog interface {
	// LastSends returns the last notification time per recipient for the
	// order. An order absent from the ledger has never been notified.
	LastSends(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]time.Time, error)

	// MarkSent records a successful delivery.
	MarkSent(ctx context.Context, orderID, recipientID uuid.UUID, at time.Time) error
}
