package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezerv/storefront/internal/dispatch"
)

const (
	lastSendsSQL = `SELECT recipient_id, last_sent_at
	FROM order_notifications WHERE order_id = $1`

	markSentSQL = `INSERT INTO order_notifications (order_id, recipient_id, last_sent_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (order_id, recipient_id) DO UPDATE
	SET last_sent_at = EXCLUDED.last_sent_at`
)

var _ dispatch.SendLog = (*NotificationRepository)(nil)

// NotificationRepository implements the dispatcher's throttle ledger backed
// by PostgreSQL.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository returns a NotificationRepository that uses the
// given pool.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// LastSends returns the last notification time per recipient for the order.
func (r *NotificationRepository) LastSends(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]time.Time, error) {
	rows, err := r.pool.Query(ctx, lastSendsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("reading notification ledger for order %s: %w", orderID, err)
	}
	defer rows.Close()

	sends := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var (
			recipientID uuid.UUID
			at          time.Time
		)
		if err := rows.Scan(&recipientID, &at); err != nil {
			return nil, fmt.Errorf("scanning notification ledger: %w", err)
		}
		sends[recipientID] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification ledger: %w", err)
	}

	return sends, nil
}

// MarkSent records a successful delivery.
func (r *NotificationRepository) MarkSent(ctx context.Context, orderID, recipientID uuid.UUID, at time.Time) error {
	if _, err := r.pool.Exec(ctx, markSentSQL, orderID, recipientID, at); err != nil {
		return fmt.Errorf("recording notification for order %s: %w", orderID, err)
	}
	return nil
}
