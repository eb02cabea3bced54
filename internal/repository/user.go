package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/rezerv/storefront/internal/dispatch"
	"github.com/rezerv/storefront/internal/domain/user"
)

const (
	getUserSQL = `SELECT id, username, phone, COALESCE(chat_id, ''), role, active, created_at
	FROM users WHERE id = $1`

	createUserSQL = `INSERT INTO users (id, username, phone, chat_id, role, active)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`

	listNotifiableSQL = `SELECT id, chat_id, role
	FROM users
	WHERE active AND chat_id IS NOT NULL AND role IN ('staff', 'admin')
	ORDER BY username, id`
)

var (
	_ user.Repository         = (*UserRepository)(nil)
	_ dispatch.StaffDirectory = (*UserRepository)(nil)
)

// UserRepository implements the user directory backed by PostgreSQL. It
// doubles as the dispatcher's StaffDirectory.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns a single user. Returns user.ErrNotFound when no matching
// row exists.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	var u user.User
	err := r.pool.QueryRow(ctx, getUserSQL, id).Scan(
		&u.ID, &u.Username, &u.Phone, &u.ChatID, &u.Role, &u.Active, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return &u, nil
}

// Create inserts a directory row.
func (r *UserRepository) Create(ctx context.Context, u user.User) error {
	_, err := r.pool.Exec(ctx, createUserSQL, u.ID, u.Username, u.Phone, u.ChatID, u.Role, u.Active)
	if err != nil {
		return fmt.Errorf("creating user %s: %w", u.ID, err)
	}
	return nil
}

// ListNotifiable returns every active staff or admin with a chat binding.
// Admins receive alerts without a claim action.
func (r *UserRepository) ListNotifiable(ctx context.Context) ([]dispatch.Recipient, error) {
	rows, err := r.pool.Query(ctx, listNotifiableSQL)
	if err != nil {
		return nil, fmt.Errorf("listing notifiable staff: %w", err)
	}

	type notifiableRow struct {
		ID     uuid.UUID
		ChatID string
		Role   user.Role
	}

	scanned, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifiableRow, error) {
		var n notifiableRow
		err := row.Scan(&n.ID, &n.ChatID, &n.Role)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning notifiable staff: %w", err)
	}

	return lo.Map(scanned, func(n notifiableRow, _ int) dispatch.Recipient {
		return dispatch.Recipient{
			ID:       n.ID,
			ChatAddr: n.ChatID,
			CanClaim: n.Role == user.RoleStaff,
		}
	}), nil
}
