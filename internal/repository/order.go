package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/credithub/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepository handles database operations for checkout orders.
type OrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new checkout order.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	query := `
		INSERT INTO orders (id, account_id, kind, pack_id, plan_id, credits, amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		o.ID, o.AccountID, o.Kind, o.PackID, o.PlanID, o.Credits, o.AmountCents, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// FindByID returns an order by its id, or nil when none exists.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT id, account_id, kind, pack_id, plan_id, credits, amount_cents, status, created_at, updated_at
		FROM orders WHERE id = $1
	`
	row := r.db.QueryRow(ctx, query, id)

	var o domain.Order
	err := row.Scan(&o.ID, &o.AccountID, &o.Kind, &o.PackID, &o.PlanID, &o.Credits, &o.AmountCents, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &o, nil
}

// MarkPaid records that the processor settled the order.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`, domain.OrderPaid, id)
	if err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}
	return nil
}
