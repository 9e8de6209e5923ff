package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/credithub/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository handles database operations for accounts. The balance
// column is deliberately absent from every write here — only the ledger
// store mutates it.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account into the database.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (id, email, password, role, tier, admin_override, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.Email, a.Password, a.Role, a.Tier, a.AdminOverride, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// FindByEmail returns an account by email address.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findOne(ctx, `WHERE email = $1`, email)
}

// FindByID returns an account by ID.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

func (r *AccountRepository) findOne(ctx context.Context, where string, arg any) (*domain.Account, error) {
	query := `
		SELECT id, email, password, role, tier, balance, admin_override, created_at, updated_at
		FROM accounts ` + where
	row := r.db.QueryRow(ctx, query, arg)

	var a domain.Account
	err := row.Scan(&a.ID, &a.Email, &a.Password, &a.Role, &a.Tier, &a.Balance, &a.AdminOverride, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &a, nil
}

// Exists checks if an account with the given email already exists.
func (r *AccountRepository) Exists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}
	return exists, nil
}

// ListAll returns all accounts ordered by creation date.
func (r *AccountRepository) ListAll(ctx context.Context) ([]*domain.Account, error) {
	query := `
		SELECT id, email, password, role, tier, balance, admin_override, created_at, updated_at
		FROM accounts ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Email, &a.Password, &a.Role, &a.Tier, &a.Balance, &a.AdminOverride, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}
	return accounts, nil
}

// SetTier updates the effective tier of an account.
func (r *AccountRepository) SetTier(ctx context.Context, id string, tier domain.Tier) error {
	_, err := r.db.Exec(ctx, `UPDATE accounts SET tier = $1, updated_at = NOW() WHERE id = $2`, tier, id)
	if err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}
	return nil
}
