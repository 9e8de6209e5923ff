package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository handles database operations for subscriptions.
type SubscriptionRepository struct {
	db *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, account_id, provider, provider_sub_id, plan, status,
	current_period_start, current_period_end, credits_per_period, rollover, created_at, updated_at`

func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		sub.ID, sub.AccountID, sub.Provider, sub.ProviderSubID, sub.Plan, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CreditsPerPeriod, sub.Rollover,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// FindByProviderSubID returns the subscription with the given provider-side
// id, regardless of status.
func (r *SubscriptionRepository) FindByProviderSubID(ctx context.Context, provider, providerSubID string) (*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE provider = $1 AND provider_sub_id = $2
	`
	return r.scanOne(r.db.QueryRow(ctx, query, provider, providerSubID))
}

// FindActiveByAccount returns the most recent non-cancelled subscription for
// an account, or nil if none exists.
func (r *SubscriptionRepository) FindActiveByAccount(ctx context.Context, accountID string) (*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE account_id = $1 AND status IN ('active', 'past_due')
		ORDER BY created_at DESC LIMIT 1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, accountID))
}

func (r *SubscriptionRepository) scanOne(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.AccountID, &sub.Provider, &sub.ProviderSubID, &sub.Plan, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CreditsPerPeriod, &sub.Rollover,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return &sub, nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $1, plan = $2, current_period_start = $3, current_period_end = $4,
		    credits_per_period = $5, rollover = $6, updated_at = NOW()
		WHERE id = $7
	`
	_, err := r.db.Exec(ctx, query,
		sub.Status, sub.Plan, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CreditsPerPeriod, sub.Rollover, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// DueForRenewal returns active subscriptions whose billing period has ended.
func (r *SubscriptionRepository) DueForRenewal(ctx context.Context, now time.Time) ([]*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions WHERE status = 'active' AND current_period_end <= $1
		ORDER BY current_period_end
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(
			&sub.ID, &sub.AccountID, &sub.Provider, &sub.ProviderSubID, &sub.Plan, &sub.Status,
			&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CreditsPerPeriod, &sub.Rollover,
			&sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}
