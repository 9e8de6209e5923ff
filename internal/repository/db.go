package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the initial schema migration.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS accounts (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL UNIQUE,
			password       TEXT NOT NULL,
			role           TEXT NOT NULL DEFAULT 'user',
			tier           TEXT NOT NULL DEFAULT 'none',
			balance        BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			admin_override BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id            TEXT PRIMARY KEY,
			account_id    TEXT NOT NULL REFERENCES accounts(id),
			amount        BIGINT NOT NULL,
			kind          TEXT NOT NULL,
			source        TEXT NOT NULL,
			external_ref  TEXT NOT NULL,
			balance_after BIGINT NOT NULL,
			expires_at    TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source, external_ref)
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id, created_at);

		CREATE TABLE IF NOT EXISTS processed_events (
			source       TEXT NOT NULL,
			external_ref TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (source, external_ref)
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                   TEXT PRIMARY KEY,
			account_id           TEXT NOT NULL REFERENCES accounts(id),
			provider             TEXT NOT NULL,
			provider_sub_id      TEXT NOT NULL,
			plan                 TEXT NOT NULL,
			status               TEXT NOT NULL DEFAULT 'pending',
			current_period_start TIMESTAMPTZ NOT NULL,
			current_period_end   TIMESTAMPTZ NOT NULL,
			credits_per_period   BIGINT NOT NULL,
			rollover             BOOLEAN NOT NULL DEFAULT FALSE,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (provider, provider_sub_id)
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_account ON subscriptions(account_id);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_due ON subscriptions(status, current_period_end);

		CREATE TABLE IF NOT EXISTS orders (
			id           TEXT PRIMARY KEY,
			account_id   TEXT NOT NULL REFERENCES accounts(id),
			kind         TEXT NOT NULL,
			pack_id      TEXT NOT NULL DEFAULT '',
			plan_id      TEXT NOT NULL DEFAULT '',
			credits      BIGINT NOT NULL DEFAULT 0,
			amount_cents BIGINT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, created_at);

		CREATE TABLE IF NOT EXISTS usage_events (
			id          BIGSERIAL PRIMARY KEY,
			key         TEXT NOT NULL,
			category    TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_usage_events_lookup ON usage_events(key, category, occurred_at);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
