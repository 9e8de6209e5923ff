package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/credithub/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository is the PostgreSQL implementation of LedgerStore. Every
// append runs as one transaction with a row lock on the target account, so
// concurrent writes to the same account serialize while different accounts
// proceed in parallel.
type LedgerRepository struct {
	db *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append applies one balance-affecting event atomically: the processed-event
// record, the ledger entry (or two, for a replace-renewal) and the
// materialized balance update succeed or fail together.
func (r *LedgerRepository) Append(ctx context.Context, req AppendRequest) (domain.AppendResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.AppendResult{}, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the account row. All concurrent appends for this account queue
	// here; nothing slow may happen after this point.
	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, req.AccountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AppendResult{}, domain.ErrAccountNotFound
		}
		return domain.AppendResult{}, fmt.Errorf("failed to lock account: %w", err)
	}

	// Claim the idempotency key inside the same transaction. A duplicate is
	// not an error: report the balance the original apply produced.
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (source, external_ref)
		VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, req.Source, req.ExternalRef)
	if err != nil {
		return domain.AppendResult{}, fmt.Errorf("failed to claim processed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var priorBalance int64
		err = tx.QueryRow(ctx, `
			SELECT balance_after FROM ledger_entries
			WHERE source = $1 AND external_ref = $2
		`, req.Source, req.ExternalRef).Scan(&priorBalance)
		if err != nil {
			return domain.AppendResult{}, fmt.Errorf("failed to load prior entry: %w", err)
		}
		return domain.AppendResult{NewBalance: priorBalance, Duplicate: true}, nil
	}

	now := time.Now()

	if req.ResetAmount > 0 && balance > 0 {
		reset := req.ResetAmount
		if reset > balance {
			reset = balance
		}
		resetID := uuid.New().String()
		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_entries (id, account_id, amount, kind, source, external_ref, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, resetID, req.AccountID, -reset, domain.KindSubscriptionRenewal, req.Source, req.ExternalRef+":reset", balance-reset, now)
		if err != nil {
			return domain.AppendResult{}, fmt.Errorf("failed to insert reset entry: %w", err)
		}
		balance -= reset
	}

	amount := req.Amount
	if req.ClampToZero && balance+amount < 0 {
		amount = -balance
	}

	newBalance := balance + amount
	if newBalance < 0 {
		// Rolling back also releases the processed-event claim, so a later
		// retry of the same key can succeed once funds exist.
		return domain.AppendResult{}, &domain.InsufficientCreditsError{
			Balance:   balance,
			Shortfall: -newBalance,
		}
	}

	entryID := uuid.New().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, kind, source, external_ref, balance_after, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entryID, req.AccountID, amount, req.Kind, req.Source, req.ExternalRef, newBalance, req.ExpiresAt, now)
	if err != nil {
		return domain.AppendResult{}, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`, newBalance, req.AccountID)
	if err != nil {
		return domain.AppendResult{}, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AppendResult{}, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}

	return domain.AppendResult{NewBalance: newBalance, EntryID: entryID}, nil
}

// Balance returns the materialized balance for an account.
func (r *LedgerRepository) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrAccountNotFound
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// EntriesByAccount returns the most recent ledger entries for an account.
func (r *LedgerRepository) EntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, amount, kind, source, external_ref, balance_after, expires_at, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.Source, &e.ExternalRef, &e.BalanceAfter, &e.ExpiresAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SpentSince returns total credits debited for real spends since the given
// time. Zero-amount admin audit entries do not contribute.
func (r *LedgerRepository) SpentSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	var spent int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(-SUM(amount), 0) FROM ledger_entries
		WHERE account_id = $1 AND kind = $2 AND created_at >= $3
	`, accountID, domain.KindSpend, since).Scan(&spent)
	if err != nil {
		return 0, fmt.Errorf("failed to sum spends: %w", err)
	}
	return spent, nil
}

// ExpiredPromotional returns promotional credit entries past their expiry
// that have not yet been offset by a promo_expiry debit.
func (r *LedgerRepository) ExpiredPromotional(ctx context.Context, now time.Time) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.account_id, e.amount, e.kind, e.source, e.external_ref, e.balance_after, e.expires_at, e.created_at
		FROM ledger_entries e
		WHERE e.expires_at IS NOT NULL AND e.expires_at <= $1 AND e.amount > 0
		  AND NOT EXISTS (
			SELECT 1 FROM ledger_entries x
			WHERE x.source = $2 AND x.external_ref = 'expire:' || e.id
		  )
	`, now, domain.SourceSystem)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired promotional entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.Source, &e.ExternalRef, &e.BalanceAfter, &e.ExpiresAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
