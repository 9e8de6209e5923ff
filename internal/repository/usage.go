package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository implements the advisory rate/usage tracker on PostgreSQL.
// It records occurrences and counts them inside a sliding window. Stale rows
// are purged opportunistically by the scheduler, never on the hot path.
type UsageRepository struct {
	db *pgxpool.Pool
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

// RecordAndCheck records one occurrence and reports whether the count within
// the window (including this occurrence) is at or under max.
func (r *UsageRepository) RecordAndCheck(ctx context.Context, key, category string, window time.Duration, max int) (bool, int, error) {
	_, err := r.db.Exec(ctx, `INSERT INTO usage_events (key, category) VALUES ($1, $2)`, key, category)
	if err != nil {
		return false, 0, fmt.Errorf("failed to record usage: %w", err)
	}

	since := time.Now().Add(-window)
	var count int
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM usage_events
		WHERE key = $1 AND category = $2 AND occurred_at >= $3
	`, key, category, since).Scan(&count)
	if err != nil {
		return false, 0, fmt.Errorf("failed to count usage: %w", err)
	}

	return count <= max, count, nil
}

// Purge deletes usage rows older than the retention horizon.
func (r *UsageRepository) Purge(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	_, err := r.db.Exec(ctx, `DELETE FROM usage_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge usage events: %w", err)
	}
	return nil
}
