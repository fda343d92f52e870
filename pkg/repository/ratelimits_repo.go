package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/plazadir/gatekeeper/pkg/domain"
)

// RateLimitsRepository persists per-key counters in Postgres. Each
// operation is a single INSERT ... ON CONFLICT upsert, so concurrent
// callers for the same key serialize on the row and can never both be
// admitted past the limit.
type RateLimitsRepository struct {
	db *sql.DB
}

func NewRateLimitsRepository(db *sql.DB) *RateLimitsRepository {
	return &RateLimitsRepository{db: db}
}

func (r *RateLimitsRepository) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (*domain.RateLimitRecord, error) {
	// windowFloor marks the oldest window_start still current; anything
	// at or before it has lapsed and resets to a fresh window.
	windowFloor := now.Add(-window)

	query := `
		INSERT INTO rate_limits (key, count, window_start, failed_attempts)
		VALUES ($1, 1, $2, 0)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE
				WHEN rate_limits.window_start <= $3 THEN 1
				ELSE rate_limits.count + 1
			END,
			window_start = CASE
				WHEN rate_limits.window_start <= $3 THEN $2
				ELSE rate_limits.window_start
			END
		RETURNING count, window_start, failed_attempts, blocked_until
	`
	return r.scan(key, r.db.QueryRowContext(ctx, query, key, now, windowFloor))
}

func (r *RateLimitsRepository) RecordFailure(ctx context.Context, key string, now time.Time, maxFailures int, blockFor time.Duration) (*domain.RateLimitRecord, error) {
	blockedUntil := now.Add(blockFor)

	query := `
		INSERT INTO rate_limits (key, count, window_start, failed_attempts, blocked_until)
		VALUES ($1, 0, $2, 1, CASE WHEN 1 >= $3 THEN $4 END)
		ON CONFLICT (key) DO UPDATE SET
			failed_attempts = rate_limits.failed_attempts + 1,
			blocked_until = CASE
				WHEN rate_limits.failed_attempts + 1 >= $3 THEN $4
				ELSE rate_limits.blocked_until
			END
		RETURNING count, window_start, failed_attempts, blocked_until
	`
	return r.scan(key, r.db.QueryRowContext(ctx, query, key, now, maxFailures, blockedUntil))
}

func (r *RateLimitsRepository) ClearFailures(ctx context.Context, key string) error {
	query := `
		UPDATE rate_limits
		SET failed_attempts = 0, blocked_until = NULL
		WHERE key = $1
	`
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("clear failures: %w", err)
	}
	return nil
}

// DeleteStale removes counter rows idle past the retention cutoff.
func (r *RateLimitsRepository) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		DELETE FROM rate_limits
		WHERE window_start < $1 AND (blocked_until IS NULL OR blocked_until < $1)
	`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limits: %w", err)
	}
	return result.RowsAffected()
}

func (r *RateLimitsRepository) scan(key string, row *sql.Row) (*domain.RateLimitRecord, error) {
	record := &domain.RateLimitRecord{Key: key}
	var blockedUntil sql.NullTime

	err := row.Scan(&record.Count, &record.WindowStart, &record.FailedAttempts, &blockedUntil)
	if err != nil {
		return nil, fmt.Errorf("upsert rate limit %q: %w", key, err)
	}
	if blockedUntil.Valid {
		record.BlockedUntil = &blockedUntil.Time
	}
	return record, nil
}
