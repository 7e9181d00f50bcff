package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const processedLogPrefix = "db:processed"

// ProcessedRepository stores handled correlation ids in relay_processed.
type ProcessedRepository struct {
	pool *pgxpool.Pool
}

// NewProcessedRepository creates a new ProcessedRepository with the given connection pool.
func NewProcessedRepository(pool *pgxpool.Pool) *ProcessedRepository {
	return &ProcessedRepository{pool: pool}
}

// Contains reports whether correlationID was recorded.
func (r *ProcessedRepository) Contains(ctx context.Context, correlationID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM relay_processed WHERE correlation_id = $1)`, correlationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s - lookup %s: %w", processedLogPrefix, correlationID, err)
	}
	return exists, nil
}

// Add records correlationID. Recording an id twice is not an error.
func (r *ProcessedRepository) Add(ctx context.Context, correlationID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO relay_processed (correlation_id) VALUES ($1) ON CONFLICT (correlation_id) DO NOTHING`, correlationID)
	if err != nil {
		return fmt.Errorf("%s - insert %s: %w", processedLogPrefix, correlationID, err)
	}
	return nil
}

// Prune deletes ids recorded before olderThan and returns how many were removed.
func (r *ProcessedRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM relay_processed WHERE processed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("%s - prune: %w", processedLogPrefix, err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		slog.Info(fmt.Sprintf("%s - Pruned %d processed ids older than %s", processedLogPrefix, n, olderThan.Format(time.RFC3339)))
	}
	return n, nil
}

// Count returns the number of recorded ids.
func (r *ProcessedRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM relay_processed`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s - count: %w", processedLogPrefix, err)
	}
	return n, nil
}
