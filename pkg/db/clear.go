package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearProcessed removes every recorded correlation id. Requests still
// visible on a non-deleting carrier become eligible for execution again.
func ClearProcessed(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing processed requests", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE relay_processed`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Processed requests cleared", clearLogPrefix))
	return nil
}
